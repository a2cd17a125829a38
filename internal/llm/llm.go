package llm

import "context"

// Request 描述发送给大模型的一次补全请求。
// JSON 要求提供方以 JSON 对象作答。
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	JSON        bool
}

// Response 是大模型返回的原始文本，已去除 markdown 代码块包裹。
type Response struct {
	Content string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
