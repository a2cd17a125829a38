package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/pkg/logger"
)

const intentTemperature = 0.3

const intentSystemPrompt = "" +
	"You extract DeFi intents from user text. " +
	"Respond with a single JSON object and nothing else: " +
	"{\"action\": \"yield_farm\"|\"swap\"|\"bridge\"|\"liquidity_provision\", " +
	"\"strategy\": \"highest_apy\"|\"lowest_gas\"|\"balanced\"|\"safest\", " +
	"\"duration_days\": integer, \"max_gas_pct\": number}. " +
	"Omit a field when the text does not mention it."

// IntentFields 是模型被要求返回的字段，缺省字段沿用规则解析结果。
type IntentFields struct {
	Action       string  `json:"action"`
	Strategy     string  `json:"strategy"`
	DurationDays int     `json:"duration_days"`
	MaxGasPct    float64 `json:"max_gas_pct"`
}

// IntentParser 先用规则得到完整意图，再用模型输出覆盖能识别的字段。
type IntentParser struct {
	client   Client
	fallback intent.Parser
}

// NewIntentParser 创建模型辅助的解析器，fallback 为空时使用默认规则解析器。
func NewIntentParser(client Client, fallback intent.Parser) *IntentParser {
	if fallback == nil {
		fallback = intent.NewRuleParser()
	}
	return &IntentParser{client: client, fallback: fallback}
}

// Parse 实现 intent.Parser 接口。
func (p *IntentParser) Parse(ctx context.Context, text, user string) (*intent.Intent, error) {
	base, err := p.fallback.Parse(ctx, text, user)
	if err != nil {
		return nil, err
	}
	if p.client == nil {
		return base, nil
	}

	log := logger.Named("llm")
	resp, err := p.client.Generate(ctx, Request{
		System:      intentSystemPrompt,
		Prompt:      strings.TrimSpace(text),
		Temperature: intentTemperature,
		JSON:        true,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn("模型解析失败，使用规则结果", slog.Any("error", err))
		return base, nil
	}

	var fields IntentFields
	if err := json.Unmarshal([]byte(resp.Content), &fields); err != nil {
		log.Warn("模型输出不是合法 JSON，使用规则结果", slog.Any("error", err))
		return base, nil
	}

	refined, changed := Apply(base, fields)
	if !changed {
		return base, nil
	}
	if err := refined.Seal(); err != nil {
		log.Warn("重新计算承诺失败，使用规则结果", slog.Any("error", err))
		return base, nil
	}
	log.Debug("模型修正了意图字段",
		slog.String("action", string(refined.Action)),
		slog.String("strategy", string(refined.Strategy)),
		slog.Int("duration_days", refined.DurationDays),
		slog.String("max_gas_usd", fmt.Sprintf("%.2f", refined.MaxGasUSD)),
	)
	return refined, nil
}

// Apply 把合法的模型字段写入意图副本，非法或缺省的字段被忽略。
func Apply(base *intent.Intent, fields IntentFields) (*intent.Intent, bool) {
	out := base.Clone()
	changed := false

	if action := intent.Action(strings.ToLower(strings.TrimSpace(fields.Action))); action.Valid() && action != out.Action {
		out.Action = action
		changed = true
	}
	if strings.TrimSpace(fields.Strategy) != "" {
		if strategy, err := intent.ParseStrategy(fields.Strategy); err == nil && strategy != out.Strategy {
			out.Strategy = strategy
			changed = true
		}
	}
	if fields.DurationDays >= 1 && fields.DurationDays <= intent.MaxDurationDays && fields.DurationDays != out.DurationDays {
		out.DurationDays = fields.DurationDays
		changed = true
	}
	if fields.MaxGasPct > 0 && fields.MaxGasPct <= 100 {
		gas := intent.GasBaseUSD * fields.MaxGasPct / 100
		if gas != out.MaxGasUSD {
			out.MaxGasUSD = gas
			changed = true
		}
	}
	return out, changed
}
