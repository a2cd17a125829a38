package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	xerrors "ZK-Intent-Fusion/internal/errors"
)

// CodeRateLimited 表示调用方超出了限流额度。
const CodeRateLimited xerrors.Code = "RATE_LIMITED"

// CodeBadRequest 表示请求体或参数无法解析。
const CodeBadRequest xerrors.Code = "BAD_REQUEST"

// CodeUnauthenticated 表示缺少或无法识别访问令牌。
const CodeUnauthenticated xerrors.Code = "UNAUTHENTICATED"

// CodeForbidden 表示令牌有效但权限不足或已停用。
const CodeForbidden xerrors.Code = "FORBIDDEN"

// KindRateLimited 是限流错误的对外种类。
const KindRateLimited xerrors.Kind = "RateLimitError"

// KindAuth 是认证与授权失败的对外种类。
const KindAuth xerrors.Kind = "AuthError"

func init() {
	xerrors.Register(CodeRateLimited, xerrors.Attributes{
		Message:   "too many requests",
		Kind:      KindRateLimited,
		Class:     xerrors.ClassClient,
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
	})
	xerrors.Register(CodeUnauthenticated, xerrors.Attributes{
		Message:  "authentication required",
		Kind:     KindAuth,
		Class:    xerrors.ClassClient,
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeForbidden, xerrors.Attributes{
		Message:  "permission denied",
		Kind:     KindAuth,
		Class:    xerrors.ClassClient,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeBadRequest, xerrors.Attributes{
		Message:  "malformed request",
		Kind:     xerrors.KindValidation,
		Class:    xerrors.ClassClient,
		Severity: xerrors.SeverityInfo,
	})
}

// ErrorBody 是失败响应中的 error 字段。
type ErrorBody struct {
	Code           xerrors.Code      `json:"code"`
	Kind           xerrors.Kind      `json:"kind"`
	Message        string            `json:"message"`
	Classification xerrors.Class     `json:"classification"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

// Classify 把错误映射为 HTTP 状态码与归属。
func Classify(err error) (int, xerrors.Class) {
	switch xerrors.CodeOf(err) {
	case CodeRateLimited:
		return http.StatusTooManyRequests, xerrors.ClassClient
	case CodeUnauthenticated:
		return http.StatusUnauthorized, xerrors.ClassClient
	case CodeForbidden:
		return http.StatusForbidden, xerrors.ClassClient
	}
	class := xerrors.ClassOf(err)
	switch xerrors.KindOf(err) {
	case xerrors.KindValidation:
		return http.StatusBadRequest, class
	case xerrors.KindNotFound:
		return http.StatusNotFound, class
	case xerrors.KindSequence, xerrors.KindConflict:
		return http.StatusConflict, class
	case xerrors.KindNoAdmissibleBid:
		return http.StatusUnprocessableEntity, class
	default:
		return http.StatusInternalServerError, xerrors.ClassServer
	}
}

func describe(err error) ErrorBody {
	status, class := Classify(err)
	body := ErrorBody{
		Code:           xerrors.CodeOf(err),
		Kind:           xerrors.KindOf(err),
		Classification: class,
	}
	if typed, ok := xerrors.From(err); ok {
		body.Message = typed.Message()
		body.Metadata = typed.Metadata()
	}
	if body.Message == "" {
		body.Message = xerrors.AttributesOf(body.Code).Message
	}
	// 服务端错误不向调用方暴露底层原因。
	if status >= http.StatusInternalServerError && body.Code == xerrors.CodeUnknown {
		body.Message = http.StatusText(status)
	}
	return body
}

func writeError(w http.ResponseWriter, err error) {
	status, _ := Classify(err)
	switch xerrors.CodeOf(err) {
	case CodeRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	case CodeUnauthenticated:
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, errorResponse{Error: describe(err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
