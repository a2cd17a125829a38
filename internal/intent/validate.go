package intent

import (
	"fmt"
	"strings"

	xerrors "ZK-Intent-Fusion/internal/errors"
)

// MaxDurationDays 是意图允许的最长期限。
const MaxDurationDays = 365

// Validator 校验意图字段。
type Validator interface {
	Validate(in *Intent) error
}

// ValidatorFunc 允许普通函数充当 Validator。
type ValidatorFunc func(in *Intent) error

// Validate 实现 Validator 接口。
func (f ValidatorFunc) Validate(in *Intent) error { return f(in) }

// DefaultValidator 使用内置规则。
var DefaultValidator Validator = ValidatorFunc(Validate)

// Validate 逐项检查意图，第一个不合法的字段会出现在错误元数据中。
func Validate(in *Intent) error {
	if in == nil {
		return invalid("intent", "intent is required")
	}
	if !strings.HasPrefix(in.User, "0x") || len(in.User) < 3 {
		return invalid("user", "user must be a 0x-prefixed address")
	}
	if !in.Action.Valid() {
		return invalid("action", fmt.Sprintf("unsupported action %q", in.Action))
	}
	if len(in.Tokens) == 0 {
		return invalid("tokens", "at least one token is required")
	}
	for idx, token := range in.Tokens {
		if strings.TrimSpace(token.Chain) == "" {
			return invalid("tokens", fmt.Sprintf("token %d has no chain", idx))
		}
		if token.Amount <= 0 {
			return invalid("tokens", fmt.Sprintf("token %d amount must be positive", idx))
		}
	}
	if in.TotalValueUSD <= 0 {
		return invalid("total_value_usd", "total value must be positive")
	}
	if in.DurationDays < 1 || in.DurationDays > MaxDurationDays {
		return invalid("duration_days", fmt.Sprintf("duration must be between 1 and %d days", MaxDurationDays))
	}
	if in.MaxGasUSD < 0 {
		return invalid("max_gas_usd", "max gas cannot be negative")
	}
	if !in.Strategy.Known() {
		return invalid("strategy", fmt.Sprintf("unknown strategy %q", in.Strategy))
	}
	expected, err := ComputeCommitment(in)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "commitment cannot be derived", xerrors.WithMetadata("field", "commitment"))
	}
	if in.Commitment != expected {
		return invalid("commitment", "commitment does not match intent fields")
	}
	return nil
}

func invalid(field, reason string) error {
	return xerrors.New(xerrors.CodeValidation, reason, xerrors.WithMetadata("field", field))
}
