package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	xerrors "ZK-Intent-Fusion/internal/errors"
)

// Parser 将自然语言描述转换为结构化意图。
type Parser interface {
	Parse(ctx context.Context, text, user string) (*Intent, error)
}

const (
	defaultDurationDays = 90
	defaultMaxGasUSD    = 15.0
)

// GasBaseUSD 是把百分比 gas 容忍度换算为美元上限时使用的基数。
const GasBaseUSD = 500.0

var gasPattern = regexp.MustCompile(`(\d+)%?\s*gas`)

// RuleParser 基于关键字规则解析意图。
type RuleParser struct {
	now      func() time.Time
	basket   []TokenSpec
	fallback Strategy
}

// ParserOption 定义 RuleParser 的可选配置。
type ParserOption func(*RuleParser)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) ParserOption {
	return func(p *RuleParser) {
		if now != nil {
			p.now = now
		}
	}
}

// WithBasket 指定意图默认携带的代币篮子。
func WithBasket(tokens []TokenSpec) ParserOption {
	return func(p *RuleParser) {
		if len(tokens) > 0 {
			p.basket = append([]TokenSpec(nil), tokens...)
		}
	}
}

// WithDefaultStrategy 指定文本未提及策略时使用的策略。
func WithDefaultStrategy(s Strategy) ParserOption {
	return func(p *RuleParser) {
		if s.Known() {
			p.fallback = s
		}
	}
}

// NewRuleParser 创建规则解析器。
func NewRuleParser(opts ...ParserOption) *RuleParser {
	p := &RuleParser{
		now:      time.Now,
		fallback: StrategyBalanced,
		basket: []TokenSpec{
			{Symbol: "USDC", Chain: "arbitrum", Amount: 250},
			{Symbol: "USDT", Chain: "polygon", Amount: 250},
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Parse 实现 Parser 接口。
func (p *RuleParser) Parse(ctx context.Context, text, user string) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "intent text is empty", xerrors.WithMetadata("field", "text"))
	}

	tokens := append([]TokenSpec(nil), p.basket...)
	total := 0.0
	for _, token := range tokens {
		total += token.Amount
	}

	in := &Intent{
		User:          strings.TrimSpace(user),
		Action:        detectAction(lower),
		Tokens:        tokens,
		TotalValueUSD: total,
		DurationDays:  detectDuration(lower),
		Strategy:      detectStrategy(lower, p.fallback),
		MaxGasUSD:     detectMaxGas(lower),
		Timestamp:     p.now().Unix(),
	}
	if err := in.Seal(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInternal, err, "seal intent")
	}
	return in, nil
}

func detectAction(text string) Action {
	switch {
	case containsAny(text, "yield", "farm", "lend"):
		return ActionYieldFarm
	case containsAny(text, "swap", "exchange"):
		return ActionSwap
	case strings.Contains(text, "bridge"):
		return ActionBridge
	case strings.Contains(text, "liquidity") || hasWord(text, "lp"):
		return ActionLiquidity
	default:
		return ActionYieldFarm
	}
}

func detectStrategy(text string, fallback Strategy) Strategy {
	switch {
	case containsAny(text, "highest apy", "maximum return"):
		return StrategyHighestAPY
	case containsAny(text, "lowest gas", "cheapest"):
		return StrategyLowestGas
	case containsAny(text, "safest", "secure"):
		return StrategySafest
	default:
		return fallback
	}
}

func detectDuration(text string) int {
	if !strings.Contains(text, "month") {
		return defaultDurationDays
	}
	switch {
	case strings.Contains(text, "1 month"):
		return 30
	case strings.Contains(text, "6 month"):
		return 180
	case containsAny(text, "year", "12 month"):
		return 365
	default:
		return defaultDurationDays
	}
}

// detectMaxGas 把 "3% gas" 这类容忍度换算为以 500 美元为基数的上限。
func detectMaxGas(text string) float64 {
	match := gasPattern.FindStringSubmatch(text)
	if len(match) != 2 {
		return defaultMaxGasUSD
	}
	pct, err := strconv.Atoi(match[1])
	if err != nil {
		return defaultMaxGasUSD
	}
	return GasBaseUSD * float64(pct) / 100
}

func containsAny(text string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

func hasWord(text, word string) bool {
	for _, field := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if field == word {
			return true
		}
	}
	return false
}
