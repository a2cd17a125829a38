package intent

import (
	"fmt"
	"reflect"
	"strings"

	xerrors "ZK-Intent-Fusion/internal/errors"
)

// Action 表示用户意图的动作类型。
type Action string

const (
	ActionYieldFarm Action = "yield_farm"
	ActionSwap      Action = "swap"
	ActionBridge    Action = "bridge"
	ActionLiquidity Action = "liquidity_provision"
)

// Valid 判断动作是否受支持。
func (a Action) Valid() bool {
	switch a {
	case ActionYieldFarm, ActionSwap, ActionBridge, ActionLiquidity:
		return true
	}
	return false
}

// Strategy 是竞价胜出者的排序目标。
type Strategy string

const (
	StrategyHighestAPY Strategy = "highest_apy"
	StrategyLowestGas  Strategy = "lowest_gas"
	StrategyBalanced   Strategy = "balanced"
	// StrategySafest 没有独立的目标函数，排序时按 highest_apy 处理。
	StrategySafest Strategy = "safest"
)

// Known 判断策略名称是否在枚举内。
func (s Strategy) Known() bool {
	switch s {
	case StrategyHighestAPY, StrategyLowestGas, StrategyBalanced, StrategySafest:
		return true
	}
	return false
}

// ParseStrategy 将外部输入转换为策略枚举，未知名称直接拒绝。
func ParseStrategy(raw string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Known() {
		return "", xerrors.New(xerrors.CodeValidation, fmt.Sprintf("unknown strategy %q", raw),
			xerrors.WithMetadata("field", "strategy"))
	}
	return s, nil
}

// TokenSpec 描述意图涉及的单个资产。
type TokenSpec struct {
	Symbol  string  `json:"symbol"`
	Chain   string  `json:"chain"`
	Amount  float64 `json:"amount"`
	Address string  `json:"address,omitempty"`
}

// Intent 是提交后不可变的用户意图。
type Intent struct {
	User          string      `json:"user"`
	Action        Action      `json:"action"`
	Tokens        []TokenSpec `json:"tokens"`
	TotalValueUSD float64     `json:"total_value_usd"`
	DurationDays  int         `json:"duration_days"`
	Strategy      Strategy    `json:"strategy"`
	MaxGasUSD     float64     `json:"max_gas_usd"`
	Timestamp     int64       `json:"timestamp"`
	Commitment    string      `json:"commitment"`
}

// Clone 返回意图的深拷贝。
func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	clone := *i
	if i.Tokens != nil {
		clone.Tokens = append([]TokenSpec(nil), i.Tokens...)
	}
	return &clone
}

// Equal 比较两个意图的全部字段。
func (i *Intent) Equal(other *Intent) bool {
	if i == nil || other == nil {
		return i == other
	}
	return reflect.DeepEqual(i, other)
}

// Seal 计算并写入承诺值。
func (i *Intent) Seal() error {
	commitment, err := ComputeCommitment(i)
	if err != nil {
		return err
	}
	i.Commitment = commitment
	return nil
}
