package auction

import (
	"cmp"
	"log/slog"
	"math"
	"slices"
	"strings"

	xerrors "ZK-Intent-Fusion/internal/errors"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/pkg/logger"
)

// ErrEmptyBidSet 表示候选报价为空。
var ErrEmptyBidSet = xerrors.New(xerrors.CodeNoAdmissibleBids, "empty bid set")

// Comparator 返回负数表示 a 优于 b。
type Comparator func(a, b Bid) int

var comparators = map[intent.Strategy]Comparator{
	intent.StrategyHighestAPY: byHighestAPY,
	intent.StrategyLowestGas:  byLowestGas,
	intent.StrategyBalanced:   byBalanced,
	intent.StrategySafest:     byHighestAPY,
}

// Resolve 返回策略对应的比较器，第二个返回值表示是否发生了回退。
func Resolve(strategy intent.Strategy) (Comparator, bool) {
	if cmpFn, ok := comparators[strategy]; ok {
		return cmpFn, false
	}
	return byHighestAPY, true
}

// Select 在准入报价中挑选胜出者。结果只取决于报价内容与策略，与输入顺序无关。
func Select(admissible []Bid, strategy intent.Strategy) (Bid, error) {
	if len(admissible) == 0 {
		return Bid{}, ErrEmptyBidSet
	}
	compare, fallback := Resolve(strategy)
	if fallback {
		logger.Named("auction").Warn("未知的选择策略，回退到 highest_apy",
			slog.String("strategy", string(strategy)))
	}
	winner := slices.MinFunc(admissible, func(a, b Bid) int {
		if c := compare(a, b); c != 0 {
			return c
		}
		return tieBreak(a, b)
	})
	return winner.Clone(), nil
}

func byHighestAPY(a, b Bid) int {
	if c := cmp.Compare(b.ClaimedAPY, a.ClaimedAPY); c != 0 {
		return c
	}
	return cmp.Compare(a.ClaimedGasUSD, b.ClaimedGasUSD)
}

func byLowestGas(a, b Bid) int {
	if c := cmp.Compare(a.ClaimedGasUSD, b.ClaimedGasUSD); c != 0 {
		return c
	}
	return cmp.Compare(b.ClaimedAPY, a.ClaimedAPY)
}

func byBalanced(a, b Bid) int {
	if c := cmp.Compare(ratio(b), ratio(a)); c != 0 {
		return c
	}
	return byHighestAPY(a, b)
}

// ratio 计算 APY/gas；gas 为 0 且 APY 为正时视为无穷大。
func ratio(b Bid) float64 {
	apy := float64(b.ClaimedAPY)
	if b.ClaimedGasUSD <= 0 {
		if apy > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return apy / b.ClaimedGasUSD
}

func tieBreak(a, b Bid) int {
	if c := strings.Compare(a.Solver, b.Solver); c != 0 {
		return c
	}
	if c := strings.Compare(a.Proof, b.Proof); c != 0 {
		return c
	}
	return cmp.Compare(a.Timestamp, b.Timestamp)
}
