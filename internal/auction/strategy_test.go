package auction

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	xerrors "ZK-Intent-Fusion/internal/errors"
	"ZK-Intent-Fusion/internal/intent"
)

func scenarioBids() []Bid {
	return []Bid{
		{Solver: "0xSolverX", Proof: "0xproof_X", ClaimedAPY: 132, ClaimedGasUSD: 15.0, Valid: true},
		{Solver: "0xSolverY", Proof: "0xproof_Y", ClaimedAPY: 121, ClaimedGasUSD: 11.0, Valid: true},
	}
}

func TestSelectStrategies(t *testing.T) {
	cases := []struct {
		strategy intent.Strategy
		want     string
	}{
		{intent.StrategyHighestAPY, "0xSolverX"},
		{intent.StrategySafest, "0xSolverX"},
		{intent.StrategyBalanced, "0xSolverY"},
		{intent.StrategyLowestGas, "0xSolverY"},
		{intent.Strategy("mystery"), "0xSolverX"},
	}
	for _, tc := range cases {
		got, err := Select(scenarioBids(), tc.strategy)
		if err != nil {
			t.Fatalf("%s: %v", tc.strategy, err)
		}
		if got.Solver != tc.want {
			t.Fatalf("%s: winner %s, want %s", tc.strategy, got.Solver, tc.want)
		}
	}
}

func TestSelectTieBreaks(t *testing.T) {
	bids := []Bid{
		{Solver: "b", ClaimedAPY: 100, ClaimedGasUSD: 9},
		{Solver: "a", ClaimedAPY: 100, ClaimedGasUSD: 10},
		{Solver: "c", ClaimedAPY: 100, ClaimedGasUSD: 9},
	}
	got, _ := Select(bids, intent.StrategyHighestAPY)
	if got.Solver != "b" {
		t.Fatalf("highest_apy tie should prefer lower gas then solver id, got %s", got.Solver)
	}

	got, _ = Select([]Bid{
		{Solver: "a", ClaimedAPY: 90, ClaimedGasUSD: 5},
		{Solver: "b", ClaimedAPY: 120, ClaimedGasUSD: 5},
	}, intent.StrategyLowestGas)
	if got.Solver != "b" {
		t.Fatalf("lowest_gas tie should prefer higher apy, got %s", got.Solver)
	}
}

func TestBalancedZeroGasIsUnbounded(t *testing.T) {
	bids := []Bid{
		{Solver: "a", ClaimedAPY: 50000, ClaimedGasUSD: 0.01},
		{Solver: "free", ClaimedAPY: 1, ClaimedGasUSD: 0},
		{Solver: "nothing", ClaimedAPY: 0, ClaimedGasUSD: 0},
	}
	got, _ := Select(bids, intent.StrategyBalanced)
	if got.Solver != "free" {
		t.Fatalf("zero gas with positive apy must win balanced, got %s", got.Solver)
	}
}

func TestSelectEmpty(t *testing.T) {
	if _, err := Select(nil, intent.StrategyBalanced); xerrors.CodeOf(err) != xerrors.CodeNoAdmissibleBids {
		t.Fatalf("expected empty bid set error, got %v", err)
	}
}

func genBids() gopter.Gen {
	return gen.SliceOfN(6, gen.Struct(reflect.TypeOf(Bid{}), map[string]gopter.Gen{
		"Solver":        gen.OneConstOf("s1", "s2", "s3", "s4"),
		"ClaimedAPY":    gen.IntRange(0, 500),
		"ClaimedGasUSD": gen.Float64Range(0, 30),
	}))
}

func TestSelectProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	strategies := []intent.Strategy{intent.StrategyHighestAPY, intent.StrategyLowestGas, intent.StrategyBalanced}

	properties.Property("winner does not depend on input order", prop.ForAll(
		func(bids []Bid, seed int64) bool {
			shuffled := append([]Bid(nil), bids...)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			for _, s := range strategies {
				a, _ := Select(bids, s)
				b, _ := Select(shuffled, s)
				if a.Solver != b.Solver || a.ClaimedAPY != b.ClaimedAPY || a.ClaimedGasUSD != b.ClaimedGasUSD {
					return false
				}
			}
			return true
		},
		genBids(), gen.Int64(),
	))

	properties.Property("highest_apy returns the maximal apy", prop.ForAll(
		func(bids []Bid) bool {
			winner, err := Select(bids, intent.StrategyHighestAPY)
			if err != nil {
				return false
			}
			for _, b := range bids {
				if b.ClaimedAPY > winner.ClaimedAPY {
					return false
				}
				if b.ClaimedAPY == winner.ClaimedAPY && b.ClaimedGasUSD < winner.ClaimedGasUSD {
					return false
				}
			}
			return true
		},
		genBids(),
	))

	properties.Property("balanced returns the maximal apy/gas ratio", prop.ForAll(
		func(bids []Bid) bool {
			winner, err := Select(bids, intent.StrategyBalanced)
			if err != nil {
				return false
			}
			for _, b := range bids {
				if ratio(b) > ratio(winner) {
					return false
				}
			}
			return true
		},
		genBids(),
	))

	properties.TestingRun(t)
}
