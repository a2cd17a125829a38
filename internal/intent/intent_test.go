package intent

import (
	"context"
	"testing"
	"time"

	xerrors "ZK-Intent-Fusion/internal/errors"
)

func fixedClock() time.Time { return time.Unix(1_700_000_000, 0) }

func sampleIntent(t *testing.T) *Intent {
	t.Helper()
	in := &Intent{
		User:          "0xabc0000000000000000000000000000000000001",
		Action:        ActionYieldFarm,
		Tokens:        []TokenSpec{{Symbol: "USDC", Chain: "arbitrum", Amount: 500}},
		TotalValueUSD: 500,
		DurationDays:  90,
		Strategy:      StrategyHighestAPY,
		MaxGasUSD:     15,
		Timestamp:     1_700_000_000,
	}
	if err := in.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return in
}

func TestCommitmentIgnoresNonEconomicFields(t *testing.T) {
	a := sampleIntent(t)
	b := a.Clone()
	b.User = "0xdef"
	b.Strategy = StrategyBalanced
	b.Tokens = []TokenSpec{{Symbol: "DAI", Chain: "base", Amount: 1}}

	ca, err := ComputeCommitment(a)
	if err != nil {
		t.Fatalf("commit a: %v", err)
	}
	cb, err := ComputeCommitment(b)
	if err != nil {
		t.Fatalf("commit b: %v", err)
	}
	if ca != cb {
		t.Fatalf("commitments differ: %s vs %s", ca, cb)
	}
	if !ValidCommitment(ca) {
		t.Fatalf("commitment has unexpected format: %s", ca)
	}

	b.MaxGasUSD = 16
	cc, _ := ComputeCommitment(b)
	if cc == ca {
		t.Fatalf("changing max gas must change the commitment")
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name  string
		field string
		edit  func(*Intent)
	}{
		{"user", "user", func(i *Intent) { i.User = "abc" }},
		{"action", "action", func(i *Intent) { i.Action = "stake" }},
		{"no tokens", "tokens", func(i *Intent) { i.Tokens = nil }},
		{"token chain", "tokens", func(i *Intent) { i.Tokens[0].Chain = "" }},
		{"token amount", "tokens", func(i *Intent) { i.Tokens[0].Amount = 0 }},
		{"total", "total_value_usd", func(i *Intent) { i.TotalValueUSD = 0 }},
		{"duration low", "duration_days", func(i *Intent) { i.DurationDays = 0 }},
		{"duration high", "duration_days", func(i *Intent) { i.DurationDays = 366 }},
		{"gas", "max_gas_usd", func(i *Intent) { i.MaxGasUSD = -1 }},
		{"strategy", "strategy", func(i *Intent) { i.Strategy = "yolo" }},
		{"commitment", "commitment", func(i *Intent) { i.Commitment = "0x1234567890" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := sampleIntent(t)
			tc.edit(in)
			err := Validate(in)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			e, ok := xerrors.From(err)
			if !ok || e.Code() != xerrors.CodeValidation {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := e.Metadata()["field"]; got != tc.field {
				t.Fatalf("field = %q, want %q", got, tc.field)
			}
		})
	}

	if err := Validate(sampleIntent(t)); err != nil {
		t.Fatalf("valid intent rejected: %v", err)
	}
}

func TestRuleParser(t *testing.T) {
	parser := NewRuleParser(WithClock(fixedClock))
	cases := []struct {
		text     string
		action   Action
		strategy Strategy
		duration int
		gas      float64
	}{
		{"Use all my stablecoins for 6 months, highest APY, tolerate 3% gas", ActionYieldFarm, StrategyHighestAPY, 180, 15},
		{"swap my usdc for the cheapest route", ActionSwap, StrategyLowestGas, 90, 15},
		{"bridge funds somewhere secure for 1 month", ActionBridge, StrategySafest, 30, 15},
		{"provide liquidity for a year with 2% gas", ActionLiquidity, StrategyBalanced, 90, 10},
		{"put it in an LP for 12 months", ActionLiquidity, StrategyBalanced, 365, 15},
	}
	for _, tc := range cases {
		in, err := parser.Parse(context.Background(), tc.text, "0xuser")
		if err != nil {
			t.Fatalf("parse %q: %v", tc.text, err)
		}
		if in.Action != tc.action || in.Strategy != tc.strategy || in.DurationDays != tc.duration || in.MaxGasUSD != tc.gas {
			t.Fatalf("parse %q => %+v", tc.text, in)
		}
		if in.TotalValueUSD != 500 || len(in.Tokens) != 2 {
			t.Fatalf("unexpected basket: %+v", in.Tokens)
		}
		if in.Timestamp != fixedClock().Unix() {
			t.Fatalf("timestamp not taken from clock")
		}
		if err := Validate(in); err != nil {
			t.Fatalf("parsed intent invalid: %v", err)
		}
	}
}

func TestRuleParserDefaultStrategy(t *testing.T) {
	parser := NewRuleParser(WithClock(fixedClock), WithDefaultStrategy(StrategyLowestGas))
	in, err := parser.Parse(context.Background(), "farm my stablecoins", "0xuser")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.Strategy != StrategyLowestGas {
		t.Fatalf("expected configured default, got %s", in.Strategy)
	}
	in, err = NewRuleParser(WithDefaultStrategy("mystery")).Parse(context.Background(), "farm", "0xuser")
	if err != nil || in.Strategy != StrategyBalanced {
		t.Fatalf("unknown default must be ignored: %v %v", in, err)
	}
}

func TestRuleParserRejectsEmptyText(t *testing.T) {
	_, err := NewRuleParser().Parse(context.Background(), "   ", "0xuser")
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(" Lowest_Gas "); err != nil || s != StrategyLowestGas {
		t.Fatalf("ParseStrategy = %q, %v", s, err)
	}
	if _, err := ParseStrategy("random"); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("unknown strategy accepted: %v", err)
	}
}
