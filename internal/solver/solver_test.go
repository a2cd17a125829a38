package solver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ZK-Intent-Fusion/internal/auction"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/internal/proofs"
)

func clock() time.Time { return time.Unix(1_700_000_000, 0) }

func sealed(t *testing.T, action intent.Action, maxGas float64) *intent.Intent {
	t.Helper()
	in := &intent.Intent{
		User:          "0x01",
		Action:        action,
		Tokens:        []intent.TokenSpec{{Symbol: "USDC", Chain: "arbitrum", Amount: 500}},
		TotalValueUSD: 500,
		DurationDays:  90,
		Strategy:      intent.StrategyHighestAPY,
		MaxGasUSD:     maxGas,
		Timestamp:     clock().Unix(),
	}
	if err := in.Seal(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return in
}

func proposeAll(t *testing.T, reg *Registry, in *intent.Intent) map[string]*auction.Bid {
	t.Helper()
	out := make(map[string]*auction.Bid)
	for _, agent := range reg.Agents() {
		bid, err := agent.Propose(context.Background(), in)
		if err != nil {
			t.Fatalf("%s propose: %v", agent.ID(), err)
		}
		out[agent.ID()] = bid
	}
	return out
}

func TestDefaultProfilesYieldFarm(t *testing.T) {
	oracle := proofs.NewMockOracle()
	reg, err := NewRegistry(DefaultProfiles(), oracle, clock)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	in := sealed(t, intent.ActionYieldFarm, 15)
	bids := proposeAll(t, reg, in)

	a, b, c := bids["0xSolverA"], bids["0xSolverB"], bids["0xSolverC"]
	if a == nil || a.ClaimedAPY != 132 || a.ClaimedGasUSD != 15 || !a.Valid {
		t.Fatalf("unexpected solver A bid: %+v", a)
	}
	if b == nil || b.ClaimedAPY != 121 || b.ClaimedGasUSD != 11 {
		t.Fatalf("unexpected solver B bid: %+v", b)
	}
	if c == nil || !strings.HasPrefix(c.Proof, "0xinvalid_proof_") {
		t.Fatalf("unexpected solver C bid: %+v", c)
	}
	inputs := auction.PublicInputs{Commitment: in.Commitment}
	if !oracle.VerifyBid(a.Proof, inputs) || !oracle.VerifyBid(b.Proof, inputs) {
		t.Fatalf("qualified solver proofs must verify")
	}
	if oracle.VerifyBid(c.Proof, inputs) {
		t.Fatalf("guessed proof must not verify")
	}
}

func TestOverBudgetBehaviour(t *testing.T) {
	reg, _ := NewRegistry(DefaultProfiles(), proofs.NewMockOracle(), clock)
	in := sealed(t, intent.ActionYieldFarm, 10)
	bids := proposeAll(t, reg, in)

	a := bids["0xSolverA"]
	if a == nil || a.ClaimedGasUSD != 10 || !strings.HasPrefix(a.Plan.Route, "optimized: ") {
		t.Fatalf("solver A should trim gas to the budget: %+v", a)
	}
	if bids["0xSolverB"] != nil {
		t.Fatalf("solver B should decline over-budget intents")
	}
}

func TestSwapPlansWithoutYieldDecline(t *testing.T) {
	reg, _ := NewRegistry(DefaultProfiles(), proofs.NewMockOracle(), clock)
	bids := proposeAll(t, reg, sealed(t, intent.ActionSwap, 15))
	if bids["0xSolverA"] != nil || bids["0xSolverB"] != nil {
		t.Fatalf("swap plans carry no apy and cannot be proven: %+v", bids)
	}
}

func TestLatencyHonoursContext(t *testing.T) {
	agent := NewAgent(Profile{ID: "0xSlow", Qualified: true, LatencyMS: 1000}, proofs.NewMockOracle(), clock)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := agent.Propose(ctx, sealed(t, intent.ActionYieldFarm, 15)); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestLoadRegistryFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solvers.yaml")
	content := `solvers:
  - id: 0xCurveSolver
    qualified: true
    over_budget: trim
    plans:
      liquidity_provision:
        protocol: curve
        apy_bps10: 80
        gas_usd: 4.5
  - id: 0xGuesser
    claim_valid: false
    guess:
      protocol: compound
      apy_bps10: 300
      gas_usd: 1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg, err := LoadRegistry(path, proofs.NewMockOracle(), clock)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := strings.Join(reg.IDs(), ","); got != "0xCurveSolver,0xGuesser" {
		t.Fatalf("unexpected ids: %s", got)
	}
	bids := proposeAll(t, reg, sealed(t, intent.ActionLiquidity, 15))
	if bid := bids["0xCurveSolver"]; bid == nil || bid.Plan.Protocol != "curve" {
		t.Fatalf("unexpected curve bid: %+v", bid)
	}
	if bid := bids["0xGuesser"]; bid == nil || bid.Valid {
		t.Fatalf("guesser should self-report invalid: %+v", bid)
	}
}

func TestParseProfilesRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing id":      "solvers:\n  - name: x\n",
		"bad action":      "solvers:\n  - id: 0xA\n    plans:\n      staking: {protocol: aave, gas_usd: 1}\n",
		"negative gas":    "solvers:\n  - id: 0xA\n    plans:\n      swap: {protocol: aave, gas_usd: -1}\n",
		"unknown field":   "solvers:\n  - id: 0xA\n    reputation: 5\n",
		"bad over budget": "solvers:\n  - id: 0xA\n    over_budget: panic\n",
		"fractional ms":   "solvers:\n  - id: 0xA\n    latency_ms: 2.5\n",
		"fractional apy":  "solvers:\n  - id: 0xA\n    guess: {protocol: aave, apy_bps10: 12.5, gas_usd: 1}\n",
	}
	for name, doc := range cases {
		if _, err := ParseProfiles([]byte(doc)); err == nil {
			t.Fatalf("%s: expected schema error", name)
		}
	}
}

func TestParseProfilesAcceptsNumericFields(t *testing.T) {
	doc := "solvers:\n  - id: 0xA\n    latency_ms: 250\n    guess: {protocol: aave, apy_bps10: 125, gas_usd: 0.75, duration_seconds: 86400}\n"
	profiles, err := ParseProfiles([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(profiles) != 1 || profiles[0].ID != "0xA" {
		t.Fatalf("unexpected profiles: %+v", profiles)
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	profiles := []Profile{{ID: "0xA"}, {ID: "0xA"}}
	if _, err := NewRegistry(profiles, nil, nil); err == nil {
		t.Fatalf("expected duplicate error")
	}
}
