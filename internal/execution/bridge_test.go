package execution

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"ZK-Intent-Fusion/internal/auction"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/internal/web3"
)

func fixedClock() time.Time { return time.Unix(1_700_000_000, 0) }

func testIntent() *intent.Intent {
	return &intent.Intent{
		User:          "0xUser",
		Action:        intent.ActionYieldFarm,
		Tokens:        []intent.TokenSpec{{Symbol: "USDC", Chain: "arbitrum", Amount: 250}, {Symbol: "USDT", Chain: "polygon", Amount: 250}},
		TotalValueUSD: 500,
		DurationDays:  90,
		Strategy:      intent.StrategyHighestAPY,
		MaxGasUSD:     15,
		Timestamp:     1_700_000_000,
		Commitment:    "0xabc",
	}
}

func bid(protocol string, apy int, gas float64) auction.Bid {
	return auction.Bid{
		Solver:        "0xSolver",
		ClaimedAPY:    apy,
		ClaimedGasUSD: gas,
		Valid:         true,
		Plan:          &auction.Plan{Protocol: protocol},
	}
}

func TestBridgeRoutesByProtocol(t *testing.T) {
	b := NewBridge(WithClock(fixedClock))
	cases := []struct {
		protocol  string
		chain     string
		amountUSD float64
		amount    string
		apy       float64
		txs       int
	}{
		{"morpho", "optimism", 499.5, "~499.5 USDC", 13.2, 4},
		{"aave", "arbitrum", 499.8, "~499.8 USDC", 13.2, 4},
		{"compound", "ethereum", 500, "~500 USDC", 0, 2},
	}
	for _, tc := range cases {
		settlement, err := b.BridgeAndExecute(context.Background(), bid(tc.protocol, 132, 15), testIntent())
		if err != nil {
			t.Fatalf("%s: %v", tc.protocol, err)
		}
		pos := settlement.Position
		if pos.Chain != tc.chain || pos.Amount != tc.amount || math.Abs(pos.AmountUSD-tc.amountUSD) > 1e-9 {
			t.Fatalf("%s: unexpected position %+v", tc.protocol, pos)
		}
		if math.Abs(pos.APY-tc.apy) > 1e-9 {
			t.Fatalf("%s: apy = %v, want %v", tc.protocol, pos.APY, tc.apy)
		}
		if len(settlement.Txs) != tc.txs {
			t.Fatalf("%s: txs = %v", tc.protocol, settlement.Txs)
		}
		if math.Abs(settlement.GasUSD-15.75) > 1e-9 {
			t.Fatalf("%s: gas = %v, want 15.75", tc.protocol, settlement.GasUSD)
		}
		if pos.Timestamp != fixedClock().Unix() {
			t.Fatalf("%s: timestamp not from clock", tc.protocol)
		}
	}
}

func TestBridgeTransactionLabels(t *testing.T) {
	b := NewBridge(WithClock(fixedClock))
	settlement, err := b.BridgeAndExecute(context.Background(), bid("morpho", 132, 15), testIntent())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := []string{"0xarb_bridge_1700000000", "0xpoly_bridge_1700000001", "0xopt_swap_1700000002", "0xmorpho_supply_1700000003"}
	for i, tx := range want {
		if settlement.Txs[i] != tx {
			t.Fatalf("tx[%d] = %s, want %s", i, settlement.Txs[i], tx)
		}
	}
}

func TestBridgeWithoutPlanUsesGenericRoute(t *testing.T) {
	b := NewBridge(WithClock(fixedClock))
	settlement, err := b.BridgeAndExecute(context.Background(), auction.Bid{Solver: "0xSolver", ClaimedGasUSD: 10}, testIntent())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if settlement.Position.Protocol != "generic" || settlement.Position.PositionType != "unknown" {
		t.Fatalf("unexpected position: %+v", settlement.Position)
	}
}

type stubChains map[string]web3.Client

func (s stubChains) Client(name string) (web3.Client, bool) {
	c, ok := s[name]
	return c, ok
}

type stubChainClient struct {
	snap web3.ChainSnapshot
	err  error
}

func (s stubChainClient) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return s.snap, s.err
}

func (stubChainClient) Close() {}

func TestBridgeStampsChainSnapshot(t *testing.T) {
	chains := stubChains{
		"optimism": stubChainClient{snap: web3.ChainSnapshot{ChainID: "0xa", BlockNumber: "0x10"}},
		"arbitrum": stubChainClient{err: errors.New("rpc down")},
	}
	b := NewBridge(WithClock(fixedClock), WithChains(chains))

	settlement, err := b.BridgeAndExecute(context.Background(), bid("morpho", 132, 15), testIntent())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if settlement.Position.ChainID != "0xa" || settlement.Position.BlockNumber != "0x10" {
		t.Fatalf("snapshot not stamped: %+v", settlement.Position)
	}

	settlement, err = b.BridgeAndExecute(context.Background(), bid("aave", 121, 11), testIntent())
	if err != nil {
		t.Fatalf("snapshot failure must not fail execution: %v", err)
	}
	if settlement.Position.ChainID != "" {
		t.Fatalf("unexpected chain id after failed snapshot: %+v", settlement.Position)
	}
}

func TestBridgeRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewBridge().BridgeAndExecute(ctx, bid("morpho", 132, 15), testIntent()); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	if _, err := NewBridge().BridgeAndExecute(context.Background(), bid("morpho", 132, 15), nil); err == nil {
		t.Fatalf("expected error for nil intent")
	}
}

func TestCustomRoutes(t *testing.T) {
	b := NewBridge(WithClock(fixedClock), WithRoutes(map[string]Route{
		"Curve": {Protocol: "curve", Chain: "polygon", PositionType: "liquidity", Retention: 0.998, Steps: []string{"curve_add"}, ReportAPY: true},
	}))
	settlement, err := b.BridgeAndExecute(context.Background(), bid("curve", 80, 4.5), testIntent())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if settlement.Position.Chain != "polygon" || len(settlement.Txs) != 1 || settlement.Position.APY != 8 {
		t.Fatalf("unexpected settlement: %+v", settlement)
	}
}
