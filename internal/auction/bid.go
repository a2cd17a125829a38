package auction

import (
	"ZK-Intent-Fusion/internal/intent"
)

// Plan 描述求解者给出的执行方案。
type Plan struct {
	Solver                   string   `json:"solver"`
	Protocol                 string   `json:"protocol"`
	Route                    string   `json:"route"`
	APYBps10                 int      `json:"apy_bps10"`
	GasUSD                   float64  `json:"gas_usd"`
	EstimatedDurationSeconds int      `json:"estimated_duration_seconds"`
	Steps                    []string `json:"steps,omitempty"`
}

// Bid 是求解者提交的密封报价。APY 以万分之一再乘 10 表示，132 即 13.2%。
type Bid struct {
	Solver        string  `json:"solver"`
	Proof         string  `json:"proof"`
	ClaimedAPY    int     `json:"claimed_apy_bps10"`
	ClaimedGasUSD float64 `json:"claimed_gas_usd"`
	Valid         bool    `json:"valid"`
	Plan          *Plan   `json:"plan,omitempty"`
	Timestamp     int64   `json:"timestamp"`
}

// Clone 返回报价的深拷贝。
func (b Bid) Clone() Bid {
	if b.Plan != nil {
		plan := *b.Plan
		plan.Steps = append([]string(nil), b.Plan.Steps...)
		b.Plan = &plan
	}
	return b
}

// Decision 记录一次准入判定，原始报价保持不变。
type Decision struct {
	Solver     string `json:"solver"`
	Proof      string `json:"proof"`
	Admissible bool   `json:"admissible"`
	Reason     string `json:"reason,omitempty"`
}

// Result 是一次拍卖的不可变结果。
type Result struct {
	Commitment string          `json:"commitment"`
	Strategy   intent.Strategy `json:"strategy"`
	Bids       []Bid           `json:"bids"`
	Decisions  []Decision      `json:"decisions"`
	Winner     Bid             `json:"winner"`
	Timestamp  int64           `json:"auction_timestamp"`
}

// Clone 返回结果的深拷贝。
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Bids = make([]Bid, len(r.Bids))
	for i, bid := range r.Bids {
		clone.Bids[i] = bid.Clone()
	}
	clone.Decisions = append([]Decision(nil), r.Decisions...)
	clone.Winner = r.Winner.Clone()
	return &clone
}

// Admissible 返回通过验证的报价。
func (r *Result) Admissible() []Bid {
	if r == nil {
		return nil
	}
	out := make([]Bid, 0, len(r.Bids))
	for i, decision := range r.Decisions {
		if decision.Admissible && i < len(r.Bids) {
			out = append(out, r.Bids[i].Clone())
		}
	}
	return out
}
