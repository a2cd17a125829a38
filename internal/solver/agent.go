package solver

import (
	"context"
	"log/slog"
	"time"

	"ZK-Intent-Fusion/internal/auction"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/pkg/logger"
)

// Prover 为方案生成求解证明。
type Prover interface {
	GenerateSolverProof(in *intent.Intent, plan auction.Plan) (string, error)
}

// Agent 按照 Profile 生成报价。
type Agent struct {
	profile Profile
	prover  Prover
	now     func() time.Time
}

// NewAgent 创建求解者。
func NewAgent(profile Profile, prover Prover, now func() time.Time) *Agent {
	if now == nil {
		now = time.Now
	}
	return &Agent{profile: profile, prover: prover, now: now}
}

// ID 返回求解者地址。
func (a *Agent) ID() string { return a.profile.ID }

// Propose 实现 auction.Agent。返回 nil 报价表示求解者放弃。
func (a *Agent) Propose(ctx context.Context, in *intent.Intent) (*auction.Bid, error) {
	if a.profile.LatencyMS > 0 {
		timer := time.NewTimer(time.Duration(a.profile.LatencyMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if in == nil {
		return nil, nil
	}
	if !a.profile.Qualified {
		return a.guess(), nil
	}

	template, ok := a.profile.Plans[in.Action]
	if !ok {
		return nil, nil
	}
	plan := template.plan(a.profile.ID)
	if plan.GasUSD > in.MaxGasUSD {
		if a.profile.OverBudget != OverBudgetTrim {
			return nil, nil
		}
		plan.GasUSD = min(plan.GasUSD*0.95, in.MaxGasUSD)
		plan.Route = "optimized: " + plan.Route
	}

	if a.prover == nil {
		return nil, nil
	}
	proof, err := a.prover.GenerateSolverProof(in, plan)
	if err != nil {
		logger.Named("solver").Debug("方案未满足证明约束",
			slog.String("solver", a.profile.ID),
			slog.String("reason", err.Error()))
		return nil, nil
	}
	return &auction.Bid{
		Solver:        a.profile.ID,
		Proof:         proof,
		ClaimedAPY:    plan.APYBps10,
		ClaimedGasUSD: plan.GasUSD,
		Valid:         true,
		Plan:          &plan,
		Timestamp:     a.now().Unix(),
	}, nil
}

// guess 模拟无法解密意图的求解者：只能猜测参数并附带伪造证明。
func (a *Agent) guess() *auction.Bid {
	if a.profile.Guess == nil {
		return nil
	}
	suffix := a.profile.ID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return &auction.Bid{
		Solver:        a.profile.ID,
		Proof:         "0xinvalid_proof_" + suffix,
		ClaimedAPY:    a.profile.Guess.APYBps10,
		ClaimedGasUSD: a.profile.Guess.GasUSD,
		Valid:         a.profile.ClaimValid,
		Timestamp:     a.now().Unix(),
	}
}
