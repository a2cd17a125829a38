package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "ZK-Intent-Fusion/internal/errors"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/internal/observability/metrics"
)

// Agent 是独立的求解者，返回 nil 报价表示放弃本轮。
type Agent interface {
	ID() string
	Propose(ctx context.Context, in *intent.Intent) (*Bid, error)
}

var (
	// ErrNoBid 表示求解者没有给出报价。
	ErrNoBid = xerrors.New(xerrors.CodeNoAdmissibleBids, "solver declined to bid")
	// ErrAgentTimeout 表示求解者在时限内没有响应。
	ErrAgentTimeout = xerrors.New(xerrors.CodeTimeout, "solver did not answer in time", xerrors.WithAlert(false))
)

// AgentOutcome 是单个求解者的结构化结果，Bid 与 Err 恰有一个非空。
type AgentOutcome struct {
	SolverID string        `json:"solver"`
	Bid      *Bid          `json:"bid,omitempty"`
	Err      error         `json:"-"`
	Reason   string        `json:"reason,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// CollectBids 并发向所有求解者征集报价。每个求解者拥有独立时限，
// 失败或超时的求解者被剔除，不影响其他求解者。结果按注册顺序返回。
func (c *Coordinator) CollectBids(ctx context.Context, in *intent.Intent, agents []Agent) ([]Bid, []AgentOutcome) {
	outcomes := make([]AgentOutcome, len(agents))

	var wg sync.WaitGroup
	for i, agent := range agents {
		wg.Add(1)
		go func(i int, agent Agent) {
			defer wg.Done()
			outcomes[i] = c.solicit(ctx, in, agent)
		}(i, agent)
	}
	wg.Wait()

	bids := make([]Bid, 0, len(outcomes))
	for _, outcome := range outcomes {
		status := "bid"
		if outcome.Err != nil {
			status = "dropped"
			c.logger.Debug("求解者未参与本轮",
				slog.String("solver", outcome.SolverID),
				slog.String("reason", outcome.Reason))
		} else {
			bids = append(bids, outcome.Bid.Clone())
		}
		metrics.ObserveAgent(outcome.SolverID, status, outcome.Elapsed)
	}
	return bids, outcomes
}

type proposal struct {
	bid *Bid
	err error
}

func (c *Coordinator) solicit(ctx context.Context, in *intent.Intent, agent Agent) (outcome AgentOutcome) {
	start := c.now()
	defer func() {
		outcome.Elapsed = c.now().Sub(start)
		if outcome.Err != nil && outcome.Reason == "" {
			outcome.Reason = outcome.Err.Error()
		}
	}()

	if agent == nil {
		return AgentOutcome{Err: xerrors.New(xerrors.CodeInternal, "nil solver agent")}
	}
	outcome.SolverID = agent.ID()

	agentCtx, cancel := context.WithTimeout(ctx, c.agentTimeout)
	defer cancel()

	done := make(chan proposal, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- proposal{err: xerrors.New(xerrors.CodeInternal, fmt.Sprintf("solver panicked: %v", r))}
			}
		}()
		bid, err := agent.Propose(agentCtx, in.Clone())
		done <- proposal{bid: bid, err: err}
	}()

	select {
	case <-agentCtx.Done():
		outcome.Err = ErrAgentTimeout
		if ctx.Err() != nil {
			outcome.Err = ctx.Err()
		}
	case p := <-done:
		switch {
		case p.err != nil && agentCtx.Err() != nil && ctx.Err() == nil:
			outcome.Err = ErrAgentTimeout
		case p.err != nil:
			outcome.Err = p.err
		case p.bid == nil:
			outcome.Err = ErrNoBid
		default:
			bid := p.bid.Clone()
			if bid.Solver == "" {
				bid.Solver = outcome.SolverID
			}
			outcome.Bid = &bid
		}
	}
	return outcome
}
