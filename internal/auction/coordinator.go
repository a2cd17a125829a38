package auction

import (
	"fmt"
	"log/slog"
	"time"

	xerrors "ZK-Intent-Fusion/internal/errors"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/internal/observability/metrics"
	"ZK-Intent-Fusion/pkg/logger"
)

// PublicInputs 是证明验证时公开的输入。
type PublicInputs struct {
	Commitment string `json:"commitment"`
}

// Verifier 判定报价证明是否有效，格式错误的证明返回 false。
type Verifier interface {
	VerifyBid(proof string, inputs PublicInputs) bool
}

// VerifierFunc 允许普通函数充当 Verifier。
type VerifierFunc func(proof string, inputs PublicInputs) bool

// VerifyBid 实现 Verifier 接口。
func (f VerifierFunc) VerifyBid(proof string, inputs PublicInputs) bool { return f(proof, inputs) }

const (
	reasonSelfInvalid = "solver marked bid invalid"
	reasonProof       = "proof verification failed"
)

// DefaultAgentTimeout 是单个求解者的默认报价时限。
const DefaultAgentTimeout = 3 * time.Second

// Coordinator 负责收集报价、复核证明并挑选胜出者，本身不做持久化。
type Coordinator struct {
	verifier     Verifier
	now          func() time.Time
	agentTimeout time.Duration
	logger       *slog.Logger
}

// Option 定义 Coordinator 的可选配置。
type Option func(*Coordinator)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithAgentTimeout 设置单个求解者的报价时限。
func WithAgentTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.agentTimeout = timeout
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator 创建拍卖协调器。
func NewCoordinator(verifier Verifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		verifier:     verifier,
		now:          time.Now,
		agentTimeout: DefaultAgentTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = logger.Named("auction")
	}
	return c
}

// RunAuction 复核所有报价并按策略选出胜出者。
// 证明验证只会把 valid 收窄为 false，不会放行求解者自己声明无效的报价。
func (c *Coordinator) RunAuction(commitment string, bids []Bid, strategy intent.Strategy) (*Result, error) {
	if c == nil || c.verifier == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "auction verifier not configured")
	}
	inputs := PublicInputs{Commitment: commitment}

	all := make([]Bid, len(bids))
	decisions := make([]Decision, len(bids))
	admissible := make([]Bid, 0, len(bids))
	for i, bid := range bids {
		all[i] = bid.Clone()
		decision := Decision{Solver: bid.Solver, Proof: bid.Proof}
		switch {
		case !bid.Valid:
			decision.Reason = reasonSelfInvalid
		case !c.verify(bid.Proof, inputs):
			decision.Reason = reasonProof
		default:
			decision.Admissible = true
			admissible = append(admissible, all[i])
		}
		decisions[i] = decision
		if !decision.Admissible {
			c.logger.Debug("报价被排除",
				slog.String("commitment", commitment),
				slog.String("solver", bid.Solver),
				slog.String("reason", decision.Reason))
		}
	}

	metrics.ObserveAuction(string(strategy), len(all), len(admissible))
	if len(admissible) == 0 {
		return nil, xerrors.New(xerrors.CodeNoAdmissibleBids,
			fmt.Sprintf("none of %d bids is admissible", len(all)),
			xerrors.WithMetadata("commitment", commitment))
	}

	winner, err := Select(admissible, strategy)
	if err != nil {
		return nil, err
	}
	return &Result{
		Commitment: commitment,
		Strategy:   strategy,
		Bids:       all,
		Decisions:  decisions,
		Winner:     winner,
		Timestamp:  c.now().Unix(),
	}, nil
}

func (c *Coordinator) verify(proof string, inputs PublicInputs) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("证明验证异常", slog.Any("panic", r))
			ok = false
		}
	}()
	return c.verifier.VerifyBid(proof, inputs)
}
