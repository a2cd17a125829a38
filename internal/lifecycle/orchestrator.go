package lifecycle

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"ZK-Intent-Fusion/internal/auction"
	xerrors "ZK-Intent-Fusion/internal/errors"
	"ZK-Intent-Fusion/internal/events"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/internal/observability/alerting"
	"ZK-Intent-Fusion/internal/observability/metrics"
	"ZK-Intent-Fusion/pkg/logger"
)

// Settlement 是执行后端返回的结果。
type Settlement struct {
	Txs      []string
	GasUSD   float64
	Position FinalPosition
}

// ExecutionBackend 负责跨链桥接与协议交互。
type ExecutionBackend interface {
	BridgeAndExecute(ctx context.Context, winner auction.Bid, in *intent.Intent) (*Settlement, error)
}

// ExecutionProver 为执行记录生成证明与最终余额承诺，并在落盘前复核。
type ExecutionProver interface {
	ProveExecution(in *intent.Intent, log *ExecutionLog) (proof string, finalBalance string, err error)
	VerifyExecution(proof, commitment, finalBalance string) bool
}

// SignatureVerifier 校验用户对承诺的授权签名。
type SignatureVerifier interface {
	VerifyAuthorization(user, commitment, signature string) error
}

// AgentSource 提供参与拍卖的求解者，每次拍卖调用一次。
type AgentSource interface {
	Agents() []auction.Agent
}

// StaticAgents 是固定的求解者列表。
type StaticAgents []auction.Agent

// Agents 实现 AgentSource。
func (s StaticAgents) Agents() []auction.Agent { return s }

// Dependencies 汇总 Orchestrator 的必需协作方。
type Dependencies struct {
	Store       Store
	Parser      intent.Parser
	Coordinator *auction.Coordinator
	Agents      AgentSource
	Backend     ExecutionBackend
	Prover      ExecutionProver
}

// Orchestrator 串联解析、拍卖、授权与执行四个阶段。
type Orchestrator struct {
	store       Store
	parser      intent.Parser
	validator   intent.Validator
	coordinator *auction.Coordinator
	agents      AgentSource
	backend     ExecutionBackend
	prover      ExecutionProver
	signatures  SignatureVerifier
	publisher   events.Publisher
	alerts      alerting.Dispatcher
	now         func() time.Time
	logger      *slog.Logger

	// flights 让同一承诺的授权与执行在本进程内只有一个在途调用。
	flights singleflight.Group
}

// Option 定义 Orchestrator 的可选配置。
type Option func(*Orchestrator)

// WithValidator 替换意图校验器。
func WithValidator(v intent.Validator) Option {
	return func(o *Orchestrator) {
		if v != nil {
			o.validator = v
		}
	}
}

// WithSignatureVerifier 启用授权签名校验。
func WithSignatureVerifier(v SignatureVerifier) Option {
	return func(o *Orchestrator) {
		o.signatures = v
	}
}

// WithPublisher 指定生命周期事件的投递目标。
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithAlertDispatcher 指定内部错误的告警通道。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(o *Orchestrator) {
		o.alerts = d
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator 创建生命周期编排器。
func NewOrchestrator(deps Dependencies, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "lifecycle store is required")
	case deps.Parser == nil:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "intent parser is required")
	case deps.Coordinator == nil:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "auction coordinator is required")
	case deps.Backend == nil:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "execution backend is required")
	case deps.Prover == nil:
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "execution prover is required")
	}
	agents := deps.Agents
	if agents == nil {
		agents = StaticAgents(nil)
	}
	o := &Orchestrator{
		store:       deps.Store,
		parser:      deps.Parser,
		validator:   intent.DefaultValidator,
		coordinator: deps.Coordinator,
		agents:      agents,
		backend:     deps.Backend,
		prover:      deps.Prover,
		publisher:   events.NopPublisher{},
		now:         time.Now,
		logger:      logger.Named("lifecycle"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Parse 解析并校验意图后写入存储，不发起拍卖。
func (o *Orchestrator) Parse(ctx context.Context, text, user string) (in *intent.Intent, err error) {
	defer func() { o.observe(ctx, StageParsed, commitmentOf(in), err) }()
	return o.parseAndStore(ctx, text, user)
}

// Submit 完成解析、写入意图、征集报价与拍卖。拍卖失败时意图仍保留。
// 同一承诺已有拍卖结果时直接返回已存储的状态。
func (o *Orchestrator) Submit(ctx context.Context, text, user string) (*Submission, error) {
	in, err := o.Parse(ctx, text, user)
	if err != nil {
		return nil, err
	}
	return o.auction(ctx, in)
}

// Auction 为已解析的意图发起拍卖。
func (o *Orchestrator) Auction(ctx context.Context, commitment string) (*Submission, error) {
	in, err := o.store.GetIntent(ctx, commitment)
	if err != nil {
		if stdErrors.Is(err, ErrNotPresent) {
			err = notFound(commitment)
		}
		o.observe(ctx, StageAuctioned, commitment, err)
		return nil, err
	}
	return o.auction(ctx, in)
}

func (o *Orchestrator) auction(ctx context.Context, in *intent.Intent) (sub *Submission, err error) {
	defer func() { o.observe(ctx, StageAuctioned, in.Commitment, err) }()

	if stored, err := o.store.GetAuction(ctx, in.Commitment); err == nil {
		return o.submission(in, stored, nil), nil
	} else if !stdErrors.Is(err, ErrNotPresent) {
		return nil, err
	}

	bids, outcomes := o.coordinator.CollectBids(ctx, in, o.agents.Agents())
	result, err := o.coordinator.RunAuction(in.Commitment, bids, in.Strategy)
	if err != nil {
		return nil, err
	}

	if err := o.store.PutAuction(ctx, result); err != nil {
		if !stdErrors.Is(err, ErrCollision) {
			return nil, err
		}
		// 并发拍卖已先行写入，以已存储的结果为准。
		stored, getErr := o.store.GetAuction(ctx, in.Commitment)
		if getErr != nil {
			return nil, getErr
		}
		return o.submission(in, stored, nil), nil
	}

	o.audit(StageAuctioned, in.Commitment,
		slog.String("winner", result.Winner.Solver),
		slog.Int("bids", len(result.Bids)),
		slog.String("strategy", string(result.Strategy)))
	o.emit(ctx, StageAuctioned, in, result.Winner.Solver)
	return o.submission(in, result, outcomes), nil
}

// Authorize 记录用户对胜出者的授权。重复调用返回首次写入的授权。
// 并发调用合并为一次，共享首个调用方的 ctx 与签名。
func (o *Orchestrator) Authorize(ctx context.Context, commitment, signature string) (*Authorization, error) {
	v, err, _ := o.flights.Do("auth:"+commitment, func() (any, error) {
		return o.authorize(ctx, commitment, signature)
	})
	if err != nil {
		return nil, err
	}
	auth := *v.(*Authorization)
	return &auth, nil
}

func (o *Orchestrator) authorize(ctx context.Context, commitment, signature string) (auth *Authorization, err error) {
	defer func() { o.observe(ctx, StageAuthorized, commitment, err) }()

	in, err := o.store.GetIntent(ctx, commitment)
	if err != nil {
		if stdErrors.Is(err, ErrNotPresent) {
			return nil, notFound(commitment)
		}
		return nil, err
	}
	result, err := o.store.GetAuction(ctx, commitment)
	if err != nil {
		if stdErrors.Is(err, ErrNotPresent) {
			return nil, notAuctioned(commitment)
		}
		return nil, err
	}
	if existing, err := o.store.GetAuthorization(ctx, commitment); err == nil {
		return existing, nil
	} else if !stdErrors.Is(err, ErrNotPresent) {
		return nil, err
	}

	if signature == "" {
		signature = UnsignedPlaceholder
	}
	if o.signatures != nil {
		if err := o.signatures.VerifyAuthorization(in.User, commitment, signature); err != nil {
			return nil, err
		}
	}

	auth = &Authorization{
		Commitment:   commitment,
		WinnerSolver: result.Winner.Solver,
		AuthorizedAt: o.now().Unix(),
		Signature:    signature,
	}
	if err := o.store.PutAuthorization(ctx, auth); err != nil {
		if !stdErrors.Is(err, ErrCollision) {
			return nil, err
		}
		return o.store.GetAuthorization(ctx, commitment)
	}

	o.audit(StageAuthorized, commitment, slog.String("winner", auth.WinnerSolver))
	o.emit(ctx, StageAuthorized, in, auth.WinnerSolver)
	return auth, nil
}

// Execute 调用执行后端完成交易并生成执行证明。已执行的承诺直接返回已有记录。
// 同一承诺的并发调用只会触发一次后端执行。
func (o *Orchestrator) Execute(ctx context.Context, commitment string) (*ExecutionLog, error) {
	v, err, _ := o.flights.Do("exec:"+commitment, func() (any, error) {
		return o.execute(ctx, commitment)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ExecutionLog).Clone(), nil
}

func (o *Orchestrator) execute(ctx context.Context, commitment string) (log *ExecutionLog, err error) {
	defer func() { o.observe(ctx, StageExecuted, commitment, err) }()

	in, err := o.store.GetIntent(ctx, commitment)
	if err != nil {
		if stdErrors.Is(err, ErrNotPresent) {
			return nil, notFound(commitment)
		}
		return nil, err
	}
	if existing, err := o.store.GetExecution(ctx, commitment); err == nil {
		return existing, nil
	} else if !stdErrors.Is(err, ErrNotPresent) {
		return nil, err
	}
	if _, err := o.store.GetAuthorization(ctx, commitment); err != nil {
		if stdErrors.Is(err, ErrNotPresent) {
			return nil, notAuthorized(commitment)
		}
		return nil, err
	}
	result, err := o.store.GetAuction(ctx, commitment)
	if err != nil {
		if stdErrors.Is(err, ErrNotPresent) {
			return nil, missingAuction(commitment)
		}
		return nil, err
	}

	winner := result.Winner.Clone()
	settlement, err := o.backend.BridgeAndExecute(ctx, winner, in.Clone())
	if err != nil {
		return nil, internal(err, "execution backend failed")
	}
	if settlement == nil {
		return nil, xerrors.New(xerrors.CodeInternal, "execution backend returned no settlement")
	}

	log = &ExecutionLog{
		Commitment:         commitment,
		Solver:             winner.Solver,
		Txs:                append([]string(nil), settlement.Txs...),
		TotalGasUSD:        settlement.GasUSD,
		FinalPosition:      settlement.Position,
		ExecutionTimestamp: o.now().Unix(),
	}
	proof, balance, err := o.prover.ProveExecution(in, log)
	if err != nil {
		return nil, internal(err, "execution proof failed")
	}
	if !o.prover.VerifyExecution(proof, commitment, balance) {
		return nil, xerrors.New(xerrors.CodeInternal, "execution proof rejected",
			xerrors.WithMetadata("commitment", commitment))
	}
	log.Proof = proof
	log.FinalBalanceCommitment = balance

	if err := o.store.PutExecution(ctx, log); err != nil {
		if !stdErrors.Is(err, ErrCollision) {
			return nil, err
		}
		return o.store.GetExecution(ctx, commitment)
	}

	o.audit(StageExecuted, commitment,
		slog.String("solver", log.Solver),
		slog.Int("txs", len(log.Txs)),
		slog.Float64("gas_usd", log.TotalGasUSD),
		slog.String("proof", log.Proof))
	o.emit(ctx, StageExecuted, in, log.Solver)
	return log, nil
}

// Status 返回承诺所处阶段，仅在意图不存在时返回 NotFound。
func (o *Orchestrator) Status(ctx context.Context, commitment string) (*Status, error) {
	if _, err := o.store.GetIntent(ctx, commitment); err != nil {
		if stdErrors.Is(err, ErrNotPresent) {
			return nil, notFound(commitment)
		}
		return nil, err
	}
	status := &Status{Commitment: commitment, Exists: true, Stage: StageParsed}

	result, err := o.store.GetAuction(ctx, commitment)
	switch {
	case err == nil:
		status.Auctioned = true
		status.Stage = StageAuctioned
		status.Winner = result.Winner.Solver
	case !stdErrors.Is(err, ErrNotPresent):
		return nil, err
	}

	_, err = o.store.GetAuthorization(ctx, commitment)
	switch {
	case err == nil:
		status.Authorized = true
		status.Stage = StageAuthorized
	case !stdErrors.Is(err, ErrNotPresent):
		return nil, err
	}

	log, err := o.store.GetExecution(ctx, commitment)
	switch {
	case err == nil:
		status.Executed = true
		status.Stage = StageExecuted
		status.Txs = append([]string(nil), log.Txs...)
		position := log.FinalPosition
		status.FinalPosition = &position
	case !stdErrors.Is(err, ErrNotPresent):
		return nil, err
	}
	return status, nil
}

// List 返回最近提交的意图。
func (o *Orchestrator) List(ctx context.Context, limit int) ([]*intent.Intent, error) {
	return o.store.ListIntents(ctx, limit)
}

// Reset 清空全部生命周期记录。
func (o *Orchestrator) Reset(ctx context.Context) error {
	if err := o.store.Clear(ctx); err != nil {
		return err
	}
	logger.Audit().Warn("lifecycle state cleared")
	return nil
}

func (o *Orchestrator) parseAndStore(ctx context.Context, text, user string) (*intent.Intent, error) {
	in, err := o.parser.Parse(ctx, text, user)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "intent could not be parsed")
	}
	if in == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "parser returned no intent")
	}
	if in.Commitment == "" {
		if err := in.Seal(); err != nil {
			return nil, internal(err, "compute commitment")
		}
	}
	if err := o.validator.Validate(in); err != nil {
		return nil, err
	}
	if err := o.store.PutIntent(ctx, in); err != nil {
		return nil, err
	}
	o.audit(StageParsed, in.Commitment,
		slog.String("user", in.User),
		slog.String("action", string(in.Action)),
		slog.String("strategy", string(in.Strategy)))
	o.emit(ctx, StageParsed, in, "")
	return in, nil
}

func (o *Orchestrator) submission(in *intent.Intent, result *auction.Result, outcomes []auction.AgentOutcome) *Submission {
	stats := auction.Summarize(result)
	return &Submission{
		Intent:  in.Clone(),
		Auction: result.Clone(),
		Stats:   stats,
		Agents:  outcomes,
		Metadata: map[string]string{
			"commitment":     in.Commitment,
			"action":         string(in.Action),
			"strategy":       string(in.Strategy),
			"duration_days":  strconv.Itoa(in.DurationDays),
			"token_count":    strconv.Itoa(len(in.Tokens)),
			"total_bids":     strconv.Itoa(stats.TotalBids),
			"valid_bids":     strconv.Itoa(stats.ValidBids),
			"winning_solver": result.Winner.Solver,
		},
	}
}

func (o *Orchestrator) observe(ctx context.Context, stage Stage, commitment string, err error) {
	metrics.ObserveTransition(string(stage), err)
	if err == nil {
		return
	}
	o.logger.Warn("生命周期阶段失败",
		slog.String("stage", string(stage)),
		slog.String("commitment", commitment),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.String("error", err.Error()))
	if o.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	event := alerting.FromError(err, string(stage), commitment, o.now())
	if notifyErr := o.alerts.Notify(ctx, event); notifyErr != nil {
		o.logger.Error("告警发送失败", slog.String("error", notifyErr.Error()))
	}
}

func (o *Orchestrator) audit(stage Stage, commitment string, attrs ...any) {
	attrs = append([]any{slog.String("stage", string(stage)), slog.String("commitment", commitment)}, attrs...)
	logger.Audit().Info("lifecycle transition", attrs...)
}

// emit 投递事件失败只记录日志，不影响已完成的状态写入。
func (o *Orchestrator) emit(ctx context.Context, stage Stage, in *intent.Intent, solver string) {
	event := events.New(in.Commitment, string(stage), solver, in.User, o.now())
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("生命周期事件投递失败",
			slog.String("stage", string(stage)),
			slog.String("commitment", in.Commitment),
			slog.String("error", err.Error()))
	}
}

func commitmentOf(in *intent.Intent) string {
	if in == nil {
		return ""
	}
	return in.Commitment
}
