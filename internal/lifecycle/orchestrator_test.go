package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ZK-Intent-Fusion/internal/auction"
	xerrors "ZK-Intent-Fusion/internal/errors"
	"ZK-Intent-Fusion/internal/events"
	"ZK-Intent-Fusion/internal/execution"
	"ZK-Intent-Fusion/internal/intent"
	"ZK-Intent-Fusion/internal/lifecycle"
	"ZK-Intent-Fusion/internal/observability/alerting"
	"ZK-Intent-Fusion/internal/proofs"
	"ZK-Intent-Fusion/internal/solver"
)

const (
	user      = "0xUser"
	yieldText = "Maximize yield on my stablecoins with highest apy"
)

func clock() time.Time { return time.Unix(1_700_000_000, 0) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) stages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Stage
	}
	return out
}

type recordingDispatcher struct {
	mu     sync.Mutex
	alerts []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, event)
	return nil
}

type failingBackend struct{ calls int }

func (b *failingBackend) BridgeAndExecute(context.Context, auction.Bid, *intent.Intent) (*lifecycle.Settlement, error) {
	b.calls++
	return nil, errors.New("bridge reverted")
}

type countingBackend struct {
	inner lifecycle.ExecutionBackend
	gate  chan struct{}

	mu    sync.Mutex
	calls int
}

func (b *countingBackend) BridgeAndExecute(ctx context.Context, winner auction.Bid, in *intent.Intent) (*lifecycle.Settlement, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.gate != nil {
		<-b.gate
	}
	return b.inner.BridgeAndExecute(ctx, winner, in)
}

func (b *countingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// forgingProver 生成的执行证明无法通过自身的复核。
type forgingProver struct{ *proofs.MockOracle }

func (forgingProver) VerifyExecution(string, string, string) bool { return false }

type rejectingVerifier struct{}

func (rejectingVerifier) VerifyAuthorization(string, string, string) error {
	return xerrors.New(xerrors.CodeValidation, "bad signature")
}

type fixture struct {
	orch      *lifecycle.Orchestrator
	store     lifecycle.Store
	publisher *recordingPublisher
	alerts    *recordingDispatcher
}

type fixtureOption struct {
	agents  lifecycle.AgentSource
	backend lifecycle.ExecutionBackend
	prover  lifecycle.ExecutionProver
	extra   []lifecycle.Option
}

func newFixture(t *testing.T, opt fixtureOption) *fixture {
	t.Helper()
	oracle := proofs.NewMockOracle()
	if opt.agents == nil {
		registry, err := solver.NewRegistry(solver.DefaultProfiles(), oracle, clock)
		if err != nil {
			t.Fatalf("registry: %v", err)
		}
		opt.agents = registry
	}
	if opt.backend == nil {
		opt.backend = execution.NewBridge(execution.WithClock(clock))
	}
	if opt.prover == nil {
		opt.prover = oracle
	}
	f := &fixture{
		store:     lifecycle.NewMemoryStore(),
		publisher: &recordingPublisher{},
		alerts:    &recordingDispatcher{},
	}
	opts := append([]lifecycle.Option{
		lifecycle.WithClock(clock),
		lifecycle.WithPublisher(f.publisher),
		lifecycle.WithAlertDispatcher(f.alerts),
	}, opt.extra...)
	orch, err := lifecycle.NewOrchestrator(lifecycle.Dependencies{
		Store:       f.store,
		Parser:      intent.NewRuleParser(intent.WithClock(clock)),
		Coordinator: auction.NewCoordinator(oracle, auction.WithClock(clock), auction.WithAgentTimeout(time.Second)),
		Agents:      opt.agents,
		Backend:     opt.backend,
		Prover:      opt.prover,
	}, opts...)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	f.orch = orch
	return f
}

func TestSubmitSelectsWinnerByStrategy(t *testing.T) {
	cases := []struct {
		text   string
		winner string
	}{
		{yieldText, "0xSolverA"},
		{"Farm my stablecoins, balanced please", "0xSolverB"},
	}
	for _, tc := range cases {
		f := newFixture(t, fixtureOption{})
		sub, err := f.orch.Submit(context.Background(), tc.text, user)
		if err != nil {
			t.Fatalf("submit %q: %v", tc.text, err)
		}
		if sub.Auction.Winner.Solver != tc.winner {
			t.Fatalf("%q: winner = %s, want %s", tc.text, sub.Auction.Winner.Solver, tc.winner)
		}
		if len(sub.Auction.Bids) != 3 {
			t.Fatalf("all bids must be retained, got %d", len(sub.Auction.Bids))
		}
		for i, d := range sub.Auction.Decisions {
			if d.Solver == "0xSolverC" && d.Admissible {
				t.Fatalf("forged proof admitted at %d: %+v", i, d)
			}
		}
		if sub.Stats.ValidBids != 2 || sub.Metadata["winning_solver"] != tc.winner {
			t.Fatalf("unexpected summary: %+v / %v", sub.Stats, sub.Metadata)
		}
		if len(sub.Agents) != 3 {
			t.Fatalf("expected one agent outcome per solver, got %d", len(sub.Agents))
		}
	}
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	ctx := context.Background()

	sub, err := f.orch.Submit(ctx, yieldText, user)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	commitment := sub.Intent.Commitment

	auth, err := f.orch.Authorize(ctx, commitment, "")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if auth.Signature != lifecycle.UnsignedPlaceholder || auth.WinnerSolver != "0xSolverA" {
		t.Fatalf("unexpected authorization: %+v", auth)
	}

	log, err := f.orch.Execute(ctx, commitment)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if log.Solver != "0xSolverA" || len(log.Txs) != 4 || log.FinalPosition.Protocol != "morpho" {
		t.Fatalf("unexpected execution log: %+v", log)
	}
	if log.Proof == "" || log.FinalBalanceCommitment == "" {
		t.Fatalf("execution proof missing: %+v", log)
	}

	status, err := f.orch.Status(ctx, commitment)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Stage != lifecycle.StageExecuted || !status.Auctioned || !status.Authorized || !status.Executed {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.Winner != "0xSolverA" || len(status.Txs) != 4 || status.FinalPosition == nil {
		t.Fatalf("status missing execution details: %+v", status)
	}

	want := []string{"parsed", "auctioned", "authorized", "executed"}
	got := f.publisher.stages()
	if len(got) != len(want) {
		t.Fatalf("published stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("published stages = %v, want %v", got, want)
		}
	}
}

func TestAuthorizeIsIdempotent(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	ctx := context.Background()
	sub, err := f.orch.Submit(ctx, yieldText, user)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	first, err := f.orch.Authorize(ctx, sub.Intent.Commitment, "0xsig")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	second, err := f.orch.Authorize(ctx, sub.Intent.Commitment, "0xother")
	if err != nil {
		t.Fatalf("authorize again: %v", err)
	}
	if first.WinnerSolver != second.WinnerSolver || second.Signature != "0xsig" {
		t.Fatalf("second authorization differs: %+v vs %+v", first, second)
	}
}

func TestSequenceErrors(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	ctx := context.Background()

	in, err := f.orch.Parse(ctx, yieldText, user)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = f.orch.Authorize(ctx, in.Commitment, "")
	if xerrors.CodeOf(err) != xerrors.CodeNotAuctioned {
		t.Fatalf("authorize before auction: %v", err)
	}
	if xerrors.KindOf(err) != xerrors.KindSequence {
		t.Fatalf("authorize before auction should be a sequence error")
	}

	if _, err := f.orch.Auction(ctx, in.Commitment); err != nil {
		t.Fatalf("auction: %v", err)
	}
	_, err = f.orch.Execute(ctx, in.Commitment)
	if xerrors.CodeOf(err) != xerrors.CodeNotAuthorized || xerrors.KindOf(err) != xerrors.KindSequence {
		t.Fatalf("execute before authorize: %v", err)
	}
	if _, err := f.store.GetExecution(ctx, in.Commitment); !errors.Is(err, lifecycle.ErrNotPresent) {
		t.Fatalf("no execution log may be written, got %v", err)
	}

	for _, call := range []func() error{
		func() error { _, err := f.orch.Authorize(ctx, "0xmissing", ""); return err },
		func() error { _, err := f.orch.Execute(ctx, "0xmissing"); return err },
		func() error { _, err := f.orch.Status(ctx, "0xmissing"); return err },
		func() error { _, err := f.orch.Auction(ctx, "0xmissing"); return err },
	} {
		if err := call(); xerrors.CodeOf(err) != xerrors.CodeNotFound {
			t.Fatalf("expected NotFound, got %v", err)
		}
	}
}

func TestEmptyRegistryKeepsIntent(t *testing.T) {
	f := newFixture(t, fixtureOption{agents: lifecycle.StaticAgents(nil)})
	ctx := context.Background()

	_, err := f.orch.Submit(ctx, yieldText, user)
	if xerrors.CodeOf(err) != xerrors.CodeNoAdmissibleBids {
		t.Fatalf("expected NoAdmissibleBids, got %v", err)
	}
	intents, err := f.orch.List(ctx, 10)
	if err != nil || len(intents) != 1 {
		t.Fatalf("intent should remain stored: %v %d", err, len(intents))
	}
	if _, err := f.store.GetAuction(ctx, intents[0].Commitment); !errors.Is(err, lifecycle.ErrNotPresent) {
		t.Fatalf("no auction result may be written, got %v", err)
	}
	status, err := f.orch.Status(ctx, intents[0].Commitment)
	if err != nil || status.Stage != lifecycle.StageParsed || status.Auctioned {
		t.Fatalf("unexpected status: %+v %v", status, err)
	}
	if len(f.alerts.alerts) != 0 {
		t.Fatalf("client errors must not alert: %+v", f.alerts.alerts)
	}
}

func TestParseFailurePersistsNothing(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	ctx := context.Background()

	if _, err := f.orch.Submit(ctx, "   ", user); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("empty text: %v", err)
	}
	if _, err := f.orch.Submit(ctx, yieldText, "alice"); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("bad user: %v", err)
	}
	intents, err := f.orch.List(ctx, 10)
	if err != nil || len(intents) != 0 {
		t.Fatalf("nothing may be stored: %v %d", err, len(intents))
	}
	if len(f.publisher.stages()) != 0 {
		t.Fatalf("no events may be published on failure")
	}
}

func TestResubmissionReturnsStoredAuction(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	ctx := context.Background()
	first, err := f.orch.Submit(ctx, yieldText, user)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := f.orch.Submit(ctx, yieldText, user)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Intent.Commitment != first.Intent.Commitment || second.Auction.Timestamp != first.Auction.Timestamp {
		t.Fatalf("resubmission should return stored state")
	}
	if len(second.Agents) != 0 {
		t.Fatalf("stored auction must not solicit agents again")
	}
}

func TestCommitmentCollisionAcrossUsers(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	ctx := context.Background()
	if _, err := f.orch.Submit(ctx, yieldText, "0xAlice"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := f.orch.Submit(ctx, yieldText, "0xBob")
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected collision, got %v", err)
	}
	intents, _ := f.orch.List(ctx, 10)
	if len(intents) != 1 || intents[0].User != "0xAlice" {
		t.Fatalf("first intent must stay bound: %+v", intents)
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	backend := &countingBackend{inner: execution.NewBridge(execution.WithClock(clock))}
	f := newFixture(t, fixtureOption{backend: backend})
	ctx := context.Background()
	sub, err := f.orch.Submit(ctx, yieldText, user)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.orch.Authorize(ctx, sub.Intent.Commitment, ""); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	first, err := f.orch.Execute(ctx, sub.Intent.Commitment)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	second, err := f.orch.Execute(ctx, sub.Intent.Commitment)
	if err != nil {
		t.Fatalf("execute again: %v", err)
	}
	if backend.count() != 1 || first.Proof != second.Proof {
		t.Fatalf("backend ran %d times", backend.count())
	}
}

func (p *recordingPublisher) count(stage lifecycle.Stage) int {
	n := 0
	for _, s := range p.stages() {
		if s == string(stage) {
			n++
		}
	}
	return n
}

func TestConcurrentExecuteRunsBackendOnce(t *testing.T) {
	backend := &countingBackend{inner: execution.NewBridge(execution.WithClock(clock)), gate: make(chan struct{})}
	f := newFixture(t, fixtureOption{backend: backend})
	ctx := context.Background()
	sub, err := f.orch.Submit(ctx, yieldText, user)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.orch.Authorize(ctx, sub.Intent.Commitment, ""); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	const callers = 5
	logs := make([]*lifecycle.ExecutionLog, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logs[i], errs[i] = f.orch.Execute(ctx, sub.Intent.Commitment)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(backend.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if logs[i].Proof != logs[0].Proof || len(logs[i].Txs) != len(logs[0].Txs) {
			t.Fatalf("caller %d saw a different log: %+v vs %+v", i, logs[i], logs[0])
		}
	}
	if backend.count() != 1 {
		t.Fatalf("backend ran %d times, want 1", backend.count())
	}
	if n := f.publisher.count(lifecycle.StageExecuted); n != 1 {
		t.Fatalf("expected one executed event, got %d", n)
	}
	logs[0].Txs[0] = "mutated"
	if logs[1].Txs[0] == "mutated" {
		t.Fatal("callers must not share the returned log")
	}
}

func TestConcurrentAuthorizeWritesOnce(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	ctx := context.Background()
	sub, err := f.orch.Submit(ctx, yieldText, user)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	const callers = 5
	auths := make([]*lifecycle.Authorization, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			auths[i], errs[i] = f.orch.Authorize(ctx, sub.Intent.Commitment, "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if *auths[i] != *auths[0] {
			t.Fatalf("caller %d saw a different authorization: %+v vs %+v", i, auths[i], auths[0])
		}
	}
	if n := f.publisher.count(lifecycle.StageAuthorized); n != 1 {
		t.Fatalf("expected one authorized event, got %d", n)
	}
}

func TestExecuteRejectsUnverifiableProof(t *testing.T) {
	f := newFixture(t, fixtureOption{prover: forgingProver{proofs.NewMockOracle()}})
	ctx := context.Background()
	sub, err := f.orch.Submit(ctx, yieldText, user)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.orch.Authorize(ctx, sub.Intent.Commitment, ""); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := f.orch.Execute(ctx, sub.Intent.Commitment); xerrors.CodeOf(err) != xerrors.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if _, err := f.store.GetExecution(ctx, sub.Intent.Commitment); !errors.Is(err, lifecycle.ErrNotPresent) {
		t.Fatalf("unverified execution must not be stored: %v", err)
	}
	if n := f.publisher.count(lifecycle.StageExecuted); n != 0 {
		t.Fatalf("no executed event expected, got %d", n)
	}
}

func TestBackendFailureIsInternalAndAlerts(t *testing.T) {
	backend := &failingBackend{}
	f := newFixture(t, fixtureOption{backend: backend})
	ctx := context.Background()
	sub, err := f.orch.Submit(ctx, yieldText, user)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.orch.Authorize(ctx, sub.Intent.Commitment, ""); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	_, err = f.orch.Execute(ctx, sub.Intent.Commitment)
	if xerrors.CodeOf(err) != xerrors.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if _, err := f.store.GetExecution(ctx, sub.Intent.Commitment); !errors.Is(err, lifecycle.ErrNotPresent) {
		t.Fatalf("failed execution must not be stored: %v", err)
	}
	if len(f.alerts.alerts) != 1 || f.alerts.alerts[0].Operation != string(lifecycle.StageExecuted) {
		t.Fatalf("expected one execution alert, got %+v", f.alerts.alerts)
	}
}

func TestSignatureVerifierRejects(t *testing.T) {
	f := newFixture(t, fixtureOption{extra: []lifecycle.Option{lifecycle.WithSignatureVerifier(rejectingVerifier{})}})
	ctx := context.Background()
	sub, err := f.orch.Submit(ctx, yieldText, user)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.orch.Authorize(ctx, sub.Intent.Commitment, "0xdead"); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.store.GetAuthorization(ctx, sub.Intent.Commitment); !errors.Is(err, lifecycle.ErrNotPresent) {
		t.Fatalf("rejected authorization must not be stored: %v", err)
	}
}

func TestResetClearsState(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	ctx := context.Background()
	sub, err := f.orch.Submit(ctx, yieldText, user)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.orch.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := f.orch.Status(ctx, sub.Intent.Commitment); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected NotFound after reset, got %v", err)
	}
}

func TestNewOrchestratorRequiresDependencies(t *testing.T) {
	if _, err := lifecycle.NewOrchestrator(lifecycle.Dependencies{}); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}
