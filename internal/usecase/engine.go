package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Treasury/internal/domain/models"
	domrepo "Treasury/internal/domain/repository"
	"Treasury/internal/services/advisory"
	"Treasury/internal/services/allocation"
	"Treasury/internal/services/portfolio"
	"Treasury/internal/services/trigger"
	"Treasury/pkg/cache"
	"Treasury/pkg/config"
	"Treasury/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const cycleLockKey = "engine:cycle"

// SnapshotSource builds the market snapshot for a cycle.
type SnapshotSource interface {
	Aggregate(ctx context.Context) models.MarketSnapshot
}

// Engine runs evaluation cycles. All collaborators are injected; the only
// state it keeps is the outcome of the last cycle for read access.
type Engine struct {
	market     SnapshotSource
	classifier *allocation.Classifier
	generator  *allocation.Generator
	trigger    *trigger.Engine
	gate       *advisory.Gate
	positions  domrepo.PositionStore
	journal    domrepo.JournalStore
	guard      cache.Store
	metrics    domrepo.Metrics
	cfg        config.EngineConfig
	budget     time.Duration
	now        func() time.Time
	newID      func() string
	log        *logger.Logger

	mu           sync.RWMutex
	lastSnapshot *models.MarketSnapshot
	lastState    *models.PortfolioState
	lastDecision *models.RebalanceDecision
}

func NewEngine(
	market SnapshotSource,
	classifier *allocation.Classifier,
	generator *allocation.Generator,
	trig *trigger.Engine,
	gate *advisory.Gate,
	positions domrepo.PositionStore,
	journal domrepo.JournalStore,
	guard cache.Store,
	m domrepo.Metrics,
	cfg *config.Config,
	l *logger.Logger,
) *Engine {
	if m == nil {
		m = nopMetrics{}
	}
	return &Engine{
		market:     market,
		classifier: classifier,
		generator:  generator,
		trigger:    trig,
		gate:       gate,
		positions:  positions,
		journal:    journal,
		guard:      guard,
		metrics:    m,
		cfg:        cfg.Engine,
		budget:     cfg.StageBudget(),
		now:        time.Now,
		newID:      uuid.NewString,
		log:        l.With(logger.String("component", "engine")),
	}
}

type cycleInputs struct {
	snapshot      models.MarketSnapshot
	positions     []models.Position
	lastTriggered *time.Time
}

// EvaluateCycle runs one full pass: aggregate, classify, generate, compute
// state, evaluate triggers and, on a trigger, plan, review and journal. Only
// triggered decisions and aborted cycles are journaled. A cycle is refused with
// models.ErrCycleInProgress while another one holds the guard.
func (e *Engine) EvaluateCycle(ctx context.Context) (models.RebalanceDecision, error) {
	ok, err := e.guard.TryLock(ctx, cycleLockKey, e.budget+5*time.Second)
	if err != nil {
		return models.RebalanceDecision{}, fmt.Errorf("acquire cycle guard: %w", err)
	}
	if !ok {
		return models.RebalanceDecision{}, models.ErrCycleInProgress
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := e.guard.Unlock(uctx, cycleLockKey); err != nil {
			e.log.Warn("release cycle guard failed", logger.Error(err))
		}
	}()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	id := e.newID()
	at := e.now()
	log := e.log.With(logger.String("decision_id", id))

	in, err := e.gather(ctx)
	if err != nil {
		return e.abort(ctx, id, at, start, nil, fmt.Sprintf("gather inputs: %v", err), err)
	}
	snap := in.snapshot
	e.mu.Lock()
	e.lastSnapshot = &snap
	e.mu.Unlock()

	phase := e.classifier.Classify(snap)
	signal, err := e.generator.Generate(snap, phase)
	if err != nil {
		return e.abort(ctx, id, at, start, &snap, err.Error(), err)
	}
	e.metrics.RecordSignal(signal.Phase, signal.Confidence, signal.Degraded)

	positions := portfolio.Revalue(in.positions, snap)
	state, err := portfolio.ComputeState(positions, signal, in.lastTriggered)
	if err != nil {
		return e.abort(ctx, id, at, start, &snap, err.Error(), err)
	}
	for b, d := range state.Drift {
		e.metrics.RecordDrift(b, d)
	}
	e.mu.Lock()
	e.lastState = &state
	e.mu.Unlock()

	out := e.trigger.Evaluate(trigger.Input{
		Now:           at,
		Snapshot:      snap,
		Signal:        signal,
		Portfolio:     state,
		LastTriggered: in.lastTriggered,
	})

	decision := models.RebalanceDecision{
		ID:        id,
		Timestamp: at,
		Triggered: out.Triggered,
		State:     out.State,
		Reason:    out.Reason,
		Detail:    out.Detail,
		Snapshot:  snap,
		Signal:    signal,
		Portfolio: state,
		Degraded:  snap.Degraded,
	}

	if !out.Triggered {
		e.finish(decision, "no_trigger", start)
		log.Info("cycle finished without trigger",
			logger.String("phase", string(signal.Phase)),
			logger.String("state", string(out.State)),
			logger.String("reason", string(out.Reason)),
			logger.Float64("confidence", signal.Confidence),
			logger.Bool("degraded", snap.Degraded),
		)
		return decision, nil
	}

	e.metrics.RecordTrigger(out.Reason)
	plan := portfolio.ComputePlan(id, state, signal)
	decision.Plan = &plan

	verdict := e.gate.Review(ctx, models.AdvisoryRequest{
		Plan:      plan,
		Snapshot:  snap,
		Reason:    out.Reason,
		Detail:    out.Detail,
		Signal:    signal,
		Portfolio: state,
	})
	decision.Verdict = &verdict
	decision.Executable = verdict.Approved

	entry := models.JournalEntry{
		ID:         id,
		Timestamp:  at,
		Kind:       models.JournalDecision,
		Triggered:  true,
		Executable: decision.Executable,
		Reason:     decision.Reason,
		Decision:   &decision,
	}
	if err := e.appendJournal(ctx, entry); err != nil {
		e.metrics.RecordError("journal")
		e.finish(decision, "journal_failed", start)
		log.Error("journal append failed", logger.String("reason", string(decision.Reason)), logger.Error(err))
		return decision, fmt.Errorf("journal decision: %w", err)
	}

	e.finish(decision, "triggered", start)
	log.Info("rebalance triggered",
		logger.String("reason", string(decision.Reason)),
		logger.String("detail", decision.Detail),
		logger.Bool("executable", decision.Executable),
		logger.Bool("advisory_unavailable", verdict.Unavailable),
		logger.Bool("degraded", snap.Degraded),
	)
	return decision, nil
}

// gather reads market data, positions and the cooldown reference together.
func (e *Engine) gather(ctx context.Context) (cycleInputs, error) {
	var in cycleInputs
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		in.snapshot = e.market.Aggregate(gctx)
		return nil
	})
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gctx, e.cfg.PositionTimeout)
		defer cancel()
		ps, err := e.positions.ListPositions(pctx)
		if err != nil {
			return fmt.Errorf("list positions: %w", err)
		}
		in.positions = ps
		return nil
	})
	g.Go(func() error {
		jctx, cancel := context.WithTimeout(gctx, e.cfg.JournalTimeout)
		defer cancel()
		last, ok, err := e.journal.LastTriggered(jctx)
		if err != nil {
			return fmt.Errorf("read last trigger: %w", err)
		}
		if ok {
			in.lastTriggered = &last
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return in, err
	}
	if err := ctx.Err(); err != nil {
		return in, fmt.Errorf("cycle deadline: %w", err)
	}
	return in, nil
}

// abort journals an explicit aborted marker and ends the cycle with cause.
// abort records a failed cycle. snap is the snapshot built this cycle, nil
// when the cycle failed before one existed.
func (e *Engine) abort(ctx context.Context, id string, at, start time.Time, snap *models.MarketSnapshot, reason string, cause error) (models.RebalanceDecision, error) {
	kind := "aborted"
	if errors.Is(cause, models.ErrInvariantViolation) {
		kind = "invariant_violation"
	}
	e.metrics.RecordError(kind)

	decision := models.RebalanceDecision{
		ID:        id,
		Timestamp: at,
		State:     models.StateIdle,
		Reason:    models.ReasonAborted,
		Detail:    reason,
	}
	if snap != nil {
		decision.Snapshot = *snap
		decision.Degraded = snap.Degraded
	}

	entry := models.JournalEntry{
		ID:          id,
		Timestamp:   at,
		Kind:        models.JournalAborted,
		Reason:      models.ReasonAborted,
		AbortReason: reason,
	}
	if err := e.appendJournal(ctx, entry); err != nil {
		e.log.Error("journal abort marker failed", logger.String("decision_id", id), logger.Error(err))
	}

	e.finish(decision, "aborted", start)
	e.log.Error("cycle aborted", logger.String("decision_id", id), logger.String("reason", reason), logger.Error(cause))
	return decision, fmt.Errorf("cycle aborted: %w", cause)
}

// appendJournal survives the cycle deadline so the audit record is written.
func (e *Engine) appendJournal(ctx context.Context, entry models.JournalEntry) error {
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.JournalTimeout)
	defer cancel()
	return e.journal.Append(jctx, entry)
}

func (e *Engine) finish(d models.RebalanceDecision, result string, start time.Time) {
	e.metrics.RecordCycle(result, time.Since(start).Seconds())
	e.mu.Lock()
	e.lastDecision = &d
	e.mu.Unlock()
}

func (e *Engine) LastSnapshot() (models.MarketSnapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastSnapshot == nil {
		return models.MarketSnapshot{}, models.ErrNoCycleYet
	}
	return *e.lastSnapshot, nil
}

func (e *Engine) LastState() (models.PortfolioState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastState == nil {
		return models.PortfolioState{}, models.ErrNoCycleYet
	}
	return *e.lastState, nil
}

func (e *Engine) LastDecision() (models.RebalanceDecision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastDecision == nil {
		return models.RebalanceDecision{}, models.ErrNoCycleYet
	}
	return *e.lastDecision, nil
}

// Journal exposes recent journal entries, newest first.
func (e *Engine) Journal(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	return e.journal.Recent(ctx, limit)
}

// TriggerState reports idle or cooling down as of now, from the journal.
func (e *Engine) TriggerState(ctx context.Context) (models.TriggerState, time.Duration, error) {
	last, ok, err := e.journal.LastTriggered(ctx)
	if err != nil {
		return "", 0, err
	}
	var lp *time.Time
	if ok {
		lp = &last
	}
	now := e.now()
	return e.trigger.StateAt(now, lp), e.trigger.CooldownRemaining(now, lp), nil
}

type nopMetrics struct{}

func (nopMetrics) RecordSourceFetch(string, models.FieldStatus, float64) {}
func (nopMetrics) RecordCycle(string, float64)                           {}
func (nopMetrics) RecordSignal(models.MarketPhase, float64, bool)        {}
func (nopMetrics) RecordDrift(models.Bucket, float64)                    {}
func (nopMetrics) RecordTrigger(models.ReasonCode)                       {}
func (nopMetrics) RecordAdvisory(string)                                 {}
func (nopMetrics) RecordError(string)                                    {}
