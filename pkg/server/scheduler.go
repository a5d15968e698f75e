package server

import (
	"context"
	"errors"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/pkg/logger"

	"github.com/robfig/cron/v3"
)

// CycleRunner is what the scheduler drives on every tick.
type CycleRunner interface {
	EvaluateCycle(ctx context.Context) (models.RebalanceDecision, error)
}

// Scheduler runs evaluation cycles on a cron spec. Overlapping ticks are
// skipped; the engine's own guard covers manual triggers.
type Scheduler struct {
	cron   *cron.Cron
	runner CycleRunner
	budget time.Duration
	log    *logger.Logger
}

func NewScheduler(runner CycleRunner, budget time.Duration, l *logger.Logger) *Scheduler {
	log := l.With(logger.String("component", "scheduler"))
	cl := cronLogger{log}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner: runner,
		budget: budget,
		log:    log,
	}
}

// AddCycle registers the evaluation job. Specs follow robfig/cron, e.g.
// "@every 5m" or "*/15 * * * *".
func (s *Scheduler) AddCycle(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	s.log.Info("cycle job registered", logger.String("schedule", spec))
	return nil
}

// RunOnce runs one cycle bounded by the stage budget and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	d, err := s.runner.EvaluateCycle(ctx)
	switch {
	case errors.Is(err, models.ErrCycleInProgress):
		s.log.Info("cycle skipped, another is running")
	case err != nil:
		s.log.Error("cycle failed", logger.String("decision_id", d.ID), logger.Error(err))
	default:
		s.log.Debug("cycle completed",
			logger.String("decision_id", d.ID),
			logger.Bool("triggered", d.Triggered),
			logger.String("reason", string(d.Reason)),
		)
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop waits for a running cycle to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct{ l *logger.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug("cron: "+msg, logger.Any("kv", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error("cron: "+msg, logger.Error(err), logger.Any("kv", kv))
}
