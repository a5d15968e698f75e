package advisory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/internal/domain/repository"
	"Treasury/internal/domain/service"
	"Treasury/pkg/logger"
)

const (
	DefaultTimeout = 30 * time.Second

	outcomeApproved    = "approved"
	outcomeRejected    = "rejected"
	outcomeUnavailable = "unavailable"
)

// Gate puts a timeout around the reviewer and turns every failure into
// models.SafeDefaultVerdict. It never returns an error.
type Gate struct {
	reviewer service.AdvisoryReviewer
	timeout  time.Duration
	now      func() time.Time
	log      *logger.Logger
	metrics  repository.Metrics
}

func NewGate(reviewer service.AdvisoryReviewer, timeout time.Duration, l *logger.Logger, m repository.Metrics) *Gate {
	if timeout <= 0 || timeout > DefaultTimeout {
		timeout = DefaultTimeout
	}
	return &Gate{
		reviewer: reviewer,
		timeout:  timeout,
		now:      time.Now,
		log:      l.With(logger.String("component", "advisory_gate")),
		metrics:  m,
	}
}

func (g *Gate) Timeout() time.Duration { return g.timeout }

type reviewResult struct {
	verdict models.AdvisoryVerdict
	err     error
}

// Review returns within the gate timeout even if the reviewer ignores its
// context.
func (g *Gate) Review(ctx context.Context, req models.AdvisoryRequest) models.AdvisoryVerdict {
	if g.reviewer == nil {
		return g.unavailable(req, errors.New("no reviewer configured"))
	}

	rctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ch := make(chan reviewResult, 1)
	go func() {
		v, err := g.reviewer.Review(rctx, req)
		ch <- reviewResult{v, err}
	}()

	var res reviewResult
	select {
	case res = <-ch:
	case <-rctx.Done():
		res.err = rctx.Err()
	}

	if res.err != nil {
		return g.unavailable(req, res.err)
	}
	if err := checkVerdict(res.verdict); err != nil {
		return g.unavailable(req, err)
	}

	v := res.verdict
	v.Unavailable = false
	if v.Reviewer == "" {
		v.Reviewer = g.reviewer.Name()
	}
	if v.ReviewedAt.IsZero() {
		v.ReviewedAt = g.now()
	}

	if v.Approved {
		g.record(outcomeApproved)
		g.log.Info("advisory approved",
			logger.String("decision_id", req.Plan.DecisionID),
			logger.String("reviewer", v.Reviewer),
			logger.Float64("confidence", v.Confidence),
		)
	} else {
		g.record(outcomeRejected)
		g.log.Info("advisory rejected",
			logger.String("decision_id", req.Plan.DecisionID),
			logger.String("reviewer", v.Reviewer),
			logger.Float64("confidence", v.Confidence),
			logger.String("reasoning", v.Reasoning),
		)
	}
	return v
}

func (g *Gate) unavailable(req models.AdvisoryRequest, err error) models.AdvisoryVerdict {
	g.record(outcomeUnavailable)
	name := ""
	if g.reviewer != nil {
		name = g.reviewer.Name()
	}
	g.log.Warn("advisory unavailable",
		logger.String("decision_id", req.Plan.DecisionID),
		logger.String("reviewer", name),
		logger.Error(fmt.Errorf("%w: %v", models.ErrAdvisoryUnavailable, err)),
	)
	v := models.SafeDefaultVerdict(g.now())
	v.Reviewer = name
	return v
}

func (g *Gate) record(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordAdvisory(outcome)
	}
}

func checkVerdict(v models.AdvisoryVerdict) error {
	if math.IsNaN(v.Confidence) || v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", v.Confidence)
	}
	return nil
}
