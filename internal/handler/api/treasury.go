package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/internal/service/ratelimit"
	xhttp "Treasury/pkg/http"
	xlogger "Treasury/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Evaluator is the slice of the engine the HTTP surface needs.
type Evaluator interface {
	EvaluateCycle(ctx context.Context) (models.RebalanceDecision, error)
	LastSnapshot() (models.MarketSnapshot, error)
	LastState() (models.PortfolioState, error)
	LastDecision() (models.RebalanceDecision, error)
	Journal(ctx context.Context, limit int) ([]models.JournalEntry, error)
	TriggerState(ctx context.Context) (models.TriggerState, time.Duration, error)
}

type JournalRequest struct {
	Limit int `query:"limit" default:"20" validate:"gte=1,lte=500"`
}

type StateResponse struct {
	Portfolio         models.PortfolioState `json:"portfolio"`
	TriggerState      models.TriggerState   `json:"trigger_state"`
	CooldownRemaining string                `json:"cooldown_remaining"`
}

// TreasuryHandler serves read access to the last cycle and a manual trigger.
type TreasuryHandler struct {
	logger *xlogger.Logger
	engine Evaluator
	rl     *ratelimit.Limiter
}

func NewTreasuryHandler(logger *xlogger.Logger, engine Evaluator) *TreasuryHandler {
	return &TreasuryHandler{logger: logger, engine: engine, rl: ratelimit.New()}
}

func (h *TreasuryHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/snapshot", h.Snapshot)
	g.GET("/state", h.State)
	g.GET("/decision", h.Decision)
	g.GET("/journal", h.Journal)
	g.POST("/cycle", h.Cycle)
}

func (h *TreasuryHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *TreasuryHandler) Snapshot(c echo.Context) error {
	snap, err := h.engine.LastSnapshot()
	if err != nil {
		return h.fail(c, "snapshot", err)
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *TreasuryHandler) State(c echo.Context) error {
	state, err := h.engine.LastState()
	if err != nil {
		return h.fail(c, "state", err)
	}
	ts, remaining, err := h.engine.TriggerState(c.Request().Context())
	if err != nil {
		return h.fail(c, "state", err)
	}
	return xhttp.SuccessResponse(c, StateResponse{
		Portfolio:         state,
		TriggerState:      ts,
		CooldownRemaining: remaining.String(),
	})
}

func (h *TreasuryHandler) Decision(c echo.Context) error {
	d, err := h.engine.LastDecision()
	if err != nil {
		return h.fail(c, "decision", err)
	}
	return xhttp.SuccessResponse(c, d)
}

func (h *TreasuryHandler) Journal(c echo.Context) error {
	req := &JournalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	entries, err := h.engine.Journal(c.Request().Context(), req.Limit)
	if err != nil {
		return h.fail(c, "journal", err)
	}
	return xhttp.ListResponse(c, entries, int64(len(entries)))
}

// Cycle runs an evaluation on demand, at most one per client every 10s.
func (h *TreasuryHandler) Cycle(c echo.Context) error {
	if !h.rl.Allow(c.RealIP()+":cycle", 0.1, 1) {
		h.logger.Warn("manual cycle rate limited", xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many cycle requests", http.StatusTooManyRequests))
	}
	// A client hanging up must not abort a cycle that has already taken the
	// lock; the engine bounds the cycle with its own stage budget.
	d, err := h.engine.EvaluateCycle(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		return h.fail(c, "cycle", err)
	}
	return xhttp.SuccessResponse(c, d)
}

func (h *TreasuryHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, models.ErrNoCycleYet):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()).WithError(err))
	case errors.Is(err, models.ErrCycleInProgress):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(err.Error()).WithError(err))
	}
	h.logger.Error(op+" failed", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError("evaluation failed").WithError(err))
}
