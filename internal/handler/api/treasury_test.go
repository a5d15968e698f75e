package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Treasury/internal/domain/models"
	xhttp "Treasury/pkg/http"
	xlogger "Treasury/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvaluator struct {
	decision  models.RebalanceDecision
	cycleErr  error
	haveCycle bool
	entries   []models.JournalEntry
	gotLimit  int
	cycleCtx  error
}

func (f *fakeEvaluator) EvaluateCycle(ctx context.Context) (models.RebalanceDecision, error) {
	f.cycleCtx = ctx.Err()
	if f.cycleErr != nil {
		return models.RebalanceDecision{}, f.cycleErr
	}
	f.haveCycle = true
	return f.decision, nil
}

func (f *fakeEvaluator) LastSnapshot() (models.MarketSnapshot, error) {
	if !f.haveCycle {
		return models.MarketSnapshot{}, models.ErrNoCycleYet
	}
	return f.decision.Snapshot, nil
}

func (f *fakeEvaluator) LastState() (models.PortfolioState, error) {
	if !f.haveCycle {
		return models.PortfolioState{}, models.ErrNoCycleYet
	}
	return f.decision.Portfolio, nil
}

func (f *fakeEvaluator) LastDecision() (models.RebalanceDecision, error) {
	if !f.haveCycle {
		return models.RebalanceDecision{}, models.ErrNoCycleYet
	}
	return f.decision, nil
}

func (f *fakeEvaluator) Journal(_ context.Context, limit int) ([]models.JournalEntry, error) {
	f.gotLimit = limit
	return f.entries, nil
}

func (f *fakeEvaluator) TriggerState(context.Context) (models.TriggerState, time.Duration, error) {
	return models.StateCoolingDown, 2 * time.Hour, nil
}

func newTestServer(ev Evaluator) *echo.Echo {
	e := echo.New()
	NewTreasuryHandler(xlogger.Nop(), ev).RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target string) (*httptest.ResponseRecorder, xhttp.APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var body xhttp.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func sampleDecision() models.RebalanceDecision {
	return models.RebalanceDecision{
		ID:        "d-1",
		Triggered: true,
		State:     models.StateTriggered,
		Reason:    models.ReasonDrift,
		Snapshot:  models.MarketSnapshot{ValuationRatio: models.Float64(2.43)},
		Portfolio: models.PortfolioState{TotalValue: decimal.NewFromInt(100000)},
	}
}

func TestReadsBeforeFirstCycleAre404(t *testing.T) {
	e := newTestServer(&fakeEvaluator{})
	for _, path := range []string{"/api/snapshot", "/api/state", "/api/decision"} {
		rec, body := do(t, e, http.MethodGet, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, http.StatusNotFound, body.Status, path)
	}
}

func TestCycleThenReads(t *testing.T) {
	ev := &fakeEvaluator{decision: sampleDecision()}
	e := newTestServer(ev)

	rec, body := do(t, e, http.MethodPost, "/api/cycle")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body.Data.(map[string]interface{})
	assert.Equal(t, "d-1", data["id"])
	assert.Equal(t, "DRIFT", data["reason"])

	rec, body = do(t, e, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	state := body.Data.(map[string]interface{})
	assert.Equal(t, "cooling_down", state["trigger_state"])
	assert.Equal(t, "2h0m0s", state["cooldown_remaining"])

	rec, _ = do(t, e, http.MethodGet, "/api/snapshot")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCycleInProgressIs409(t *testing.T) {
	e := newTestServer(&fakeEvaluator{cycleErr: models.ErrCycleInProgress})

	rec, body := do(t, e, http.MethodPost, "/api/cycle")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, http.StatusConflict, body.Status)
}

func TestCycleIsRateLimitedPerClient(t *testing.T) {
	e := newTestServer(&fakeEvaluator{decision: sampleDecision()})

	rec, _ := do(t, e, http.MethodPost, "/api/cycle")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, e, http.MethodPost, "/api/cycle")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestJournalLimit(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLimit int
	}{
		{"default", "", http.StatusOK, 20},
		{"explicit", "?limit=5", http.StatusOK, 5},
		{"zero", "?limit=0", http.StatusOK, 20},
		{"too large", "?limit=1000", http.StatusBadRequest, 0},
		{"not a number", "?limit=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &fakeEvaluator{entries: []models.JournalEntry{{ID: "a"}, {ID: "b"}}}
			rec, body := do(t, newTestServer(ev), http.MethodGet, "/api/journal"+tt.query)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantLimit, ev.gotLimit)
			if tt.wantCode == http.StatusOK {
				list := body.Data.(map[string]interface{})
				assert.EqualValues(t, 2, list["total"])
			}
		})
	}
}

func TestHealth(t *testing.T) {
	rec, body := do(t, newTestServer(&fakeEvaluator{}), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body.Data.(map[string]interface{})["status"])
}

func TestCycleOutlivesClientDisconnect(t *testing.T) {
	ev := &fakeEvaluator{decision: sampleDecision()}
	e := newTestServer(ev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/cycle", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, ev.cycleCtx, "cycle context must not inherit the request cancellation")
	assert.True(t, ev.haveCycle)
}
