package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Treasury/internal/domain/models"
	"Treasury/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReviewer struct {
	verdict models.AdvisoryVerdict
	err     error
	block   bool
}

func (s *stubReviewer) Name() string { return "stub" }

func (s *stubReviewer) Review(ctx context.Context, _ models.AdvisoryRequest) (models.AdvisoryVerdict, error) {
	if s.block {
		// ignores ctx on purpose
		time.Sleep(time.Second)
	}
	return s.verdict, s.err
}

type outcomeRecorder struct{ outcomes []string }

func (r *outcomeRecorder) RecordSourceFetch(string, models.FieldStatus, float64) {}
func (r *outcomeRecorder) RecordCycle(string, float64) {}
func (r *outcomeRecorder) RecordSignal(models.MarketPhase, float64, bool) {}
func (r *outcomeRecorder) RecordDrift(models.Bucket, float64) {}
func (r *outcomeRecorder) RecordTrigger(models.ReasonCode) {}
func (r *outcomeRecorder) RecordAdvisory(outcome string) { r.outcomes = append(r.outcomes, outcome) }
func (r *outcomeRecorder) RecordError(string) {}

func request() models.AdvisoryRequest {
	return models.AdvisoryRequest{
		Plan: models.RebalancePlan{
			DecisionID: "d-1",
			TotalValue: decimal.NewFromInt(400000),
			Deltas: map[models.Bucket]decimal.Decimal{
				models.BucketYield: decimal.NewFromInt(80000),
				models.BucketBTC:   decimal.NewFromInt(-70000),
				models.BucketETH:   decimal.NewFromInt(-70000),
				models.BucketCash:  decimal.NewFromInt(60000),
			},
		},
		Snapshot: models.MarketSnapshot{
			ValuationRatio: models.Float64(7.2),
			Prices:         map[models.Asset]decimal.Decimal{models.AssetBTC: decimal.NewFromInt(98000)},
			Sentiment:      models.Int(85),
		},
		Reason: models.ReasonSell67,
		Signal: models.AllocationSignal{
			Phase:  models.PhaseTop,
			Target: models.Allocation{models.BucketYield: 0.8, models.BucketBTC: 0.025, models.BucketETH: 0.025, models.BucketCash: 0.15},
		},
		Portfolio: models.PortfolioState{
			Actual: models.Allocation{models.BucketYield: 0.6, models.BucketBTC: 0.2, models.BucketETH: 0.2},
		},
	}
}

func TestGateApproves(t *testing.T) {
	rec := &outcomeRecorder{}
	g := NewGate(&stubReviewer{verdict: models.AdvisoryVerdict{Approved: true, Confidence: 0.9, Reasoning: "ok"}}, time.Second, logger.Nop(), rec)

	v := g.Review(context.Background(), request())
	assert.True(t, v.Approved)
	assert.InDelta(t, 0.9, v.Confidence, 1e-9)
	assert.False(t, v.Unavailable)
	assert.Equal(t, "stub", v.Reviewer)
	assert.False(t, v.ReviewedAt.IsZero())
	assert.Equal(t, []string{"approved"}, rec.outcomes)
}

func TestGateGenuineRejection(t *testing.T) {
	rec := &outcomeRecorder{}
	g := NewGate(&stubReviewer{verdict: models.AdvisoryVerdict{Approved: false, Confidence: 0.7, Reasoning: "timing"}}, time.Second, logger.Nop(), rec)

	v := g.Review(context.Background(), request())
	assert.False(t, v.Approved)
	assert.False(t, v.Unavailable)
	assert.Equal(t, "timing", v.Reasoning)
	assert.Equal(t, []string{"rejected"}, rec.outcomes)
}

func TestGateSafeDefault(t *testing.T) {
	tests := map[string]*stubReviewer{
		"transport error": {err: errors.New("connection refused")},
		"bad confidence":  {verdict: models.AdvisoryVerdict{Approved: true, Confidence: 1.5}},
		"negative conf":   {verdict: models.AdvisoryVerdict{Approved: true, Confidence: -0.1}},
		"parse error":     {err: errors.New("unrecognised decision")},
	}
	for name, r := range tests {
		t.Run(name, func(t *testing.T) {
			rec := &outcomeRecorder{}
			v := NewGate(r, time.Second, logger.Nop(), rec).Review(context.Background(), request())
			assert.False(t, v.Approved)
			assert.Zero(t, v.Confidence)
			assert.True(t, v.Unavailable)
			assert.Equal(t, models.SafeDefaultReasoning, v.Reasoning)
			assert.Equal(t, []string{"unavailable"}, rec.outcomes)
		})
	}
}

func TestGateTimeoutBound(t *testing.T) {
	g := NewGate(&stubReviewer{block: true, verdict: models.AdvisoryVerdict{Approved: true, Confidence: 1}}, 50*time.Millisecond, logger.Nop(), nil)

	start := time.Now()
	v := g.Review(context.Background(), request())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, v.Approved)
	assert.Zero(t, v.Confidence)
	assert.True(t, v.Unavailable)
}

func TestGateWithoutReviewer(t *testing.T) {
	v := NewGate(nil, 0, logger.Nop(), nil).Review(context.Background(), request())
	assert.True(t, v.Unavailable)
	assert.Equal(t, DefaultTimeout, NewGate(nil, time.Hour, logger.Nop(), nil).Timeout())
}

func TestHTTPReviewer(t *testing.T) {
	tests := map[string]struct {
		status  int
		body    string
		want    models.AdvisoryVerdict
		wantErr bool
	}{
		"approve":       {status: 200, body: `{"approved":true,"confidence":0.9,"reasoning":"sound"}`, want: models.AdvisoryVerdict{Approved: true, Confidence: 0.9, Reasoning: "sound"}},
		"reject":        {status: 200, body: `{"approved":false,"confidence":0.8,"reasoning":"no"}`, want: models.AdvisoryVerdict{Confidence: 0.8, Reasoning: "no"}},
		"missing field": {status: 200, body: `{"confidence":0.9}`, wantErr: true},
		"out of range":  {status: 200, body: `{"approved":true,"confidence":90}`, wantErr: true},
		"malformed":     {status: 200, body: `not json`, wantErr: true},
		"server error":  {status: 502, body: `bad gateway`, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				var req models.AdvisoryRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, models.ReasonSell67, req.Reason)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			v, err := NewHTTPReviewer(srv.URL, time.Second).Review(context.Background(), request())
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want.Approved, v.Approved)
			assert.InDelta(t, tc.want.Confidence, v.Confidence, 1e-9)
			assert.Equal(t, tc.want.Reasoning, v.Reasoning)
			assert.Equal(t, "http", v.Reviewer)
		})
	}
}

func TestParseVerdict(t *testing.T) {
	tests := map[string]struct {
		text    string
		want    models.AdvisoryVerdict
		wantErr bool
	}{
		"approve": {
			text: "DECISION: APPROVE\nREASONING: Valuation is stretched.\nCONFIDENCE: 85",
			want: models.AdvisoryVerdict{Approved: true, Confidence: 0.85, Reasoning: "Valuation is stretched."},
		},
		"reject with percent and preamble": {
			text: "Here is my review.\n\nDECISION: [REJECT]\nREASONING: Data is stale.\nCONFIDENCE: 70%\n",
			want: models.AdvisoryVerdict{Confidence: 0.70, Reasoning: "Data is stale."},
		},
		"missing confidence": {text: "DECISION: APPROVE\nREASONING: fine", wantErr: true},
		"unknown decision":   {text: "DECISION: MAYBE\nREASONING: x\nCONFIDENCE: 50", wantErr: true},
		"bad number":         {text: "DECISION: APPROVE\nREASONING: x\nCONFIDENCE: high", wantErr: true},
		"over 100":           {text: "DECISION: APPROVE\nREASONING: x\nCONFIDENCE: 150", wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			v, err := ParseVerdict(tc.text)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want.Approved, v.Approved)
			assert.InDelta(t, tc.want.Confidence, v.Confidence, 1e-9)
			assert.Equal(t, tc.want.Reasoning, v.Reasoning)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(request())
	assert.Contains(t, p, "$400000 treasury")
	assert.Contains(t, p, "Reason: SELL_67")
	assert.Contains(t, p, "- btc: 20.0% -> 2.5% (-70000.00)")
	assert.Contains(t, p, "- MVRV: 7.20 (top)")
	assert.Contains(t, p, "- BTC: $98000.00")
	assert.Contains(t, p, "Proposed volatile allocation: 5.0%")
	assert.True(t, strings.HasSuffix(p, "CONFIDENCE: [number 0-100]\n"))
}

func TestLLMReviewer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "SELL_67")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":          "msg_01",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-sonnet-4-5",
			"content":     [{"type": "text", "text": "DECISION: APPROVE\nREASONING: De-risking into strength.\nCONFIDENCE: 90"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 20}
		}`))
	}))
	defer srv.Close()

	r := NewLLMReviewer(LLMConfig{APIKey: "test-key", Model: "claude-sonnet-4-5", BaseURL: srv.URL})
	v, err := r.Review(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.InDelta(t, 0.9, v.Confidence, 1e-9)
	assert.Equal(t, "De-risking into strength.", v.Reasoning)
	assert.Equal(t, "llm:claude-sonnet-4-5", v.Reviewer)
}
