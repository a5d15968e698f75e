package metrics

import (
	"testing"

	"Treasury/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordTrigger(models.ReasonDrift)
	r.RecordTrigger(models.ReasonDrift)
	r.RecordAdvisory("unavailable")
	r.RecordSignal(models.PhaseTop, 0.7, true)
	r.RecordDrift(models.BucketBTC, 0.06)

	assert.InDelta(t, 2, testutil.ToFloat64(r.triggers.WithLabelValues("DRIFT")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.advisory.WithLabelValues("unavailable")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.phase.WithLabelValues("top")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(r.phase.WithLabelValues("bear")), 1e-9)
	assert.InDelta(t, 0.7, testutil.ToFloat64(r.confidence), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.degraded), 1e-9)
	assert.InDelta(t, 0.06, testutil.ToFloat64(r.drift.WithLabelValues("btc")), 1e-9)
}
