package metrics

import (
	"Treasury/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	sourceFetches *prometheus.HistogramVec
	cycles        *prometheus.HistogramVec
	phase         *prometheus.GaugeVec
	confidence    prometheus.Gauge
	degraded      prometheus.Gauge
	drift         *prometheus.GaugeVec
	triggers      *prometheus.CounterVec
	advisory      *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
}

// New registers the collectors on reg; nil means the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		sourceFetches: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "treasury_source_fetch_seconds",
				Help:    "Market data fetch latency by source and resulting field status",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"source", "status"},
		),
		cycles: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "treasury_cycle_duration_seconds",
				Help:    "Evaluation cycle duration by result",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"result"},
		),
		phase: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "treasury_market_phase",
				Help: "1 for the phase of the latest signal, 0 otherwise",
			},
			[]string{"phase"},
		),
		confidence: f.NewGauge(prometheus.GaugeOpts{
			Name: "treasury_signal_confidence",
			Help: "Confidence of the latest allocation signal",
		}),
		degraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "treasury_snapshot_degraded",
			Help: "1 when more than half the sources were stale or defaulted",
		}),
		drift: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "treasury_bucket_drift",
				Help: "Actual minus target fraction per bucket",
			},
			[]string{"bucket"},
		),
		triggers: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_triggers_total",
				Help: "Triggered rebalance decisions by reason",
			},
			[]string{"reason"},
		),
		advisory: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_advisory_verdicts_total",
				Help: "Advisory outcomes: approved, rejected, unavailable",
			},
			[]string{"outcome"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_errors_total",
				Help: "Errors by kind",
			},
			[]string{"kind"},
		),
	}
}

func (r *Recorder) RecordSourceFetch(source string, status models.FieldStatus, seconds float64) {
	r.sourceFetches.WithLabelValues(source, string(status)).Observe(seconds)
}

func (r *Recorder) RecordCycle(result string, seconds float64) {
	r.cycles.WithLabelValues(result).Observe(seconds)
}

func (r *Recorder) RecordSignal(phase models.MarketPhase, confidence float64, degraded bool) {
	for _, p := range []models.MarketPhase{models.PhaseBear, models.PhaseAccumulation, models.PhaseEuphoria, models.PhaseTop, models.PhaseUnknown} {
		v := 0.0
		if p == phase {
			v = 1
		}
		r.phase.WithLabelValues(string(p)).Set(v)
	}
	r.confidence.Set(confidence)
	if degraded {
		r.degraded.Set(1)
	} else {
		r.degraded.Set(0)
	}
}

func (r *Recorder) RecordDrift(bucket models.Bucket, drift float64) {
	r.drift.WithLabelValues(string(bucket)).Set(drift)
}

func (r *Recorder) RecordTrigger(reason models.ReasonCode) {
	r.triggers.WithLabelValues(string(reason)).Inc()
}

func (r *Recorder) RecordAdvisory(outcome string) {
	r.advisory.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
