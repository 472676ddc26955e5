package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"FuseGate/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	lastPrice   *prometheus.GaugeVec
	divergence  *prometheus.CounterVec
	signals     *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	drops       *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fusegate_last_price",
				Help: "Last admitted local price for an instrument",
			},
			[]string{"instrument"},
		),
		divergence: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusegate_divergence_total",
				Help: "Fused snapshots by divergence classification",
			},
			[]string{"instrument", "level"},
		),
		signals: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusegate_signals_total",
				Help: "Inference signals produced, by direction",
			},
			[]string{"instrument", "direction"},
		),
		decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusegate_decisions_total",
				Help: "Journaled decisions by outcome",
			},
			[]string{"instrument", "outcome"},
		),
		drops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusegate_drops_total",
				Help: "Samples and signals dropped, by reason",
			},
			[]string{"reason"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fusegate_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fusegate_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordSample records the last admitted price for an instrument.
func (r *Recorder) RecordSample(instrument string, price float64) {
	r.lastPrice.WithLabelValues(instrument).Set(price)
}

// RecordDivergence records one fused snapshot's divergence classification.
func (r *Recorder) RecordDivergence(instrument string, level models.DivergenceLevel) {
	r.divergence.WithLabelValues(instrument, string(level)).Inc()
}

// RecordSignal records a produced inference signal.
func (r *Recorder) RecordSignal(instrument string, direction models.Direction) {
	r.signals.WithLabelValues(instrument, string(direction)).Inc()
}

// RecordDecision records a journaled decision.
func (r *Recorder) RecordDecision(instrument string, outcome models.Outcome) {
	r.decisions.WithLabelValues(instrument, string(outcome)).Inc()
}

// RecordDrop records an accounted drop.
func (r *Recorder) RecordDrop(reason string) {
	r.drops.WithLabelValues(reason).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
