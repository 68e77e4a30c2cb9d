// Package metrics exposes operational counters and model-quality gauges
// over a Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flowsentry/pkg/models"
)

// Set holds all registered collectors.
type Set struct {
	registry *prometheus.Registry

	FlowsScored     prometheus.Counter
	AlertsRaised    *prometheus.CounterVec
	PoisonedSamples prometheus.Counter
	CyclesCompleted prometheus.Counter
	CyclesSkipped   prometheus.Counter
	CyclesFailed    prometheus.Counter
	CyclesDropped   prometheus.Counter

	AccumulatedRows prometheus.Gauge
	PoisoningActive prometheus.Gauge
	ModelRecall     prometheus.Gauge
	ModelPrecision  prometheus.Gauge
	ModelF1         prometheus.Gauge
	ModelAccuracy   prometheus.Gauge
}

// New builds and registers the collector set.
func New() *Set {
	s := &Set{registry: prometheus.NewRegistry()}

	s.FlowsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_flows_scored_total",
		Help: "Flows scored against the current detection model.",
	})
	s.AlertsRaised = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_alerts_total",
		Help: "Alerts raised, by attributed attack category.",
	}, []string{"category"})
	s.PoisonedSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_poisoned_samples_total",
		Help: "Records label-flipped at intake.",
	})
	s.CyclesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_retrain_cycles_total",
		Help: "Completed retraining cycles.",
	})
	s.CyclesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_retrain_skipped_total",
		Help: "Retraining triggers skipped by the minimum-sample guard.",
	})
	s.CyclesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_retrain_failed_total",
		Help: "Retraining cycles aborted by an error.",
	})
	s.CyclesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_retrain_dropped_total",
		Help: "Retraining triggers dropped while a cycle was in flight.",
	})

	s.AccumulatedRows = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowsentry_accumulated_rows",
		Help: "Records currently held by the accumulation store.",
	})
	s.PoisoningActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowsentry_poisoning_active",
		Help: "1 when the poisoning state machine is active.",
	})
	s.ModelRecall = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowsentry_model_recall",
		Help: "Recall of the current model on the fixed evaluation set.",
	})
	s.ModelPrecision = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowsentry_model_precision",
		Help: "Precision of the current model on the fixed evaluation set.",
	})
	s.ModelF1 = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowsentry_model_f1",
		Help: "F1 of the current model on the fixed evaluation set.",
	})
	s.ModelAccuracy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowsentry_model_accuracy",
		Help: "Accuracy of the current model on the fixed evaluation set.",
	})

	s.registry.MustRegister(
		s.FlowsScored, s.AlertsRaised, s.PoisonedSamples,
		s.CyclesCompleted, s.CyclesSkipped, s.CyclesFailed, s.CyclesDropped,
		s.AccumulatedRows, s.PoisoningActive,
		s.ModelRecall, s.ModelPrecision, s.ModelF1, s.ModelAccuracy,
	)
	return s
}

// ObserveEval publishes evaluation metrics for the current model.
func (s *Set) ObserveEval(m models.EvalMetrics) {
	s.ModelAccuracy.Set(m.Accuracy)
	s.ModelPrecision.Set(m.Precision)
	s.ModelRecall.Set(m.Recall)
	s.ModelF1.Set(m.F1)
}

// Handler returns the /metrics HTTP handler for this registry.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
