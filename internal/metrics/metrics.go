package metrics

import (
	"hybrid-ids/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics groups the pipeline collectors. Every method is safe to
// call on a nil receiver so components can run without metrics.
type PrometheusMetrics struct {
	// Ingest metrics
	EventsIngested  *prometheus.CounterVec
	EventsDiscarded *prometheus.CounterVec

	// Flow metrics
	FlowsBuilt *prometheus.CounterVec

	// Detection metrics
	AlertCounter     *prometheus.CounterVec
	DetectorFailures *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	ScorerTrained    prometheus.Gauge
	ModelTrainings   prometheus.Counter

	// Performance metrics
	PipelineDuration prometheus.Histogram
}

// NewPrometheusMetrics registers the collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		EventsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ids_events_ingested_total",
				Help: "Total number of normalized events read from a source",
			},
			[]string{"source"},
		),
		EventsDiscarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ids_events_discarded_total",
				Help: "Total number of events dropped before aggregation",
			},
			[]string{"source", "reason"},
		),
		FlowsBuilt: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ids_flows_built_total",
				Help: "Total number of windowed flows produced",
			},
			[]string{"protocol"},
		),
		AlertCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ids_alerts_total",
				Help: "Total alerts emitted",
			},
			[]string{"alert_type", "severity"},
		),
		DetectorFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ids_detector_failures_total",
				Help: "Detector invocations that failed and were isolated",
			},
			[]string{"detector"},
		),
		SinkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ids_sink_errors_total",
				Help: "Errors returned by alert or flow sinks",
			},
			[]string{"sink"},
		),
		ScorerTrained: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ids_anomaly_scorer_trained",
				Help: "1 when the anomaly scorer holds a trained model",
			},
		),
		ModelTrainings: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ids_anomaly_model_trainings_total",
				Help: "Number of times a baseline model was fitted",
			},
		),
		PipelineDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ids_pipeline_duration_seconds",
				Help:    "Wall time of one batch run",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}
}

func (m *PrometheusMetrics) RecordEvent(source string) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(source).Inc()
}

func (m *PrometheusMetrics) RecordDiscarded(source, reason string) {
	if m == nil {
		return
	}
	m.EventsDiscarded.WithLabelValues(source, reason).Inc()
}

func (m *PrometheusMetrics) RecordFlow(flow *model.Flow) {
	if m == nil {
		return
	}
	protocol := model.Deref(flow.Protocol)
	if protocol == "" {
		protocol = "unknown"
	}
	m.FlowsBuilt.WithLabelValues(protocol).Inc()
}

func (m *PrometheusMetrics) RecordAlert(alert model.Alert) {
	if m == nil {
		return
	}
	m.AlertCounter.WithLabelValues(string(alert.Type), alert.Severity).Inc()
}

func (m *PrometheusMetrics) RecordDetectorFailure(detector string) {
	if m == nil {
		return
	}
	m.DetectorFailures.WithLabelValues(detector).Inc()
}

func (m *PrometheusMetrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

func (m *PrometheusMetrics) SetScorerTrained(trained bool) {
	if m == nil {
		return
	}
	if trained {
		m.ScorerTrained.Set(1)
		return
	}
	m.ScorerTrained.Set(0)
}

func (m *PrometheusMetrics) RecordTraining() {
	if m == nil {
		return
	}
	m.ModelTrainings.Inc()
}

func (m *PrometheusMetrics) ObservePipeline(seconds float64) {
	if m == nil {
		return
	}
	m.PipelineDuration.Observe(seconds)
}
