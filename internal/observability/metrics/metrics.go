// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_coach"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsFinished *prometheus.CounterVec
	SessionDuration  prometheus.Histogram

	// Recognition metrics
	RecognitionEvents   *prometheus.CounterVec
	RecognitionRestarts prometheus.Counter
	RecognitionErrors   *prometheus.CounterVec

	// Transcript metrics
	FinalsCommitted    prometheus.Counter
	FinalsDeduplicated prometheus.Counter

	// Analysis metrics
	AnalysisRequests *prometheus.CounterVec
	AnalysisLatency  prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Bridge metrics
	BridgeConnections prometheus.Gauge
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of recording sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently recording or analyzing",
		}),
		SessionsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Total number of sessions finished, by outcome",
		}, []string{"outcome"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_recording_seconds",
			Help:      "Recording duration of sessions in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),

		RecognitionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_events_total",
			Help:      "Total number of recognition events received, by kind",
		}, []string{"kind"}),
		RecognitionRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_restarts_total",
			Help:      "Total number of automatic recognition restarts",
		}),
		RecognitionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Total number of recognition errors, by engine code",
		}, []string{"code"}),

		FinalsCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finals_committed_total",
			Help:      "Total number of final fragments committed to transcripts",
		}),
		FinalsDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finals_deduplicated_total",
			Help:      "Total number of re-announced final results skipped",
		}),

		AnalysisRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_requests_total",
			Help:      "Total number of analysis requests, by outcome",
		}, []string{"outcome"}),
		AnalysisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_latency_seconds",
			Help:      "Analysis round trip latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "code"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		}, []string{"route"}),

		BridgeConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_connections_active",
			Help:      "Number of open WebSocket session bridges",
		}),
	}
}

// RecordSessionStart records a session entering RECORDING.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session returning to IDLE.
func (m *Metrics) RecordSessionEnd(outcome string, recordingSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionsFinished.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(recordingSeconds)
}

// RecordRecognitionEvent records a recognition event of the given kind.
func (m *Metrics) RecordRecognitionEvent(kind string) {
	m.RecognitionEvents.WithLabelValues(kind).Inc()
}

// RecordRestart records an automatic recognition restart.
func (m *Metrics) RecordRestart() {
	m.RecognitionRestarts.Inc()
}

// RecordRecognitionError records an engine error.
func (m *Metrics) RecordRecognitionError(code string) {
	m.RecognitionErrors.WithLabelValues(code).Inc()
}

// RecordFinals records committed and skipped final candidates.
func (m *Metrics) RecordFinals(committed, deduplicated int) {
	m.FinalsCommitted.Add(float64(committed))
	m.FinalsDeduplicated.Add(float64(deduplicated))
}

// RecordAnalysis records an analysis round trip.
func (m *Metrics) RecordAnalysis(outcome string, latencySeconds float64) {
	m.AnalysisRequests.WithLabelValues(outcome).Inc()
	m.AnalysisLatency.Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(route, code string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(route, code).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(durationSeconds)
}
