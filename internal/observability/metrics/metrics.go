// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mimeflow"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Stream metrics
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsSuccess prometheus.Counter
	StreamsFailed  prometheus.Counter
	StreamDuration prometheus.Histogram

	// Session metrics
	SessionsCreated   prometheus.Counter
	SessionsActive    prometheus.Gauge
	SessionsFinalized prometheus.Counter
	SessionTransition *prometheus.CounterVec

	// Frame metrics
	FramesReceived *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec

	// Scoring metrics
	Evaluations       prometheus.Counter
	EvaluationLatency prometheus.Histogram
	RawSimilarity     prometheus.Histogram
	FinalScore        prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Estimator metrics
	EstimatorErrors *prometheus.CounterVec

	// Persistence metrics
	ScoreSaves *prometheus.CounterVec

	// Live feed metrics
	HubClients      prometheus.Gauge
	HubTicksDropped prometheus.Counter

	// Request metrics (gRPC unary calls and HTTP routes)
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Stream metrics
		StreamsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of gRPC frame streams started",
		}),
		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently active gRPC frame streams",
		}),
		StreamsSuccess: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_success_total",
			Help:      "Total number of successfully completed streams",
		}),
		StreamsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_failed_total",
			Help:      "Total number of failed streams",
		}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of gRPC frame streams in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Session metrics
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of scoring sessions created",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently scoring",
		}),
		SessionsFinalized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finalized_total",
			Help:      "Total number of sessions finalized with a score",
		}),
		SessionTransition: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Total number of session lifecycle transitions",
		}, []string{"to"}),

		// Frame metrics
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total keypoint frames received",
		}, []string{"stream"}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total keypoint frames dropped before buffering",
		}, []string{"reason"}),

		// Scoring metrics
		Evaluations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total number of best-match evaluations",
		}),
		EvaluationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_latency_seconds",
			Help:      "Time spent in a best-match evaluation",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		}),
		RawSimilarity: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "raw_similarity",
			Help:      "Distribution of best-match cosine similarity",
			Buckets:   prometheus.LinearBuckets(-1, 0.2, 11),
		}),
		FinalScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "final_score_percent",
			Help:      "Distribution of finalized session scores",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),

		// Kafka publish metrics
		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Estimator metrics
		EstimatorErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimator_errors_total",
			Help:      "Total number of pose estimator errors",
		}, []string{"provider"}),

		// Persistence metrics
		ScoreSaves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_saves_total",
			Help:      "Total number of final score persistence attempts",
		}, []string{"result"}),

		// Live feed metrics
		HubClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_clients",
			Help:      "Number of connected live score feed clients",
		}),
		HubTicksDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_ticks_dropped_total",
			Help:      "Total number of score ticks dropped for slow feed clients",
		}),

		// Request metrics
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests",
		}, []string{"transport", "method", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transport", "method"}),
	}
}

// RecordStreamStart records a new stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a stream ending.
func (m *Metrics) RecordStreamEnd(success bool, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if success {
		m.StreamsSuccess.Inc()
	} else {
		m.StreamsFailed.Inc()
	}
}

// RecordSessionCreated records a new session.
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordTransition records a lifecycle transition into state to.
func (m *Metrics) RecordTransition(to string) {
	m.SessionTransition.WithLabelValues(to).Inc()
}

// RecordSessionActive adjusts the active session gauge.
func (m *Metrics) RecordSessionActive(active bool) {
	if active {
		m.SessionsActive.Inc()
	} else {
		m.SessionsActive.Dec()
	}
}

// RecordFinalized records a finalized session and its score percentage.
func (m *Metrics) RecordFinalized(percent int) {
	m.SessionsFinalized.Inc()
	m.FinalScore.Observe(float64(percent))
}

// RecordFrame records a frame received on stream.
func (m *Metrics) RecordFrame(stream string) {
	m.FramesReceived.WithLabelValues(stream).Inc()
}

// RecordFrameDropped records a frame that never reached a buffer.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordEvaluation records one best-match evaluation.
func (m *Metrics) RecordEvaluation(similarity, latencySeconds float64) {
	m.Evaluations.Inc()
	m.EvaluationLatency.Observe(latencySeconds)
	m.RawSimilarity.Observe(similarity)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordEstimatorError records an estimator failure.
func (m *Metrics) RecordEstimatorError(provider string) {
	m.EstimatorErrors.WithLabelValues(provider).Inc()
}

// RecordScoreSave records a persistence attempt.
func (m *Metrics) RecordScoreSave(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ScoreSaves.WithLabelValues(result).Inc()
}

// RecordHubClient adjusts the connected feed client gauge.
func (m *Metrics) RecordHubClient(connected bool) {
	if connected {
		m.HubClients.Inc()
	} else {
		m.HubClients.Dec()
	}
}

// RecordTickDropped records a tick discarded for a slow client.
func (m *Metrics) RecordTickDropped() {
	m.HubTicksDropped.Inc()
}

// RecordRequest records one API request on transport ("grpc" or "http").
func (m *Metrics) RecordRequest(transport, method, code string, durationSeconds float64) {
	m.RequestsTotal.WithLabelValues(transport, method, code).Inc()
	m.RequestDuration.WithLabelValues(transport, method).Observe(durationSeconds)
}
