// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_session"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal          prometheus.Counter
	SessionsActive         prometheus.Gauge
	SessionsWithTranscript prometheus.Counter
	SessionsEmpty          *prometheus.CounterVec
	SessionDuration        prometheus.Histogram
	SessionCreateLatency   prometheus.Histogram

	// Failure metrics, labelled by error kind
	Failures *prometheus.CounterVec

	// Gate metrics
	GateDetections   prometheus.Counter
	GateWaitDuration prometheus.Histogram

	// Audio metrics
	AudioBytesStreamed  prometheus.Counter
	AudioFramesStreamed prometheus.Counter
	PaddingApplied      prometheus.Counter
	PaddingBytes        prometheus.Counter

	// Protocol metrics
	CommitsSent          prometheus.Counter
	CommitsSkipped       prometheus.Counter
	ProtocolEvents       *prometheus.CounterVec
	ProtocolDecodeErrors prometheus.Counter
	ProtocolErrors       *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	FinalLatency       prometheus.Histogram

	// Diarization metrics
	DiarizationRuns     *prometheus.CounterVec
	DiarizationSegments prometheus.Counter
	DiarizationLatency  prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCStreamsTotal  prometheus.Counter
	GRPCStreamsActive prometheus.Gauge
	GRPCCalls         *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics and registers them on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Session metrics
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of transcription sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently capturing or awaiting a result",
		}),
		SessionsWithTranscript: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_transcribed_total",
			Help:      "Total number of sessions that produced a transcript",
		}),
		SessionsEmpty: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_empty_total",
			Help:      "Total number of sessions that ended without a transcript",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall-clock duration of a session from creation to teardown",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 20, 30, 60},
		}),
		SessionCreateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_create_latency_seconds",
			Help:      "Latency of the session creation call",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of recovered failures by kind",
		}, []string{"kind"}),

		// Gate metrics
		GateDetections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_detections_total",
			Help:      "Total number of times speech opened the gate",
		}),
		GateWaitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gate_wait_seconds",
			Help:      "Time spent waiting for speech before a session",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}),

		// Audio metrics
		AudioBytesStreamed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_streamed_total",
			Help:      "Total PCM bytes appended to transcription sessions",
		}),
		AudioFramesStreamed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_streamed_total",
			Help:      "Total frames appended to transcription sessions",
		}),
		PaddingApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "padding_applied_total",
			Help:      "Total number of commits that required silence padding",
		}),
		PaddingBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "padding_bytes_total",
			Help:      "Total bytes of silence appended to reach the commit floor",
		}),

		// Protocol metrics
		CommitsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_sent_total",
			Help:      "Total number of commit messages sent",
		}),
		CommitsSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_skipped_total",
			Help:      "Total number of commits skipped because the connection had closed",
		}),
		ProtocolEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_events_total",
			Help:      "Total inbound protocol events by type",
		}, []string{"type"}),
		ProtocolDecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_decode_errors_total",
			Help:      "Total inbound messages that could not be decoded",
		}),
		ProtocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total error events received from the server",
		}, []string{"code"}),

		// Transcript metrics
		TranscriptsPartial: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of incremental transcripts received",
		}),
		TranscriptsFinal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of completed transcripts received",
		}),
		FinalLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "final_latency_seconds",
			Help:      "Time from commit to completed transcript",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		// Diarization metrics
		DiarizationRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diarization_runs_total",
			Help:      "Total diarization runs by outcome",
		}, []string{"outcome"}),
		DiarizationSegments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diarization_segments_total",
			Help:      "Total speaker segments emitted",
		}),
		DiarizationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "diarization_latency_seconds",
			Help:      "Time spent extracting features and clustering",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
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

		// gRPC metrics
		GRPCStreamsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_streams_total",
			Help:      "Total number of gRPC streams started",
		}),
		GRPCStreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grpc_streams_active",
			Help:      "Number of currently active gRPC streams",
		}),
		GRPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total gRPC calls by method and status code",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending. An empty reason means a
// transcript was produced.
func (m *Metrics) RecordSessionEnd(emptyReason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if emptyReason == "" {
		m.SessionsWithTranscript.Inc()
	} else {
		m.SessionsEmpty.WithLabelValues(emptyReason).Inc()
	}
}

// RecordSessionCreate records the latency of a session creation call.
func (m *Metrics) RecordSessionCreate(latencySeconds float64) {
	m.SessionCreateLatency.Observe(latencySeconds)
}

// RecordFailure records a recovered failure of the given kind.
func (m *Metrics) RecordFailure(kind string) {
	m.Failures.WithLabelValues(kind).Inc()
}

// RecordGateOpened records speech detection after waiting.
func (m *Metrics) RecordGateOpened(waitSeconds float64) {
	m.GateDetections.Inc()
	m.GateWaitDuration.Observe(waitSeconds)
}

// RecordAudioStreamed records one appended frame.
func (m *Metrics) RecordAudioStreamed(bytes int) {
	m.AudioBytesStreamed.Add(float64(bytes))
	m.AudioFramesStreamed.Inc()
}

// RecordPadding records silence appended before commit.
func (m *Metrics) RecordPadding(bytes int) {
	m.PaddingApplied.Inc()
	m.PaddingBytes.Add(float64(bytes))
}

// RecordCommit records whether a commit was sent or skipped.
func (m *Metrics) RecordCommit(sent bool) {
	if sent {
		m.CommitsSent.Inc()
	} else {
		m.CommitsSkipped.Inc()
	}
}

// RecordProtocolEvent records an inbound event by type.
func (m *Metrics) RecordProtocolEvent(eventType string) {
	m.ProtocolEvents.WithLabelValues(eventType).Inc()
}

// RecordDecodeError records an undecodable inbound message.
func (m *Metrics) RecordDecodeError() {
	m.ProtocolDecodeErrors.Inc()
}

// RecordProtocolError records a server error event.
func (m *Metrics) RecordProtocolError(code string) {
	m.ProtocolErrors.WithLabelValues(code).Inc()
}

// RecordPartialTranscript records an incremental transcript received.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a completed transcript received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordFinalLatency records time from commit to a completed transcript.
func (m *Metrics) RecordFinalLatency(seconds float64) {
	m.FinalLatency.Observe(seconds)
}

// RecordDiarization records a diarization run.
func (m *Metrics) RecordDiarization(outcome string, segments int, latencySeconds float64) {
	m.DiarizationRuns.WithLabelValues(outcome).Inc()
	m.DiarizationSegments.Add(float64(segments))
	m.DiarizationLatency.Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPCStreamStart records a gRPC stream starting.
func (m *Metrics) RecordGRPCStreamStart() {
	m.GRPCStreamsTotal.Inc()
	m.GRPCStreamsActive.Inc()
}

// RecordGRPCStreamEnd records a gRPC stream ending.
func (m *Metrics) RecordGRPCStreamEnd() {
	m.GRPCStreamsActive.Dec()
}

// RecordGRPCCall records a completed gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
}
