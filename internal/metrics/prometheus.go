package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice pipeline.
type Metrics struct {
	// Transport metrics
	ConnectionsOpened prometheus.Counter
	ActiveConnections prometheus.Gauge
	ChunksReceived    prometheus.Counter
	ChunkBytes        prometheus.Histogram
	FramesDropped     prometheus.Counter

	// Turn metrics
	TurnsFinalized   prometheus.Counter
	TranscriptLength prometheus.Histogram

	// Pipeline metrics
	PipelineDuration prometheus.Histogram
	StageFailures    *prometheus.CounterVec
	FallbacksEmitted *prometheus.CounterVec
	AudioChunksSent  prometheus.Counter
	AudioChunkBytes  prometheus.Histogram

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsExpired prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers all pipeline metrics on reg. Pass a fresh
// registry in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_connections_opened_total",
			Help: "Total number of WebSocket connections accepted",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicepipe_active_connections",
			Help: "Current number of open WebSocket connections",
		}),
		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_audio_chunks_received_total",
			Help: "Total number of inbound audio chunks",
		}),
		ChunkBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicepipe_audio_chunk_bytes",
			Help:    "Size of inbound audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_frames_dropped_total",
			Help: "Total number of unparseable frames logged and dropped",
		}),
		TurnsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_turns_finalized_total",
			Help: "Total number of turn boundaries emitted",
		}),
		TranscriptLength: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicepipe_transcript_length_chars",
			Help:    "Length of finalized transcripts in characters",
			Buckets: prometheus.ExponentialBuckets(8, 2, 10),
		}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicepipe_pipeline_duration_seconds",
			Help:    "Wall time from turn boundary to conversation complete",
			Buckets: prometheus.DefBuckets,
		}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicepipe_stage_failures_total",
			Help: "Pipeline stage failures by error kind",
		}, []string{"kind"}),
		FallbacksEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicepipe_fallbacks_emitted_total",
			Help: "Text-only fallback responses by error kind",
		}, []string{"kind"}),
		AudioChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_audio_chunks_sent_total",
			Help: "Total number of outbound synthesized audio chunks",
		}),
		AudioChunkBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicepipe_audio_chunk_sent_bytes",
			Help:    "Size of outbound synthesized audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicepipe_active_sessions",
			Help: "Current number of sessions in the registry",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicepipe_sessions_expired_total",
			Help: "Total number of sessions removed by the TTL janitor",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicepipe_http_requests_total",
			Help: "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicepipe_http_request_duration_seconds",
			Help:    "HTTP request latency by method and path",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}
