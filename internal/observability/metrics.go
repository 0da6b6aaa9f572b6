// Package observability provides structured logging and Prometheus metrics
// for the chat backend.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the collection of Prometheus instruments the server records.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordChunk("content")
//	metrics.RecordStream("finished", time.Since(start).Seconds())
type Metrics struct {
	// HTTPRequestCounter counts API requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures API request latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// StreamCounter counts chat streams by terminal outcome.
	// Labels: outcome (finished|failed|suspended)
	StreamCounter *prometheus.CounterVec

	// StreamDuration measures whole-stream latency in seconds, including
	// any time spent waiting on human input.
	// Labels: outcome
	StreamDuration *prometheus.HistogramVec

	// ActiveStreams is the number of SSE connections currently open.
	ActiveStreams prometheus.Gauge

	// ChunkCounter counts protocol chunks written, by chunk type.
	// Labels: type
	ChunkCounter *prometheus.CounterVec

	// ApprovalCounter counts human approval decisions.
	// Labels: decision (approved|denied)
	ApprovalCounter *prometheus.CounterVec

	// TokensUsed tracks model token consumption.
	// Labels: model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// ExpiredCounter counts state removed by the background sweeper.
	// Labels: kind (runs|artifacts)
	ExpiredCounter *prometheus.CounterVec
}

// NewMetrics creates the instrument set on the default Prometheus registry,
// for exposure through the /metrics handler. Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates the instrument set on a caller-supplied registerer.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aichat_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aichat_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		StreamCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aichat_streams_total",
				Help: "Total number of chat streams by terminal outcome",
			},
			[]string{"outcome"},
		),

		StreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aichat_stream_duration_seconds",
				Help:    "Duration of chat streams in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"outcome"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aichat_active_streams",
				Help: "Number of SSE connections currently open",
			},
		),

		ChunkCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aichat_chunks_total",
				Help: "Total number of protocol chunks written by type",
			},
			[]string{"type"},
		),

		ApprovalCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aichat_approvals_total",
				Help: "Total number of human approval decisions",
			},
			[]string{"decision"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aichat_tokens_total",
				Help: "Total number of model tokens used by model and type",
			},
			[]string{"model", "type"},
		),

		ExpiredCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aichat_expired_total",
				Help: "Total number of runs and artifacts removed by TTL cleanup",
			},
			[]string{"kind"},
		),
	}
}

// RecordHTTPRequest records one completed API request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordStream records one terminated chat stream.
func (m *Metrics) RecordStream(outcome string, durationSeconds float64) {
	m.StreamCounter.WithLabelValues(outcome).Inc()
	m.StreamDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordChunk counts one written protocol chunk.
func (m *Metrics) RecordChunk(chunkType string) {
	m.ChunkCounter.WithLabelValues(chunkType).Inc()
}

// RecordApproval counts one human approval decision.
func (m *Metrics) RecordApproval(granted bool) {
	decision := "denied"
	if granted {
		decision = "approved"
	}
	m.ApprovalCounter.WithLabelValues(decision).Inc()
}

// RecordTokens tracks token consumption reported for a turn.
func (m *Metrics) RecordTokens(model string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		m.TokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.TokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// RecordExpired counts state removed by the TTL sweeper.
func (m *Metrics) RecordExpired(kind string, n int) {
	if n > 0 {
		m.ExpiredCounter.WithLabelValues(kind).Add(float64(n))
	}
}
