// Package metrics exports pipeline and session activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-voicelink/pkg/pipeline"
	"github.com/teslashibe/go-voicelink/pkg/protocol"
	"github.com/teslashibe/go-voicelink/pkg/session"
)

const namespace = "voicelink"

// Metrics contains all Prometheus metrics for the voicelink server.
// It implements pipeline.Observer and session.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsOpened   prometheus.Counter
	SessionDuration  prometheus.Histogram
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	ProtocolErrors   *prometheus.CounterVec

	// Cycle metrics
	Cycles         *prometheus.CounterVec
	StageFailures  *prometheus.CounterVec
	CycleDuration  *prometheus.HistogramVec
	STTLatency     prometheus.Histogram
	FirstChunk     prometheus.Histogram
	LLMLatency     prometheus.Histogram
	TTSLatency     prometheus.Histogram
	ResponseChunks prometheus.Histogram
	SamplesOut     prometheus.Counter
}

// New creates the metrics on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates the metrics on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	latency := prometheus.ExponentialBuckets(0.01, 2, 12) // 10ms to ~20s

	return &Metrics{
		registry: reg,

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of open sessions",
		}),
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Total number of sessions opened",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Lifetime of closed sessions",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound protocol messages by type",
		}, []string{"type"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound protocol messages by type",
		}, []string{"type"}),
		ProtocolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Rejected inbound messages by error code",
		}, []string{"code"}),

		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Finished cycles by source and outcome",
		}, []string{"source", "outcome"}),
		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Adapter failures by stage",
		}, []string{"stage"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "End-to-end cycle duration",
			Buckets:   latency,
		}, []string{"source"}),
		STTLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_latency_seconds",
			Help:      "Time from cycle start to transcript",
			Buckets:   latency,
		}),
		FirstChunk: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_first_chunk_seconds",
			Help:      "Time from cycle start to the first response fragment",
			Buckets:   latency,
		}),
		LLMLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Time from cycle start to the end of the response stream",
			Buckets:   latency,
		}),
		TTSLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_latency_seconds",
			Help:      "Time spent synthesizing speech per cycle",
			Buckets:   latency,
		}),
		ResponseChunks: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_chunks",
			Help:      "Response fragments streamed per cycle",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		SamplesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesized_samples_total",
			Help:      "Total PCM samples synthesized",
		}),
	}
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCycle records one finished cycle. Stage latencies are only
// observed for the stages the cycle reached.
func (m *Metrics) ObserveCycle(c pipeline.CycleMetrics) {
	m.Cycles.WithLabelValues(string(c.Source), string(c.Outcome)).Inc()
	m.CycleDuration.WithLabelValues(string(c.Source)).Observe(c.Total.Seconds())
	if c.FailedStage != "" {
		m.StageFailures.WithLabelValues(string(c.FailedStage)).Inc()
	}
	if c.STTLatency > 0 {
		m.STTLatency.Observe(c.STTLatency.Seconds())
	}
	if c.Chunks > 0 {
		m.FirstChunk.Observe(c.FirstChunk.Seconds())
		m.ResponseChunks.Observe(float64(c.Chunks))
	}
	if c.LLMLatency > 0 {
		m.LLMLatency.Observe(c.LLMLatency.Seconds())
	}
	if c.AudioOut > 0 {
		m.TTSLatency.Observe(c.TTSLatency.Seconds())
		m.SamplesOut.Add(float64(c.SamplesOut))
	}
}

// SessionOpened records a new session.
func (m *Metrics) SessionOpened() {
	m.SessionsOpened.Inc()
	m.ActiveSessions.Inc()
}

// SessionClosed records the end of a session.
func (m *Metrics) SessionClosed(d time.Duration) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(d.Seconds())
}

// MessageReceived counts an inbound message.
func (m *Metrics) MessageReceived(t protocol.MessageType) {
	m.MessagesReceived.WithLabelValues(label(t)).Inc()
}

// MessageSent counts an outbound message.
func (m *Metrics) MessageSent(t protocol.MessageType) {
	m.MessagesSent.WithLabelValues(string(t)).Inc()
}

// ProtocolError counts a rejected message.
func (m *Metrics) ProtocolError(code protocol.ErrorCode) {
	m.ProtocolErrors.WithLabelValues(string(code)).Inc()
}

// label bounds the cardinality of peer-controlled label values.
func label(t protocol.MessageType) string {
	if t.Inbound() {
		return string(t)
	}
	return "unknown"
}

var (
	_ pipeline.Observer = (*Metrics)(nil)
	_ session.Observer  = (*Metrics)(nil)
)
