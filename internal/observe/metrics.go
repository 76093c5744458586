package observe

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus instruments of the service. Each instance owns
// its registry so tests can build as many as they like. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry       *prometheus.Registry
	Turns          *prometheus.CounterVec
	ToolCalls      *prometheus.CounterVec
	ModelLatency   *prometheus.HistogramVec
	RetrievalStage *prometheus.HistogramVec
	DecodeFailures prometheus.Counter
	Ingested       *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Model tool calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ModelLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_seconds",
			Help:      "Language model call latency by stage.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"stage", "outcome"}),
		RetrievalStage: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_stage_seconds",
			Help:      "Memory retrieval stage durations.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation", "stage"}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_decode_failures_total",
			Help:      "Stored embeddings skipped because they could not be decoded.",
		}),
		Ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Ingested messages by outcome.",
		}, []string{"outcome"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) CountTurn(result string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(result).Inc()
}

func (m *Metrics) CountToolCall(tool, result string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, result).Inc()
}

func (m *Metrics) ObserveModel(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ModelLatency.WithLabelValues(stage, outcome(err)).Observe(d.Seconds())
}

func (m *Metrics) ObserveStage(operation, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalStage.WithLabelValues(operation, stage).Observe(d.Seconds())
}

func (m *Metrics) CountDecodeFailure() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}

func (m *Metrics) CountIngest(err error) {
	if m == nil {
		return
	}
	m.Ingested.WithLabelValues(outcome(err)).Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
