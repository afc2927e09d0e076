package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	TurnsTotal        *prometheus.CounterVec
	StageFailures     *prometheus.CounterVec
	StoreErrors       *prometheus.CounterVec
	RetrievalLatency  prometheus.Histogram
	GenerationLatency prometheus.Histogram
	RetrievedFacts    prometheus.Histogram
	ActiveChatConns   prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by reply source (backend or fallback).",
		}, []string{"source"}),
		StageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Degraded or failed pipeline stages by stage name.",
		}, []string{"stage"}),
		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Conversation store errors by operation.",
		}, []string{"op"}),
		RetrievalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_latency_ms",
			Help:      "Knowledge retrieval latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		GenerationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Generative backend latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		RetrievedFacts: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_facts",
			Help:      "Facts surviving the relevance threshold per turn.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),
		ActiveChatConns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_chat_connections",
			Help:      "Number of open websocket chat connections.",
		}),
	}
}

func (m *Metrics) ObserveRetrievalLatency(d time.Duration) {
	m.RetrievalLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveGenerationLatency(d time.Duration) {
	m.GenerationLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
