package retrieval

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the orchestrator's Prometheus collectors. They are registered on
// the Registerer handed to NewMetrics, never on the global default. A nil
// *Metrics records nothing.
type Metrics struct {
	retrievals   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	candidates   prometheus.Histogram
	truncations  prometheus.Counter
	seedFailures prometheus.Counter
	fallbacks    prometheus.Counter
}

// NewMetrics creates and registers the retrieval collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// retrievals counts calls by mode and outcome (ok, partial, error)
		retrievals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_retrievals_total",
			Help: "Total retrieval calls by mode and outcome",
		}, []string{"mode", "outcome"}),

		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recall_retrieval_duration_seconds",
			Help:    "Retrieval duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
		}, []string{"mode"}),

		// candidates tracks merged candidates before trimming
		candidates: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "recall_retrieval_candidates",
			Help:    "Deduplicated candidates per retrieval before trimming",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000},
		}),

		truncations: f.NewCounter(prometheus.CounterOpts{
			Name: "recall_retrieval_truncations_total",
			Help: "Retrievals whose context was cut by a count or size budget",
		}),

		seedFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "recall_retrieval_seed_failures_total",
			Help: "Seeds that failed to resolve or expand",
		}),

		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "recall_retrieval_fallbacks_total",
			Help: "Retrievals that fell back to graph mode after a vector index failure",
		}),
	}
}

func (m *Metrics) observe(mode Mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(string(mode), outcome).Inc()
	m.latency.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeContext(c *Context) {
	if m == nil {
		return
	}
	m.candidates.Observe(float64(c.Stats.Candidates))
	if c.Truncated {
		m.truncations.Inc()
	}
	if n := len(c.Failures); n > 0 {
		m.seedFailures.Add(float64(n))
	}
	if c.Stats.FellBack {
		m.fallbacks.Inc()
	}
}
