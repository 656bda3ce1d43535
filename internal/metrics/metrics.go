package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cardrail"

// Collectors groups the engine's Prometheus instruments. A nil *Collectors is
// valid and records nothing.
type Collectors struct {
	registry    *prometheus.Registry
	settlements *prometheus.CounterVec
	railLatency *prometheus.HistogramVec
	queue       *prometheus.GaugeVec
	drained     *prometheus.CounterVec
	liquidity   *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collectors{
		registry: reg,
		settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts by operation and result.",
		}, []string{"operation", "result"}),
		railLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rail_call_duration_seconds",
			Help:      "Latency of external rail calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"rail", "call", "outcome"}),
		queue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_withdrawals",
			Help:      "Pending withdrawal rows by status.",
		}, []string{"status"}),
		drained: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawal_drain_items_total",
			Help:      "Queue items handled by drain passes by result.",
		}, []string{"result"}),
		liquidity: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "payout_liquidity",
			Help:      "Last observed payout rail liquidity by currency.",
		}, []string{"currency"}),
	}
}

// Settlement counts one orchestrator outcome.
func (c *Collectors) Settlement(operation, result string) {
	if c == nil {
		return
	}
	c.settlements.WithLabelValues(operation, result).Inc()
}

// ObserveRailCall records a rail call.
func (c *Collectors) ObserveRailCall(rail, call, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.railLatency.WithLabelValues(rail, call, outcome).Observe(elapsed.Seconds())
}

// SetQueueDepth publishes per-status queue counts.
func (c *Collectors) SetQueueDepth(counts map[string]int) {
	if c == nil {
		return
	}
	for status, n := range counts {
		c.queue.WithLabelValues(status).Set(float64(n))
	}
}

// Drained counts n queue items ending a drain pass with result.
func (c *Collectors) Drained(result string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.drained.WithLabelValues(result).Add(float64(n))
}

// Liquidity publishes the latest liquidity reading.
func (c *Collectors) Liquidity(currency string, amount float64) {
	if c == nil {
		return
	}
	c.liquidity.WithLabelValues(currency).Set(amount)
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

