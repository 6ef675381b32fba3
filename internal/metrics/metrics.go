package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sakashimaa/electrowave/internal/domain"
)

const namespace = "electrowave"

type Metrics struct {
	registry          *prometheus.Registry
	Checkouts         *prometheus.CounterVec
	CheckoutLatency   prometheus.Histogram
	StatusTransitions *prometheus.CounterVec
	OutboxPublished   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "attempts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		CheckoutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "duration_seconds",
			Help:      "Checkout latency in seconds.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "status_transitions_total",
			Help:      "Order status transitions applied.",
		}, []string{"from", "to", "forced"}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events published to kafka.",
		}),
	}

	m.registry = reg
	reg.MustRegister(m.Checkouts, m.CheckoutLatency, m.StatusTransitions, m.OutboxPublished)
	return m
}

// ObserveCheckout is safe on a nil receiver so tests can omit metrics.
func (m *Metrics) ObserveCheckout(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(outcome).Inc()
	m.CheckoutLatency.Observe(took.Seconds())
}

func (m *Metrics) ObserveTransition(from, to string, forced bool) {
	if m == nil {
		return
	}
	f := "false"
	if forced {
		f = "true"
	}
	m.StatusTransitions.WithLabelValues(from, to, f).Inc()
}

// ObserveStatusChange counts a committed lifecycle move. A nil change is a
// no-op status write and is not counted.
func (m *Metrics) ObserveStatusChange(change *domain.StatusChange) {
	if change == nil {
		return
	}
	m.ObserveTransition(string(change.From), string(change.To), change.Forced)
}

func (m *Metrics) ObserveOutboxPublished(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OutboxPublished.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry: m.registry,
	})
}
