package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters exported by the scheduling/posting core.
type Metrics struct {
	SlotsScheduled  prometheus.Counter
	PostsPublished  *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	ClaimConflicts  prometheus.Counter
	PendingSlots    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the metric set on a private registry so tests can build
// independent instances.
func New() *Metrics {
	m := &Metrics{
		SlotsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopost_slots_scheduled_total",
			Help: "Slots filled by the batch scheduler",
		}),
		PostsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopost_posts_published_total",
			Help: "Successful publishes by source platform",
		}, []string{"platform"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopost_publish_failures_total",
			Help: "Failed publish attempts by source platform",
		}, []string{"platform"}),
		ClaimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopost_claim_conflicts_total",
			Help: "Slot claims lost to a concurrent executor",
		}),
		PendingSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autopost_pending_slots",
			Help: "Slots currently awaiting publication",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.SlotsScheduled,
		m.PostsPublished,
		m.PublishFailures,
		m.ClaimConflicts,
		m.PendingSlots,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
