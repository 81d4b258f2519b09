// Package metrics exposes Prometheus counters for domain events and the
// verification relay. All methods are nil-safe so callers can run without
// a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

// EventMetrics counts published domain events and view refreshes.
type EventMetrics struct {
	published *prometheus.CounterVec
	refreshes *prometheus.CounterVec
}

func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	m := &EventMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events published on the in-process bus",
		}, []string{"event"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "views",
			Name:      "refresh_total",
			Help:      "View refreshes by view and outcome",
		}, []string{"view", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.published, m.refreshes)
	return m
}

// Attach counts every event published on bus. The returned function
// detaches the counter.
func (m *EventMetrics) Attach(bus *events.Bus) func() {
	if m == nil || bus == nil {
		return func() {}
	}
	return bus.SubscribeAll(func(e events.Event) {
		m.published.WithLabelValues(string(e.Name)).Inc()
	})
}

func (m *EventMetrics) ObserveRefresh(view string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.refreshes.WithLabelValues(view, outcome).Inc()
}

// RelayMetrics covers the CAPTCHA verification relay.
type RelayMetrics struct {
	verifications *prometheus.CounterVec
	rejected      prometheus.Counter
	upstream      prometheus.Histogram
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "relay",
			Name:      "verifications_total",
			Help:      "Token verifications by result",
		}, []string{"result"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "relay",
			Name:      "quota_rejections_total",
			Help:      "Requests rejected because the caller exceeded its quota",
		}),
		upstream: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicdesk",
			Subsystem: "relay",
			Name:      "upstream_latency_seconds",
			Help:      "Latency of the upstream verification call",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.verifications, m.rejected, m.upstream)
	return m
}

// ObserveVerification records a verification outcome: "success", "failure"
// or "error".
func (m *RelayMetrics) ObserveVerification(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
	m.upstream.Observe(elapsed.Seconds())
}

func (m *RelayMetrics) ObserveQuotaRejection() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}
