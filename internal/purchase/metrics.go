// Package purchase provides Prometheus metrics for purchase processing.
package purchase

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricCheckoutSessionsCreated = "purchase_checkout_sessions_created_total"
	MetricPurchasesCompleted      = "purchase_completed_total"
	MetricWebhookEvents           = "purchase_webhook_events_total"
	MetricWebhookFallbackCreates  = "purchase_webhook_fallback_creates_total"
	MetricWebhookUnresolved       = "purchase_webhook_unresolved_total"
)

// Metrics contains Prometheus metrics for purchase processing.
// All operations are thread-safe, and every method tolerates a nil
// receiver so wiring metrics stays optional in tests.
type Metrics struct {
	checkoutSessionsCreated prometheus.Counter
	purchasesCompleted      prometheus.Counter
	webhookEvents           *prometheus.CounterVec
	webhookFallbackCreates  prometheus.Counter
	webhookUnresolved       prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		checkoutSessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCheckoutSessionsCreated,
			Help: "Total number of Stripe Checkout Sessions created for lessons",
		}),
		purchasesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPurchasesCompleted,
			Help: "Total number of purchases moved to the completed status",
		}),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricWebhookEvents,
				Help: "Total number of Stripe webhook events received by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		webhookFallbackCreates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricWebhookFallbackCreates,
			Help: "Total number of purchases back-filled by the webhook because no pending row existed",
		}),
		webhookUnresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricWebhookUnresolved,
			Help: "Total number of webhook events whose lesson or user could not be resolved",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.checkoutSessionsCreated,
		m.purchasesCompleted,
		m.webhookEvents,
		m.webhookFallbackCreates,
		m.webhookUnresolved,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncCheckoutSessionsCreated increments the checkout sessions counter.
func (m *Metrics) IncCheckoutSessionsCreated() {
	if m == nil {
		return
	}
	m.checkoutSessionsCreated.Inc()
}

// IncPurchasesCompleted increments the completed purchases counter.
func (m *Metrics) IncPurchasesCompleted() {
	if m == nil {
		return
	}
	m.purchasesCompleted.Inc()
}

// IncWebhookEvent increments the webhook events counter for a type/outcome pair.
func (m *Metrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// IncWebhookFallbackCreates increments the webhook fallback creates counter.
func (m *Metrics) IncWebhookFallbackCreates() {
	if m == nil {
		return
	}
	m.webhookFallbackCreates.Inc()
}

// IncWebhookUnresolved increments the unresolved webhook events counter.
func (m *Metrics) IncWebhookUnresolved() {
	if m == nil {
		return
	}
	m.webhookUnresolved.Inc()
}
