package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EntitlementMetrics records webhook and purchase-validation outcomes.
type EntitlementMetrics struct {
	webhookEvents       *prometheus.CounterVec
	purchaseValidations *prometheus.CounterVec
}

// NewEntitlementMetrics registers the entitlement metrics on the provided registerer.
func NewEntitlementMetrics(reg prometheus.Registerer) *EntitlementMetrics {
	if reg == nil {
		return &EntitlementMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Billing provider webhook events by type and outcome.",
	}, []string{"event_type", "outcome"})
	purchaseValidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_validations_total",
		Help: "Client receipt validations by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(webhookEvents, purchaseValidations)
	return &EntitlementMetrics{
		webhookEvents:       webhookEvents,
		purchaseValidations: purchaseValidations,
	}
}

// ObserveWebhookEvent increments the webhook counter for the event type/outcome pair.
func (m *EntitlementMetrics) ObserveWebhookEvent(eventType, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObservePurchaseValidation increments the purchase validation counter.
func (m *EntitlementMetrics) ObservePurchaseValidation(outcome string) {
	if m == nil || m.purchaseValidations == nil {
		return
	}
	m.purchaseValidations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
