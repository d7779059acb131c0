package rcwebhook

import (
	"strings"
	"time"
)

// Event kinds pushed by the billing provider.
const (
	EventTypeInitialPurchase = "INITIAL_PURCHASE"
	EventTypeRenewal         = "RENEWAL"
	EventTypeProductChange   = "PRODUCT_CHANGE"
	EventTypeCancellation    = "CANCELLATION"
	EventTypeExpiration      = "EXPIRATION"
	EventTypeBillingIssue    = "BILLING_ISSUE"
	EventTypeTransfer        = "TRANSFER"

	environmentProduction = "PRODUCTION"
)

// Payload is the webhook body: a single nested lifecycle event.
type Payload struct {
	Event Event `json:"event"`
}

// Event is the provider's lifecycle notification. It lives only for the
// duration of one webhook invocation and is never persisted as its own row.
type Event struct {
	Type              string `json:"type"`
	ID                string `json:"id"`
	SubscriberID      string `json:"subscriber_id"`
	AppID             string `json:"app_id"`
	OriginalAppUserID string `json:"original_app_user_id"`
	ProductID         string `json:"product_id"`
	EntitlementID     string `json:"entitlement_id"`
	CreatedAtMS       int64  `json:"created_at_ms"`
	ExpirationAtMS    *int64 `json:"expiration_at_ms"`
	Store             string `json:"store"`
	Environment       string `json:"environment"`
	TransactionID     string `json:"transaction_id"`
}

// UserID resolves the profile identifier the event applies to.
func (e *Event) UserID() string {
	if id := strings.TrimSpace(e.OriginalAppUserID); id != "" {
		return id
	}
	return strings.TrimSpace(e.SubscriberID)
}

// IsProduction reports whether the event originated from the live environment.
func (e *Event) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(e.Environment), environmentProduction)
}

// ExpiresAt converts the epoch-millisecond expiry, if present.
func (e *Event) ExpiresAt() *time.Time {
	if e.ExpirationAtMS == nil || *e.ExpirationAtMS <= 0 {
		return nil
	}
	t := time.UnixMilli(*e.ExpirationAtMS).UTC()
	return &t
}
