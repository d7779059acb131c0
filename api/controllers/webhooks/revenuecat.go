package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/calebreyes-ai/lumina-backend/api/responses"
	rcwebhook "github.com/calebreyes-ai/lumina-backend/internal/webhooks/revenuecat"
	pkgerrors "github.com/calebreyes-ai/lumina-backend/pkg/errors"
	"github.com/calebreyes-ai/lumina-backend/pkg/logger"
	"github.com/calebreyes-ai/lumina-backend/pkg/metrics"
)

const signatureHeader = "X-RevenueCat-Signature"

type RevenueCatWebhookService interface {
	HandleEvent(ctx context.Context, event *rcwebhook.Event) (*rcwebhook.Result, error)
}

type SignatureVerifier interface {
	VerifyWebhookSignature(payload []byte, header string) bool
}

type WebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// RevenueCatWebhook handles billing provider subscription lifecycle events.
// The raw body is captured and verified before any JSON parsing; re-encoding
// a parsed payload would not hash to the same bytes.
func RevenueCatWebhook(svc RevenueCatWebhookService, verifier SignatureVerifier, guard WebhookGuard, m *metrics.EntitlementMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if !verifier.VerifyWebhookSignature(payload, r.Header.Get(signatureHeader)) {
			m.ObserveWebhookEvent("unknown", "unauthorized")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		var body rcwebhook.Payload
		if err := json.Unmarshal(payload, &body); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload"))
			return
		}
		event := body.Event

		if guard != nil && event.ID != "" {
			alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if alreadyProcessed {
				m.ObserveWebhookEvent(event.Type, "duplicate")
				responses.WriteSuccess(w, &rcwebhook.Result{Status: rcwebhook.StatusSkipped, EventType: event.Type, Reason: "duplicate delivery"})
				return
			}
		}

		result, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			if guard != nil && event.ID != "" {
				_ = guard.Delete(ctx, event.ID)
			}
			m.ObserveWebhookEvent(event.Type, "error")
			responses.WriteError(ctx, logg, w, err)
			return
		}

		m.ObserveWebhookEvent(event.Type, result.Status)
		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("revenuecat event %s %s", event.ID, result.Status))
		}
		responses.WriteSuccess(w, result)
	}
}
