package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/calebreyes-ai/lumina-backend/api/middleware"
	"github.com/calebreyes-ai/lumina-backend/api/responses"
	"github.com/calebreyes-ai/lumina-backend/api/validators"
	"github.com/calebreyes-ai/lumina-backend/internal/purchases"
	"github.com/calebreyes-ai/lumina-backend/pkg/enums"
	pkgerrors "github.com/calebreyes-ai/lumina-backend/pkg/errors"
	"github.com/calebreyes-ai/lumina-backend/pkg/logger"
	"github.com/calebreyes-ai/lumina-backend/pkg/metrics"
)

type PurchaseService interface {
	Validate(ctx context.Context, input purchases.ValidateInput) (*purchases.Result, error)
}

type validatePurchaseRequest struct {
	Receipt   string `json:"receipt" validate:"required"`
	Platform  string `json:"platform" validate:"required,oneof=ios android"`
	ProductID string `json:"product_id" validate:"required"`

	// Older clients still send userId in the body; identity comes from the
	// access token, so the field is accepted and ignored.
	UserID string `json:"userId"`
}

type validatePurchaseResponse struct {
	EntitlementID string     `json:"entitlement_id"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	AlreadyActive bool       `json:"already_active"`
}

// ValidatePurchase verifies a client-submitted store receipt and grants the
// matching permission record to the authenticated user.
func ValidatePurchase(svc PurchaseService, m *metrics.EntitlementMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		var payload validatePurchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			m.ObservePurchaseValidation("invalid_request")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Validate(r.Context(), purchases.ValidateInput{
			UserID:    userID,
			Receipt:   payload.Receipt,
			Platform:  enums.Platform(payload.Platform),
			ProductID: payload.ProductID,
		})
		if err != nil {
			m.ObservePurchaseValidation("rejected")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome := "granted"
		if result.AlreadyActive {
			outcome = "already_active"
		}
		m.ObservePurchaseValidation(outcome)

		responses.WriteSuccess(w, validatePurchaseResponse{
			EntitlementID: result.EntitlementID,
			ExpiresAt:     result.ExpiresAt,
			AlreadyActive: result.AlreadyActive,
		})
	}
}
