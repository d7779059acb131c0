package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/calebreyes-ai/lumina-backend/api/middleware"
	"github.com/calebreyes-ai/lumina-backend/api/responses"
	"github.com/calebreyes-ai/lumina-backend/internal/permissions"
	"github.com/calebreyes-ai/lumina-backend/pkg/db/models"
	pkgerrors "github.com/calebreyes-ai/lumina-backend/pkg/errors"
	"github.com/calebreyes-ai/lumina-backend/pkg/logger"
)

type PermissionsService interface {
	ListForProfile(ctx context.Context, profileID string) ([]models.UserPermission, error)
}

type permissionResponse struct {
	PermissionID string     `json:"permission_id"`
	Active       bool       `json:"active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ProductID    string     `json:"product_id,omitempty"`
	Platform     string     `json:"platform,omitempty"`
}

type myPermissionsResponse struct {
	Permissions []permissionResponse `json:"permissions"`
	HasPremium  bool                 `json:"has_premium"`
}

// MyPermissions lists the authenticated user's permission records along with
// the premium access flag the app gates on.
func MyPermissions(svc PermissionsService, entitlementID string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "permissions service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		records, err := svc.ListForProfile(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]permissionResponse, 0, len(records))
		for _, record := range records {
			out = append(out, permissionResponse{
				PermissionID: record.PermissionID,
				Active:       record.Active,
				ExpiresAt:    record.ExpiresAt,
				ProductID:    record.ProductID,
				Platform:     string(record.Platform),
			})
		}
		responses.WriteSuccess(w, myPermissionsResponse{
			Permissions: out,
			HasPremium:  permissions.HasPermission(records, entitlementID),
		})
	}
}
