package purchases

import (
	"context"
	"time"

	"github.com/calebreyes-ai/lumina-backend/internal/analytics"
	"github.com/calebreyes-ai/lumina-backend/internal/permissions"
	"github.com/calebreyes-ai/lumina-backend/pkg/db/models"
	dbtypes "github.com/calebreyes-ai/lumina-backend/pkg/db/types"
	"github.com/calebreyes-ai/lumina-backend/pkg/enums"
	pkgerrors "github.com/calebreyes-ai/lumina-backend/pkg/errors"
	"github.com/calebreyes-ai/lumina-backend/pkg/logger"
	"github.com/calebreyes-ai/lumina-backend/pkg/revenuecat"
)

// ReceiptValidator verifies a raw store receipt with the billing provider.
type ReceiptValidator interface {
	ValidateReceipt(ctx context.Context, receipt string, platform enums.Platform, userID string) (*revenuecat.ReceiptValidation, error)
	EntitlementID() string
}

type ServiceParams struct {
	PermissionsRepo permissions.Repository
	Validator       ReceiptValidator
	Analytics       analytics.Publisher
	Logger          *logger.Logger
	Now             func() time.Time
}

// Service validates client-submitted receipts and grants the matching
// permission record. The webhook pipeline remains the source of truth for
// later lifecycle changes; this path only accelerates first access.
type Service struct {
	repo      permissions.Repository
	validator ReceiptValidator
	analytics analytics.Publisher
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.PermissionsRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "permissions repo required")
	}
	if params.Validator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "receipt validator required")
	}
	publisher := params.Analytics
	if publisher == nil {
		publisher = analytics.Noop{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      params.PermissionsRepo,
		validator: params.Validator,
		analytics: publisher,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// ValidateInput is one client purchase-validation request.
type ValidateInput struct {
	UserID    string
	Receipt   string
	Platform  enums.Platform
	ProductID string
}

// Result reports the granted entitlement back to the client.
type Result struct {
	EntitlementID string     `json:"entitlement_id"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	AlreadyActive bool       `json:"already_active"`
}

// Validate grants the entitlement for a verified receipt. If the user already
// holds an unexpired active record for the same product the provider call is
// skipped and the existing expiry is returned; a failed duplicate lookup is
// logged and falls through to full validation rather than blocking the user.
func (s *Service) Validate(ctx context.Context, input ValidateInput) (*Result, error) {
	if input.UserID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Receipt == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "receipt is required")
	}
	if !input.Platform.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported platform")
	}

	entitlementID := s.validator.EntitlementID()

	existing, err := s.repo.Find(ctx, input.UserID, entitlementID)
	if err != nil {
		if s.logg != nil {
			s.logg.Error(s.logg.WithUserID(ctx, input.UserID), "duplicate purchase lookup failed", err)
		}
	} else if s.isAlreadyGranted(existing, input.ProductID) {
		return &Result{
			EntitlementID: entitlementID,
			ExpiresAt:     existing.ExpiresAt,
			AlreadyActive: true,
		}, nil
	}

	validation, err := s.validator.ValidateReceipt(ctx, input.Receipt, input.Platform, input.UserID)
	if err != nil {
		return nil, err
	}

	expiresAt := validation.ExpiresAt
	record := &models.UserPermission{
		ProfileID:        input.UserID,
		PermissionID:     entitlementID,
		Active:           true,
		ExpiresAt:        &expiresAt,
		ProductID:        input.ProductID,
		Platform:         input.Platform,
		RevenueCatUserID: input.UserID,
		Metadata: dbtypes.JSONMap{
			"status":         string(enums.PermissionStatusActive),
			"transaction_id": validation.TransactionID,
			"verified_at":    s.now().UTC().Format(time.RFC3339),
			"source":         "client_validation",
		},
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		if s.logg != nil {
			s.logg.Error(s.logg.WithUserID(ctx, input.UserID), "purchase grant upsert failed", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist purchase grant")
	}

	s.analytics.Publish(ctx, analytics.Event{
		Name:   "purchase_validated",
		UserID: input.UserID,
		Properties: map[string]any{
			"product_id": input.ProductID,
			"platform":   string(input.Platform),
		},
	})

	return &Result{
		EntitlementID: entitlementID,
		ExpiresAt:     &expiresAt,
	}, nil
}

// isAlreadyGranted reports whether the existing record already covers this
// purchase: active, unexpired, and for the same product.
func (s *Service) isAlreadyGranted(existing *models.UserPermission, productID string) bool {
	if existing == nil || !existing.Active {
		return false
	}
	if existing.ExpiresAt == nil || !existing.ExpiresAt.After(s.now()) {
		return false
	}
	return existing.ProductID == productID
}
