package rcwebhook

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
)

// Result statuses reported back to the webhook controller.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusIgnored   = "ignored"
)

type ServiceParams struct {
	PermissionsRepo permissions.Repository
	EntitlementID   string
	Analytics       analytics.Publisher
	Logger          *logger.Logger
	Now             func() time.Time
}

// Service routes provider lifecycle events onto permission records.
//
// Every handler's effect is a deterministic function of the event plus, where
// unavoidable, the current row; writes go through the keyed upsert so replays
// converge on the same final state. The read-then-write handlers are not
// atomic against a concurrent writer; the per-row upsert is the only
// synchronization the store offers and the last write wins.
type Service struct {
	repo          permissions.Repository
	entitlementID string
	analytics     analytics.Publisher
	logg          *logger.Logger
	now           func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.PermissionsRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "permissions repo required")
	}
	if params.EntitlementID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlement id required")
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
		repo:          params.PermissionsRepo,
		entitlementID: params.EntitlementID,
		analytics:     publisher,
		logg:          params.Logger,
		now:           now,
	}, nil
}

// Result describes how an event was handled.
type Result struct {
	Status    string `json:"status"`
	EventType string `json:"event_type,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// HandleEvent dispatches one lifecycle event to its transition handler.
func (s *Service) HandleEvent(ctx context.Context, event *Event) (*Result, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}

	if !event.IsProduction() {
		if s.logg != nil {
			s.logg.Info(s.logg.WithEventType(ctx, event.Type), "non-production event skipped")
		}
		return &Result{Status: StatusSkipped, EventType: event.Type, Reason: "non-production environment"}, nil
	}

	userID := event.UserID()
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event user id missing")
	}

	switch event.Type {
	case EventTypeInitialPurchase, EventTypeRenewal, EventTypeProductChange:
		if err := s.handleActivation(ctx, userID, event); err != nil {
			return nil, err
		}
	case EventTypeCancellation:
		if err := s.handleCancellation(ctx, userID, event); err != nil {
			return nil, err
		}
	case EventTypeExpiration:
		if err := s.handleExpiration(ctx, userID, event); err != nil {
			return nil, err
		}
	case EventTypeBillingIssue:
		if err := s.handleBillingIssue(ctx, userID, event); err != nil {
			return nil, err
		}
	default:
		// TRANSFER and anything unrecognized: acknowledged so the provider
		// does not retry an event we deliberately do not act on.
		if s.logg != nil {
			s.logg.Warn(s.logg.WithEventType(ctx, event.Type), "unhandled event type ignored")
		}
		return &Result{Status: StatusIgnored, EventType: event.Type, Reason: "unhandled event type"}, nil
	}

	s.analytics.Publish(ctx, analytics.Event{
		Name:   "webhook_event_processed",
		UserID: userID,
		Properties: map[string]any{
			"event_type": event.Type,
			"product_id": event.ProductID,
			"store":      event.Store,
		},
	})

	return &Result{Status: StatusProcessed, EventType: event.Type}, nil
}

// handleActivation covers initial purchase, renewal and product change. The
// next state is computed from the event alone; no prior read is needed.
func (s *Service) handleActivation(ctx context.Context, userID string, event *Event) error {
	record := &models.UserPermission{
		ProfileID:        userID,
		PermissionID:     s.entitlementID,
		Active:           true,
		ExpiresAt:        event.ExpiresAt(),
		ProductID:        event.ProductID,
		Platform:         platformFromStore(event.Store),
		RevenueCatUserID: userID,
		Metadata: dbtypes.JSONMap{
			"status":         string(enums.PermissionStatusActive),
			"transaction_id": event.TransactionID,
			"store":          event.Store,
			"source":         "webhook",
		},
	}
	if err := s.repo.Upsert(ctx, record); err != nil {
		s.logDatastoreError(ctx, event, "activation upsert failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist activation")
	}
	return nil
}

// handleCancellation keeps access until the paid period runs out: active
// stays true, expiry is taken from the event, only the metadata flips.
func (s *Service) handleCancellation(ctx context.Context, userID string, event *Event) error {
	existing, err := s.repo.Find(ctx, userID, s.entitlementID)
	if err != nil {
		s.logDatastoreError(ctx, event, "cancellation read failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load permission record")
	}

	record := s.recordFromPrior(existing, userID, event)
	record.Active = true
	if expires := event.ExpiresAt(); expires != nil {
		record.ExpiresAt = expires
	}
	record.Metadata["status"] = string(enums.PermissionStatusCancelled)
	record.Metadata["cancelled_at"] = s.now().UTC().Format(time.RFC3339)

	if err := s.repo.Upsert(ctx, record); err != nil {
		s.logDatastoreError(ctx, event, "cancellation upsert failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cancellation")
	}
	return nil
}

// handleExpiration revokes access but keeps the prior expiry for audit; the
// event's own timestamps are not trusted for this field.
func (s *Service) handleExpiration(ctx context.Context, userID string, event *Event) error {
	existing, err := s.repo.Find(ctx, userID, s.entitlementID)
	if err != nil {
		s.logDatastoreError(ctx, event, "expiration read failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load permission record")
	}

	record := s.recordFromPrior(existing, userID, event)
	record.Active = false
	record.Metadata["status"] = string(enums.PermissionStatusExpired)
	record.Metadata["expired_at"] = s.now().UTC().Format(time.RFC3339)

	if err := s.repo.Upsert(ctx, record); err != nil {
		s.logDatastoreError(ctx, event, "expiration upsert failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist expiration")
	}
	return nil
}

// handleBillingIssue flags the record during the provider's grace period.
// Without an existing record there is nothing to flag; expiry is carried
// over from the prior row, never invented.
func (s *Service) handleBillingIssue(ctx context.Context, userID string, event *Event) error {
	existing, err := s.repo.Find(ctx, userID, s.entitlementID)
	if err != nil {
		s.logDatastoreError(ctx, event, "billing issue read failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load permission record")
	}
	if existing == nil {
		if s.logg != nil {
			ctx = s.logg.WithFields(ctx, map[string]any{"user_id": userID, "event_type": event.Type})
			s.logg.Info(ctx, "billing issue for unknown permission record, nothing to update")
		}
		return nil
	}

	record := s.recordFromPrior(existing, userID, event)
	record.Active = true
	record.Metadata["billing_issue"] = true
	record.Metadata["billing_issue_detected_at"] = s.now().UTC().Format(time.RFC3339)

	if err := s.repo.Upsert(ctx, record); err != nil {
		s.logDatastoreError(ctx, event, "billing issue upsert failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist billing issue")
	}
	return nil
}

// recordFromPrior merges an existing row (when present) with event identity
// fields, cloning metadata so handlers can layer their own keys on top.
func (s *Service) recordFromPrior(existing *models.UserPermission, userID string, event *Event) *models.UserPermission {
	if existing != nil {
		merged := *existing
		merged.Metadata = existing.Metadata.Clone()
		if merged.Metadata == nil {
			merged.Metadata = dbtypes.JSONMap{}
		}
		if event.ProductID != "" {
			merged.ProductID = event.ProductID
		}
		if event.TransactionID != "" {
			merged.Metadata["transaction_id"] = event.TransactionID
		}
		merged.Metadata["source"] = "webhook"
		return &merged
	}

	return &models.UserPermission{
		ProfileID:        userID,
		PermissionID:     s.entitlementID,
		ExpiresAt:        event.ExpiresAt(),
		ProductID:        event.ProductID,
		Platform:         platformFromStore(event.Store),
		RevenueCatUserID: userID,
		Metadata: dbtypes.JSONMap{
			"transaction_id": event.TransactionID,
			"store":          event.Store,
			"source":         "webhook",
		},
	}
}

func (s *Service) logDatastoreError(ctx context.Context, event *Event, msg string, err error) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_type": event.Type,
		"event_id":   event.ID,
	})
	s.logg.Error(ctx, msg, err)
}

func platformFromStore(store string) enums.Platform {
	switch store {
	case "APP_STORE", "app_store":
		return enums.PlatformIOS
	case "PLAY_STORE", "play_store":
		return enums.PlatformAndroid
	default:
		return ""
	}
}
