package rcwebhook

import (
	"context"
	"testing"
	"time"

	"github.com/calebreyes-ai/lumina-backend/internal/analytics"
	"github.com/calebreyes-ai/lumina-backend/pkg/db/models"
	"github.com/calebreyes-ai/lumina-backend/pkg/enums"
)

const testEntitlement = "product_a"

func newTestService(t *testing.T, repo *stubPermissionsRepo) *Service {
	t.Helper()

	service, err := NewService(ServiceParams{
		PermissionsRepo: repo,
		EntitlementID:   testEntitlement,
		Now:             func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return service
}

func ms(t time.Time) *int64 {
	v := t.UnixMilli()
	return &v
}

func TestService_InitialPurchaseCreatesActiveRecord(t *testing.T) {
	repo := &stubPermissionsRepo{}
	service := newTestService(t, repo)

	expiry := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	event := &Event{
		Type:              EventTypeInitialPurchase,
		ID:                "evt_1",
		OriginalAppUserID: "user_1",
		ProductID:         "monthly_premium",
		ExpirationAtMS:    ms(expiry),
		Store:             "APP_STORE",
		Environment:       "PRODUCTION",
		TransactionID:     "txn_1",
	}

	result, err := service.HandleEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if result.Status != StatusProcessed {
		t.Fatalf("expected processed, got %q", result.Status)
	}

	record := repo.get("user_1")
	if record == nil {
		t.Fatalf("expected record persisted")
	}
	if !record.Active {
		t.Fatalf("expected record active")
	}
	if record.ExpiresAt == nil || !record.ExpiresAt.Equal(expiry) {
		t.Fatalf("expected expiry %v, got %v", expiry, record.ExpiresAt)
	}
	if record.Platform != enums.PlatformIOS {
		t.Fatalf("expected ios platform, got %q", record.Platform)
	}
	if record.Metadata["status"] != string(enums.PermissionStatusActive) {
		t.Fatalf("expected active status metadata, got %v", record.Metadata["status"])
	}
	if record.Metadata["transaction_id"] != "txn_1" {
		t.Fatalf("expected transaction id recorded, got %v", record.Metadata["transaction_id"])
	}
}

func TestService_ReplayConvergesOnSameState(t *testing.T) {
	repo := &stubPermissionsRepo{}
	service := newTestService(t, repo)

	expiry := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	event := &Event{
		Type:              EventTypeRenewal,
		ID:                "evt_replay",
		OriginalAppUserID: "user_replay",
		ProductID:         "monthly_premium",
		ExpirationAtMS:    ms(expiry),
		Store:             "PLAY_STORE",
		Environment:       "PRODUCTION",
		TransactionID:     "txn_replay",
	}

	for i := 0; i < 3; i++ {
		if _, err := service.HandleEvent(context.Background(), event); err != nil {
			t.Fatalf("handle event attempt %d: %v", i, err)
		}
	}

	if repo.rowCount() != 1 {
		t.Fatalf("expected a single row after replays, got %d", repo.rowCount())
	}
	record := repo.get("user_replay")
	if !record.Active {
		t.Fatalf("expected record active after replays")
	}
	if record.ExpiresAt == nil || !record.ExpiresAt.Equal(expiry) {
		t.Fatalf("expected stable expiry, got %v", record.ExpiresAt)
	}
}

func TestService_CancellationKeepsAccessUntilExpiry(t *testing.T) {
	expiry := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubPermissionsRepo{}
	repo.seed(&models.UserPermission{
		ProfileID:    "user_cancel",
		PermissionID: testEntitlement,
		Active:       true,
		ProductID:    "monthly_premium",
		Platform:     enums.PlatformIOS,
	})
	service := newTestService(t, repo)

	event := &Event{
		Type:              EventTypeCancellation,
		ID:                "evt_cancel",
		OriginalAppUserID: "user_cancel",
		ProductID:         "monthly_premium",
		ExpirationAtMS:    ms(expiry),
		Environment:       "PRODUCTION",
	}

	if _, err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	record := repo.get("user_cancel")
	if !record.Active {
		t.Fatalf("cancellation must not revoke access before expiry")
	}
	if record.ExpiresAt == nil || !record.ExpiresAt.Equal(expiry) {
		t.Fatalf("expected expiry from event, got %v", record.ExpiresAt)
	}
	if record.Metadata["status"] != string(enums.PermissionStatusCancelled) {
		t.Fatalf("expected cancelled status, got %v", record.Metadata["status"])
	}
	if record.Metadata["cancelled_at"] == nil {
		t.Fatalf("expected cancellation timestamp recorded")
	}
}

func TestService_ExpirationRevokesAndKeepsPriorExpiry(t *testing.T) {
	priorExpiry := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubPermissionsRepo{}
	repo.seed(&models.UserPermission{
		ProfileID:    "user_expire",
		PermissionID: testEntitlement,
		Active:       true,
		ExpiresAt:    &priorExpiry,
		ProductID:    "monthly_premium",
	})
	service := newTestService(t, repo)

	event := &Event{
		Type:              EventTypeExpiration,
		ID:                "evt_expire",
		OriginalAppUserID: "user_expire",
		Environment:       "PRODUCTION",
	}

	if _, err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	record := repo.get("user_expire")
	if record.Active {
		t.Fatalf("expiration must revoke access")
	}
	if record.ExpiresAt == nil || !record.ExpiresAt.Equal(priorExpiry) {
		t.Fatalf("expected prior expiry preserved, got %v", record.ExpiresAt)
	}
	if record.Metadata["status"] != string(enums.PermissionStatusExpired) {
		t.Fatalf("expected expired status, got %v", record.Metadata["status"])
	}
}

func TestService_BillingIssueFlagsExistingRecord(t *testing.T) {
	repo := &stubPermissionsRepo{}
	repo.seed(&models.UserPermission{
		ProfileID:    "user_billing",
		PermissionID: testEntitlement,
		Active:       true,
	})
	service := newTestService(t, repo)

	event := &Event{
		Type:              EventTypeBillingIssue,
		ID:                "evt_billing",
		OriginalAppUserID: "user_billing",
		Environment:       "PRODUCTION",
	}

	if _, err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	record := repo.get("user_billing")
	if !record.Active {
		t.Fatalf("billing issue must keep access during grace period")
	}
	if record.Metadata["billing_issue"] != true {
		t.Fatalf("expected billing issue flag set")
	}
}

func TestService_BillingIssueWithoutRecordIsNoOp(t *testing.T) {
	repo := &stubPermissionsRepo{}
	service := newTestService(t, repo)

	event := &Event{
		Type:              EventTypeBillingIssue,
		ID:                "evt_billing_missing",
		OriginalAppUserID: "user_unknown",
		Environment:       "PRODUCTION",
	}

	result, err := service.HandleEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if result.Status != StatusProcessed {
		t.Fatalf("expected processed, got %q", result.Status)
	}
	if repo.upserts != 0 {
		t.Fatalf("expected no writes, got %d", repo.upserts)
	}
}

func TestService_NonProductionEventSkipped(t *testing.T) {
	repo := &stubPermissionsRepo{}
	service := newTestService(t, repo)

	event := &Event{
		Type:              EventTypeInitialPurchase,
		ID:                "evt_sandbox",
		OriginalAppUserID: "user_sandbox",
		Environment:       "SANDBOX",
	}

	result, err := service.HandleEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if result.Status != StatusSkipped {
		t.Fatalf("expected skipped, got %q", result.Status)
	}
	if repo.upserts != 0 {
		t.Fatalf("expected no writes for sandbox event, got %d", repo.upserts)
	}
}

func TestService_UnhandledEventTypeIgnored(t *testing.T) {
	repo := &stubPermissionsRepo{}
	service := newTestService(t, repo)

	event := &Event{
		Type:              EventTypeTransfer,
		ID:                "evt_transfer",
		OriginalAppUserID: "user_transfer",
		Environment:       "PRODUCTION",
	}

	result, err := service.HandleEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if result.Status != StatusIgnored {
		t.Fatalf("expected ignored, got %q", result.Status)
	}
	if repo.upserts != 0 {
		t.Fatalf("expected no writes for ignored event, got %d", repo.upserts)
	}
}

func TestService_MissingUserIDRejected(t *testing.T) {
	repo := &stubPermissionsRepo{}
	service := newTestService(t, repo)

	event := &Event{
		Type:        EventTypeInitialPurchase,
		ID:          "evt_no_user",
		Environment: "PRODUCTION",
	}

	if _, err := service.HandleEvent(context.Background(), event); err == nil {
		t.Fatalf("expected error for missing user id")
	}
	if repo.upserts != 0 {
		t.Fatalf("expected no writes, got %d", repo.upserts)
	}
}

func TestEvent_UserIDFallsBackToSubscriberID(t *testing.T) {
	event := &Event{SubscriberID: "sub_42"}
	if got := event.UserID(); got != "sub_42" {
		t.Fatalf("expected subscriber id fallback, got %q", got)
	}
	event.OriginalAppUserID = "user_42"
	if got := event.UserID(); got != "user_42" {
		t.Fatalf("expected original app user id, got %q", got)
	}
}

func TestService_ProcessedEventEmitsAnalytics(t *testing.T) {
	repo := &stubPermissionsRepo{}
	publisher := &recordingPublisher{}
	service, err := NewService(ServiceParams{
		PermissionsRepo: repo,
		EntitlementID:   testEntitlement,
		Analytics:       publisher,
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}

	processed := &Event{
		Type:              EventTypeInitialPurchase,
		ID:                "evt_analytics",
		OriginalAppUserID: "user_analytics",
		ProductID:         "monthly_premium",
		Environment:       "PRODUCTION",
	}
	if _, err := service.HandleEvent(context.Background(), processed); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected one analytics event, got %d", len(publisher.events))
	}
	if publisher.events[0].Name != "webhook_event_processed" {
		t.Fatalf("unexpected event name %q", publisher.events[0].Name)
	}
	if publisher.events[0].UserID != "user_analytics" {
		t.Fatalf("unexpected event user %q", publisher.events[0].UserID)
	}

	skipped := &Event{
		Type:              EventTypeInitialPurchase,
		ID:                "evt_sandbox_analytics",
		OriginalAppUserID: "user_analytics",
		Environment:       "SANDBOX",
	}
	if _, err := service.HandleEvent(context.Background(), skipped); err != nil {
		t.Fatalf("handle sandbox event: %v", err)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("skipped event must not emit analytics, got %d events", len(publisher.events))
	}
}

type recordingPublisher struct {
	events []analytics.Event
}

func (r *recordingPublisher) Publish(_ context.Context, event analytics.Event) {
	r.events = append(r.events, event)
}

type stubPermissionsRepo struct {
	rows    map[string]*models.UserPermission
	upserts int
}

func (s *stubPermissionsRepo) key(profileID, permissionID string) string {
	return profileID + "/" + permissionID
}

func (s *stubPermissionsRepo) seed(record *models.UserPermission) {
	if s.rows == nil {
		s.rows = map[string]*models.UserPermission{}
	}
	s.rows[s.key(record.ProfileID, record.PermissionID)] = record
}

func (s *stubPermissionsRepo) get(profileID string) *models.UserPermission {
	return s.rows[s.key(profileID, testEntitlement)]
}

func (s *stubPermissionsRepo) rowCount() int {
	return len(s.rows)
}

func (s *stubPermissionsRepo) Find(ctx context.Context, profileID, permissionID string) (*models.UserPermission, error) {
	record, ok := s.rows[s.key(profileID, permissionID)]
	if !ok {
		return nil, nil
	}
	dup := *record
	return &dup, nil
}

func (s *stubPermissionsRepo) ListByProfile(ctx context.Context, profileID string) ([]models.UserPermission, error) {
	var records []models.UserPermission
	for _, record := range s.rows {
		if record.ProfileID == profileID {
			records = append(records, *record)
		}
	}
	return records, nil
}

func (s *stubPermissionsRepo) Upsert(ctx context.Context, record *models.UserPermission) error {
	if s.rows == nil {
		s.rows = map[string]*models.UserPermission{}
	}
	s.upserts++
	s.rows[s.key(record.ProfileID, record.PermissionID)] = record
	return nil
}
