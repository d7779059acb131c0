package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	rcwebhook "github.com/calebreyes-ai/lumina-backend/internal/webhooks/revenuecat"
	pkgerrors "github.com/calebreyes-ai/lumina-backend/pkg/errors"
)

const testWebhookSecret = "whsec_test"

func buildSignedPayload(t *testing.T, eventID, eventType string) ([]byte, string) {
	t.Helper()

	payload, err := json.Marshal(rcwebhook.Payload{Event: rcwebhook.Event{
		Type:              eventType,
		ID:                eventID,
		OriginalAppUserID: "user_1",
		ProductID:         "monthly_premium",
		Store:             "APP_STORE",
		Environment:       "PRODUCTION",
		TransactionID:     "txn_1",
	}})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return payload, hex.EncodeToString(mac.Sum(nil))
}

func newGuard(t *testing.T) *rcwebhook.IdempotencyGuard {
	t.Helper()

	guard, err := rcwebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "revenuecat-webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func TestRevenueCatWebhook_SuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedPayload(t, "evt_1", rcwebhook.EventTypeInitialPurchase)
	service := &fakeWebhookService{}
	handler := RevenueCatWebhook(service, hmacVerifier{}, newGuard(t), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/revenuecat", bytes.NewReader(payload))
	req.Header.Set("X-RevenueCat-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}

	// Replay the same delivery
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/revenuecat", bytes.NewReader(payload))
	req2.Header.Set("X-RevenueCat-Signature", header)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected duplicate not processed, call count %d", service.calls)
	}
}

func TestRevenueCatWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedPayload(t, "evt_2", rcwebhook.EventTypeRenewal)
	service := &fakeWebhookService{}
	handler := RevenueCatWebhook(service, hmacVerifier{}, newGuard(t), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/revenuecat", bytes.NewReader(payload))
	req.Header.Set("X-RevenueCat-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestRevenueCatWebhook_MissingSignature(t *testing.T) {
	payload, _ := buildSignedPayload(t, "evt_3", rcwebhook.EventTypeRenewal)
	handler := RevenueCatWebhook(&fakeWebhookService{}, hmacVerifier{}, newGuard(t), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/revenuecat", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing signature, got %d", rec.Code)
	}
}

func TestRevenueCatWebhook_MalformedBody(t *testing.T) {
	payload := []byte("{not json")
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	header := hex.EncodeToString(mac.Sum(nil))

	handler := RevenueCatWebhook(&fakeWebhookService{}, hmacVerifier{}, newGuard(t), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/revenuecat", bytes.NewReader(payload))
	req.Header.Set("X-RevenueCat-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestRevenueCatWebhook_FailureReleasesIdempotencyKey(t *testing.T) {
	payload, header := buildSignedPayload(t, "evt_retry", rcwebhook.EventTypeRenewal)
	service := &fakeWebhookService{
		err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "persist activation"),
	}
	handler := RevenueCatWebhook(service, hmacVerifier{}, newGuard(t), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/revenuecat", bytes.NewReader(payload))
	req.Header.Set("X-RevenueCat-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on handler failure, got %d", rec.Code)
	}

	// Provider retry after the failure must be processed, not suppressed.
	service.err = nil
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/revenuecat", bytes.NewReader(payload))
	req2.Header.Set("X-RevenueCat-Signature", header)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on retry, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.calls != 2 {
		t.Fatalf("expected retry to reach service, call count %d", service.calls)
	}
}

type fakeWebhookService struct {
	calls int
	err   error
}

func (f *fakeWebhookService) HandleEvent(ctx context.Context, event *rcwebhook.Event) (*rcwebhook.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &rcwebhook.Result{Status: rcwebhook.StatusProcessed, EventType: event.Type}, nil
}

type hmacVerifier struct{}

func (hmacVerifier) VerifyWebhookSignature(payload []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

type inMemoryStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{keys: map[string]string{}}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key]; exists {
		return false, nil
	}
	s.keys[key] = "1"
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return "idempotency:" + scope + ":" + id
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}
