package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/calebreyes-ai/lumina-backend/api/middleware"
	"github.com/calebreyes-ai/lumina-backend/internal/purchases"
	pkgerrors "github.com/calebreyes-ai/lumina-backend/pkg/errors"
)

type fakePurchaseService struct {
	result *purchases.Result
	err    error
	calls  int
	input  purchases.ValidateInput
}

func (f *fakePurchaseService) Validate(ctx context.Context, input purchases.ValidateInput) (*purchases.Result, error) {
	f.calls++
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func authedRequest(t *testing.T, body any) *http.Request {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases/validate", bytes.NewReader(raw))
	return req.WithContext(middleware.WithUserID(req.Context(), "user_1"))
}

func TestValidatePurchase_Success(t *testing.T) {
	expiry := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	service := &fakePurchaseService{
		result: &purchases.Result{EntitlementID: "product_a", ExpiresAt: &expiry},
	}
	handler := ValidatePurchase(service, nil, nil)

	req := authedRequest(t, map[string]string{
		"receipt":    "receipt-data",
		"platform":   "ios",
		"product_id": "monthly_premium",
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.input.UserID != "user_1" {
		t.Fatalf("expected user from context, got %q", service.input.UserID)
	}

	var envelope struct {
		Data validatePurchaseResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.EntitlementID != "product_a" {
		t.Fatalf("unexpected entitlement %q", envelope.Data.EntitlementID)
	}
	if envelope.Data.AlreadyActive {
		t.Fatalf("unexpected already_active")
	}
}

func TestValidatePurchase_BodyUserIDToleratedButIgnored(t *testing.T) {
	expiry := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	service := &fakePurchaseService{
		result: &purchases.Result{EntitlementID: "product_a", ExpiresAt: &expiry},
	}
	handler := ValidatePurchase(service, nil, nil)

	req := authedRequest(t, map[string]string{
		"receipt":    "receipt-data",
		"platform":   "ios",
		"product_id": "monthly_premium",
		"userId":     "someone_else",
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for body carrying userId, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.input.UserID != "user_1" {
		t.Fatalf("identity must come from the token, got %q", service.input.UserID)
	}
}

func TestValidatePurchase_MissingFields(t *testing.T) {
	service := &fakePurchaseService{}
	handler := ValidatePurchase(service, nil, nil)

	req := authedRequest(t, map[string]string{"platform": "ios"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 0 {
		t.Fatalf("service must not run on invalid body")
	}
}

func TestValidatePurchase_UnsupportedPlatform(t *testing.T) {
	handler := ValidatePurchase(&fakePurchaseService{}, nil, nil)

	req := authedRequest(t, map[string]string{
		"receipt":    "receipt-data",
		"platform":   "web",
		"product_id": "monthly_premium",
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported platform, got %d", rec.Code)
	}
}

func TestValidatePurchase_Unauthenticated(t *testing.T) {
	handler := ValidatePurchase(&fakePurchaseService{}, nil, nil)

	raw, _ := json.Marshal(map[string]string{
		"receipt":    "receipt-data",
		"platform":   "ios",
		"product_id": "monthly_premium",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/purchases/validate", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user context, got %d", rec.Code)
	}
}

func TestValidatePurchase_ServiceErrorPropagates(t *testing.T) {
	service := &fakePurchaseService{
		err: pkgerrors.New(pkgerrors.CodeValidation, "no valid entitlement found"),
	}
	handler := ValidatePurchase(service, nil, nil)

	req := authedRequest(t, map[string]string{
		"receipt":    "bad-receipt",
		"platform":   "ios",
		"product_id": "monthly_premium",
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for rejected receipt, got %d (%s)", rec.Code, rec.Body.String())
	}
}
