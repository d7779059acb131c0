package revenuecat

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/calebreyes-ai/lumina-backend/pkg/config"
	"github.com/calebreyes-ai/lumina-backend/pkg/enums"
	pkgerrors "github.com/calebreyes-ai/lumina-backend/pkg/errors"
	"github.com/calebreyes-ai/lumina-backend/pkg/logger"
)

const receiptsPath = "/v1/receipts"

var (
	errAPIKeyRequired = errors.New("revenuecat api key is required")
	errSecretRequired = errors.New("revenuecat webhook secret is required")
)

// Client wraps the billing provider's HTTP API plus webhook signing metadata.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	webhookSecret string
	entitlementID string
}

// NewClient initializes the provider client once with the configured secrets.
func NewClient(ctx context.Context, cfg config.RevenueCatConfig, logg *logger.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errSecretRequired
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	entitlement := strings.TrimSpace(cfg.EntitlementID)
	if entitlement == "" {
		entitlement = "product_a"
	}

	if logg != nil {
		logg.Info(ctx, "revenuecat client initialized")
	}

	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        apiKey,
		webhookSecret: secret,
		entitlementID: entitlement,
	}, nil
}

// EntitlementID returns the entitlement this deployment grants access for.
func (c *Client) EntitlementID() string {
	if c == nil {
		return ""
	}
	return c.entitlementID
}

// VerifyWebhookSignature checks the hex HMAC-SHA256 of the raw body bytes.
// The payload must be the exact bytes read off the wire; re-serializing a
// decoded event changes whitespace and field order and will not match.
// Fails closed on a missing header or secret.
func (c *Client) VerifyWebhookSignature(payload []byte, header string) bool {
	if c == nil || header == "" || c.webhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// ReceiptValidation is the full success tuple of a validated receipt.
// Partial results are never returned; the caller gets all fields or an error.
type ReceiptValidation struct {
	EntitlementID string
	ExpiresAt     time.Time
	TransactionID string
}

type receiptRequest struct {
	AppUserID     string `json:"app_user_id"`
	FetchToken    string `json:"fetch_token,omitempty"`
	PurchaseToken string `json:"purchase_token,omitempty"`
}

type subscriberResponse struct {
	Subscriber struct {
		Entitlements map[string]struct {
			ExpiresDate       *time.Time `json:"expires_date"`
			ProductIdentifier string     `json:"product_identifier"`
		} `json:"entitlements"`
		Subscriptions map[string]struct {
			StoreTransactionID string `json:"store_transaction_id"`
		} `json:"subscriptions"`
	} `json:"subscriber"`
}

// ValidateReceipt confirms a client-submitted receipt/token with the provider
// and extracts the entitlement expiry plus originating transaction id.
func (c *Client) ValidateReceipt(ctx context.Context, receipt string, platform enums.Platform, userID string) (*ReceiptValidation, error) {
	if strings.TrimSpace(receipt) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "receipt is required")
	}
	if !platform.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported platform %q", platform))
	}

	body := receiptRequest{AppUserID: userID}
	switch platform {
	case enums.PlatformIOS:
		body.FetchToken = receipt
	case enums.PlatformAndroid:
		body.PurchaseToken = receipt
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode receipt request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+receiptsPath, bytes.NewReader(raw))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build receipt request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Platform", platform.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "call receipt validation endpoint")
	}
	defer resp.Body.Close()

	// A non-2xx here means the provider rejected the receipt, not that the
	// provider is down; the caller gets a validation error carrying the status.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("receipt validation failed with status %d", resp.StatusCode))
	}

	var decoded subscriberResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode receipt validation response")
	}

	entitlement, ok := decoded.Subscriber.Entitlements[c.entitlementID]
	if !ok || entitlement.ExpiresDate == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no valid entitlement found")
	}

	transactionID := ""
	for _, sub := range decoded.Subscriber.Subscriptions {
		transactionID = sub.StoreTransactionID
		break
	}

	return &ReceiptValidation{
		EntitlementID: c.entitlementID,
		ExpiresAt:     entitlement.ExpiresDate.UTC(),
		TransactionID: transactionID,
	}, nil
}
