package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bharath3010/curalink-backend/pkg/logging"
)

// Provider is the subset of the PayPal REST API the booking core uses.
type Provider interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*Capture, error)
	RefundCapture(ctx context.Context, captureID string, amountCents int64, currency string) (*Refund, error)
}

// WebhookVerifier checks that a webhook delivery came from the provider.
type WebhookVerifier interface {
	VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) (bool, error)
}

// PayPalConfig configures the REST client.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	WebhookID    string
	BrandName    string
	ReturnURL    string
	CancelURL    string
}

// PayPalClient talks to the PayPal Orders, Payments and Notifications APIs.
// Access tokens come from the client-credentials grant and are cached by the
// oauth2 transport until they expire.
type PayPalClient struct {
	cfg        PayPalConfig
	httpClient *http.Client
	logger     *logging.Logger
}

func NewPayPalClient(cfg PayPalConfig, logger *logging.Logger) (*PayPalClient, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-m.sandbox.paypal.com"
	}
	if cfg.BrandName == "" {
		cfg.BrandName = "CuraLink"
	}
	oauthCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.BaseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	base := &http.Client{Timeout: 15 * time.Second}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := oauthCfg.Client(ctx)
	httpClient.Timeout = 20 * time.Second
	return &PayPalClient{cfg: cfg, httpClient: httpClient, logger: logger}, nil
}

// APIError is a non-2xx PayPal response.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
	Issue      string
}

func (e *APIError) Error() string {
	if e.Issue != "" {
		return fmt.Sprintf("paypal: status %d: %s (%s)", e.StatusCode, e.Name, e.Issue)
	}
	return fmt.Sprintf("paypal: status %d: %s: %s", e.StatusCode, e.Name, e.Message)
}

// OrderRequest describes a single-unit capture order.
type OrderRequest struct {
	ReferenceID string
	AmountCents int64
	Currency    string
	Description string
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []Link `json:"links"`
}

// ApprovalURL returns the link the payer follows to approve the order.
func (o *Order) ApprovalURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

type Capture struct {
	OrderID     string
	Status      string
	CaptureID   string
	AmountCents int64
	Currency    string
}

type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func (c *PayPalClient) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	ctx, span := tracer.Start(ctx, "paypal.create_order")
	defer span.End()
	span.SetAttributes(
		attribute.String("paypal.reference_id", req.ReferenceID),
		attribute.Int64("paypal.amount_cents", req.AmountCents),
	)

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.ReferenceID,
			"description":  req.Description,
			"amount":       money{CurrencyCode: req.Currency, Value: FormatAmount(req.AmountCents)},
		}},
		"application_context": map[string]any{
			"brand_name":  c.cfg.BrandName,
			"user_action": "PAY_NOW",
			"return_url":  c.cfg.ReturnURL,
			"cancel_url":  c.cfg.CancelURL,
		},
	}
	var order Order
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &order, "return=representation"); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	ctx, span := tracer.Start(ctx, "paypal.capture_order")
	defer span.End()
	span.SetAttributes(attribute.String("paypal.order_id", orderID))

	var resp struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
					Amount money  `json:"amount"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", map[string]any{}, &resp, "return=representation"); err != nil {
		return nil, err
	}
	capture := &Capture{OrderID: resp.ID, Status: resp.Status}
	if len(resp.PurchaseUnits) > 0 && len(resp.PurchaseUnits[0].Payments.Captures) > 0 {
		first := resp.PurchaseUnits[0].Payments.Captures[0]
		capture.CaptureID = first.ID
		capture.Currency = first.Amount.CurrencyCode
		if first.Status != "" {
			capture.Status = first.Status
		}
		if cents, err := ParseAmount(first.Amount.Value); err == nil {
			capture.AmountCents = cents
		}
	}
	return capture, nil
}

func (c *PayPalClient) RefundCapture(ctx context.Context, captureID string, amountCents int64, currency string) (*Refund, error) {
	ctx, span := tracer.Start(ctx, "paypal.refund_capture")
	defer span.End()
	span.SetAttributes(
		attribute.String("paypal.capture_id", captureID),
		attribute.Int64("paypal.amount_cents", amountCents),
	)
	if amountCents <= 0 {
		return nil, errors.New("paypal: refund amount must be positive")
	}
	body := map[string]any{
		"amount": money{CurrencyCode: currency, Value: FormatAmount(amountCents)},
	}
	var refund Refund
	if err := c.do(ctx, http.MethodPost, "/v2/payments/captures/"+captureID+"/refund", body, &refund, ""); err != nil {
		return nil, err
	}
	return &refund, nil
}

// VerifyWebhookSignature asks PayPal to check the transmission headers against
// the configured webhook id.
func (c *PayPalClient) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) (bool, error) {
	if c.cfg.WebhookID == "" {
		return false, ErrNotConfigured
	}
	ctx, span := tracer.Start(ctx, "paypal.verify_webhook")
	defer span.End()

	req := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        c.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var resp struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", req, &resp, ""); err != nil {
		return false, err
	}
	return resp.VerificationStatus == "SUCCESS", nil
}

func (c *PayPalClient) do(ctx context.Context, method, path string, in, out any, prefer string) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("paypal: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("paypal: request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paypal: http: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var parsed struct {
			Name    string `json:"name"`
			Message string `json:"message"`
			Details []struct {
				Issue string `json:"issue"`
			} `json:"details"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			apiErr.Name = parsed.Name
			apiErr.Message = parsed.Message
			if len(parsed.Details) > 0 {
				apiErr.Issue = parsed.Details[0].Issue
			}
		}
		c.logger.Error("paypal api error",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"name", apiErr.Name,
			"issue", apiErr.Issue,
		)
		return apiErr
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("paypal: decode: %w", err)
	}
	return nil
}

// FormatAmount renders cents as a decimal string, e.g. 1999 -> "19.99".
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseAmount converts a decimal string with at most two fraction digits to cents.
func ParseAmount(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("amount is empty")
	}
	whole, frac, _ := strings.Cut(value, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimals", value)
	}
	frac += strings.Repeat("0", 2-len(frac))
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", value, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || cents < 0 {
		return 0, fmt.Errorf("amount %q: invalid fraction", value)
	}
	if strings.HasPrefix(whole, "-") {
		return units*100 - cents, nil
	}
	return units*100 + cents, nil
}
