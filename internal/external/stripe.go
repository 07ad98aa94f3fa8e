package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"brokerdesk/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// PaymentGateway is what the payments surface needs from Stripe. Creating an
// intent returns the gateway order reference that webhooks later correlate
// back to a crm_payment row.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, payment *types.Payment) (*PaymentIntent, error)
	VerifyWebhook(payload []byte, signature string) (*stripe.Event, error)
}

// PaymentIntent is the subset of the Stripe payment intent the platform
// stores and returns to callers.
type PaymentIntent struct {
	OrderID      string
	ClientSecret string
	Status       string
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey     types.SecretString
	WebhookSecret types.SecretString
	BaseURL       string // Override for testing; defaults to stripeAPIBase
	Logger        *slog.Logger
}

// StripeClient implements PaymentGateway by making direct HTTP calls to the
// Stripe REST API through BaseClient. This approach routes all requests
// through the platform's resilience infrastructure (circuit breaker, retries,
// error mapping) and makes testing with httptest straightforward.
type StripeClient struct {
	base          *BaseClient
	secretKey     types.SecretString
	webhookSecret types.SecretString
	baseURL       string
	logger        *slog.Logger
}

// NewStripeClient creates a new StripeClient.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"BrokerDesk/1.0",
		WithSleepFunc(time.Sleep),
	)

	return &StripeClient{
		base:          base,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		logger:        logger,
	}
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. Useful in tests that need control over retry behavior.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:          base,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		logger:        logger,
	}
}

// CreatePaymentIntent registers the payment with Stripe and returns the
// intent reference. Amounts are stored in rupees and sent in paise.
// The payment row ID travels in metadata so webhook events can be correlated
// without a second lookup key.
func (s *StripeClient) CreatePaymentIntent(ctx context.Context, payment *types.Payment) (*PaymentIntent, error) {
	params := url.Values{}
	params.Set("amount", strconv.FormatInt(int64(payment.Amount*100), 10))
	params.Set("currency", "inr")
	params.Set("description", payment.Description)
	params.Set("metadata[payment_id]", strconv.FormatInt(payment.ID, 10))
	if payment.Email != "" {
		params.Set("receipt_email", payment.Email)
	}

	resp, err := s.doPost(ctx, "/v1/payment_intents", params)
	if err != nil {
		return nil, s.wrapStripeError("CreatePaymentIntent", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreatePaymentIntent")
	}

	var intent stripePaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe payment intent response",
			err,
		)
	}

	s.logger.InfoContext(ctx, "stripe payment intent created",
		"payment_id", payment.ID,
		"order_id", intent.ID,
	)

	return &PaymentIntent{
		OrderID:      intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
	}, nil
}

// VerifyWebhook validates the Stripe signature header and parses the event.
// Signature failures are reported as auth errors so the handler returns 401
// rather than retrying a forged payload.
func (s *StripeClient) VerifyWebhook(payload []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret.Unmask())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthInvalidToken, "invalid webhook signature", err)
	}
	return &event, nil
}

// doPost performs an authenticated POST request to the Stripe API with
// form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	return s.base.Do(req)
}

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to a
// types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamGateway,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamGateway,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError translates a Stripe error into a types.AppError.
func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		return types.NewAppError(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
		).WithDetails(map[string]any{
			"decline_code": stripeErr.DeclineCode,
			"stripe_code":  stripeErr.Code,
		})
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimit,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamDown,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamGateway,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// BaseClient errors (breaker open, retries exhausted) already carry the
	// right code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamGateway,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// stripePaymentIntent is the wire shape of the intent fields we read.
type stripePaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}
