package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"brokerdesk/internal/core"
	"brokerdesk/internal/external"
	"brokerdesk/internal/types"
)

type mockPaymentStore struct {
	createFn       func(ctx context.Context, payment *types.Payment) error
	getByIDFn      func(ctx context.Context, id int64) (*types.Payment, error)
	getByOrderIDFn func(ctx context.Context, orderID string) (*types.Payment, error)
	setOrderIDFn   func(ctx context.Context, id int64, orderID string) error
	updateStatusFn func(ctx context.Context, id int64, status types.PaymentStatus, transactionID string) error
	listByLeadFn   func(ctx context.Context, leadID int64) ([]types.Payment, error)

	lastCreated   *types.Payment
	lastOrderID   string
	statusUpdates []types.PaymentStatus
}

func (m *mockPaymentStore) Create(ctx context.Context, payment *types.Payment) error {
	m.lastCreated = payment
	payment.ID = 42
	if m.createFn != nil {
		return m.createFn(ctx, payment)
	}
	return nil
}

func (m *mockPaymentStore) GetByID(ctx context.Context, id int64) (*types.Payment, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return &types.Payment{ID: id, Name: "Asha Rao", Amount: 1499.50, Status: types.PaymentStatusPending}, nil
}

func (m *mockPaymentStore) GetByOrderID(ctx context.Context, orderID string) (*types.Payment, error) {
	if m.getByOrderIDFn != nil {
		return m.getByOrderIDFn(ctx, orderID)
	}
	lead := int64(7)
	return &types.Payment{
		ID:      42,
		LeadID:  &lead,
		Name:    "Asha Rao",
		Phone:   "9876543210",
		OrderID: orderID,
		Amount:  1499.50,
		Status:  types.PaymentStatusPending,
	}, nil
}

func (m *mockPaymentStore) SetOrderID(ctx context.Context, id int64, orderID string) error {
	m.lastOrderID = orderID
	if m.setOrderIDFn != nil {
		return m.setOrderIDFn(ctx, id, orderID)
	}
	return nil
}

func (m *mockPaymentStore) UpdateStatus(ctx context.Context, id int64, status types.PaymentStatus, transactionID string) error {
	m.statusUpdates = append(m.statusUpdates, status)
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status, transactionID)
	}
	return nil
}

func (m *mockPaymentStore) ListByLead(ctx context.Context, leadID int64) ([]types.Payment, error) {
	if m.listByLeadFn != nil {
		return m.listByLeadFn(ctx, leadID)
	}
	return []types.Payment{}, nil
}

type mockClientMarker struct {
	markClientFn func(ctx context.Context, id int64) error

	marked []int64
}

func (m *mockClientMarker) MarkClient(ctx context.Context, id int64) error {
	m.marked = append(m.marked, id)
	if m.markClientFn != nil {
		return m.markClientFn(ctx, id)
	}
	return nil
}

type mockGateway struct {
	createIntentFn  func(ctx context.Context, payment *types.Payment) (*external.PaymentIntent, error)
	verifyWebhookFn func(payload []byte, signature string) (*stripe.Event, error)
}

func (m *mockGateway) CreatePaymentIntent(ctx context.Context, payment *types.Payment) (*external.PaymentIntent, error) {
	if m.createIntentFn != nil {
		return m.createIntentFn(ctx, payment)
	}
	return &external.PaymentIntent{
		OrderID:      "pi_test_123",
		ClientSecret: "pi_test_123_secret",
		Status:       "requires_payment_method",
	}, nil
}

func (m *mockGateway) VerifyWebhook(payload []byte, signature string) (*stripe.Event, error) {
	if m.verifyWebhookFn != nil {
		return m.verifyWebhookFn(payload, signature)
	}
	return nil, types.NewAppError(types.ErrCodeAuthInvalidToken, "invalid webhook signature", nil)
}

type mockMessageSender struct {
	sendFn func(ctx context.Context, phone, body string) error

	sent []string
}

func (m *mockMessageSender) SendMessage(ctx context.Context, phone, body string) error {
	m.sent = append(m.sent, phone)
	if m.sendFn != nil {
		return m.sendFn(ctx, phone, body)
	}
	return nil
}

type mockPublisher struct {
	publishFn func(ctx context.Context, msg types.NotificationMessage) error

	published []types.NotificationMessage
}

func (m *mockPublisher) PublishNotification(ctx context.Context, msg types.NotificationMessage) error {
	m.published = append(m.published, msg)
	if m.publishFn != nil {
		return m.publishFn(ctx, msg)
	}
	return nil
}

func newTestPaymentHandler() (*PaymentHandler, *mockPaymentStore, *mockClientMarker, *mockStoryStore, *mockGateway, *mockMessageSender, *mockPublisher) {
	payments := &mockPaymentStore{}
	leads := &mockClientMarker{}
	stories := &mockStoryStore{}
	gateway := &mockGateway{}
	messenger := &mockMessageSender{}
	publisher := &mockPublisher{}

	logger := slog.Default()
	handler := NewPaymentHandler(PaymentHandlerConfig{
		Payments:  payments,
		Leads:     leads,
		Stories:   stories,
		Gateway:   gateway,
		Messenger: messenger,
		Publisher: publisher,
		Clock:     fixedClock{t: testNow},
		Validator: core.NewValidator(logger),
		Logger:    logger,
	})
	return handler, payments, leads, stories, gateway, messenger, publisher
}

func paymentRouter(h *PaymentHandler) chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// succeededEvent builds the webhook event shape for a settled intent.
func succeededEvent(orderID string) *stripe.Event {
	raw := `{"id":"` + orderID + `","latest_charge":"ch_test_1","metadata":{"payment_id":"42"}}`
	return &stripe.Event{
		Type: "payment_intent.succeeded",
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

func failedEvent(orderID string) *stripe.Event {
	raw := `{"id":"` + orderID + `","latest_charge":"ch_test_1","metadata":{"payment_id":"42"}}`
	return &stripe.Event{
		Type: "payment_intent.payment_failed",
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

// =============================================================================
// Create Tests
// =============================================================================

func TestPaymentHandler_Create_Success(t *testing.T) {
	handler, payments, _, _, _, _, _ := newTestPaymentHandler()

	body, _ := json.Marshal(CreatePaymentRequest{
		LeadID: ptrInt64(7),
		Name:   "Asha Rao",
		Email:  "asha@example.com",
		Phone:  "9876543210",
		Amount: 1499.50,
	})
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	paymentRouter(handler).ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.NotNil(t, payments.lastCreated)
	assert.Equal(t, types.PaymentStatusPending, payments.lastCreated.Status)
	assert.Equal(t, "pi_test_123", payments.lastOrderID)

	var resp struct {
		Data CreatePaymentResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "pi_test_123_secret", resp.Data.ClientSecret)
	assert.Equal(t, "pi_test_123", resp.Data.Payment.OrderID)
}

func TestPaymentHandler_Create_GatewayDeclined(t *testing.T) {
	handler, payments, _, _, gateway, _, _ := newTestPaymentHandler()

	gateway.createIntentFn = func(ctx context.Context, payment *types.Payment) (*external.PaymentIntent, error) {
		return nil, types.NewAppError(types.ErrCodePaymentDeclined, "card declined", nil)
	}

	body, _ := json.Marshal(CreatePaymentRequest{
		Name: "Asha Rao", Email: "asha@example.com", Phone: "9876543210", Amount: 100,
	})
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	paymentRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Empty(t, payments.lastOrderID)
}

func TestPaymentHandler_Create_InvalidAmount(t *testing.T) {
	handler, _, _, _, _, _, _ := newTestPaymentHandler()

	body, _ := json.Marshal(CreatePaymentRequest{
		Name: "Asha Rao", Email: "asha@example.com", Phone: "9876543210", Amount: -5,
	})
	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	paymentRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =============================================================================
// Webhook Tests
// =============================================================================

func TestPaymentHandler_Webhook_InvalidSignature(t *testing.T) {
	handler, payments, _, _, _, _, _ := newTestPaymentHandler()

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook",
		strings.NewReader(`{"type":"payment_intent.succeeded"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	rr := httptest.NewRecorder()
	paymentRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, payments.statusUpdates)
}

func TestPaymentHandler_Webhook_IntentSucceeded(t *testing.T) {
	handler, payments, leads, stories, gateway, messenger, publisher := newTestPaymentHandler()

	gateway.verifyWebhookFn = func(payload []byte, signature string) (*stripe.Event, error) {
		return succeededEvent("pi_test_123"), nil
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rr := httptest.NewRecorder()
	paymentRouter(handler).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, payments.statusUpdates, 1)
	assert.Equal(t, types.PaymentStatusPaid, payments.statusUpdates[0])
	assert.Equal(t, []int64{7}, leads.marked)
	require.Len(t, stories.appended, 1)
	assert.Contains(t, stories.appended[0], "Converted to client")
	assert.Equal(t, []string{"9876543210"}, messenger.sent)

	require.Len(t, publisher.published, 1)
	msg := publisher.published[0]
	assert.Equal(t, types.NotificationPaymentUpdate, msg.Kind)
	require.NotNil(t, msg.PaymentID)
	assert.Equal(t, int64(42), *msg.PaymentID)
	assert.Equal(t, testNow, msg.OccurredAt)
}

func TestPaymentHandler_Webhook_ReplayIsIdempotent(t *testing.T) {
	handler, payments, leads, _, gateway, messenger, _ := newTestPaymentHandler()

	gateway.verifyWebhookFn = func(payload []byte, signature string) (*stripe.Event, error) {
		return succeededEvent("pi_test_123"), nil
	}
	payments.getByOrderIDFn = func(ctx context.Context, orderID string) (*types.Payment, error) {
		return &types.Payment{ID: 42, OrderID: orderID, Status: types.PaymentStatusPaid}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rr := httptest.NewRecorder()
	paymentRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, payments.statusUpdates)
	assert.Empty(t, leads.marked)
	assert.Empty(t, messenger.sent)
}

func TestPaymentHandler_Webhook_IntentFailed(t *testing.T) {
	handler, payments, leads, _, gateway, _, _ := newTestPaymentHandler()

	gateway.verifyWebhookFn = func(payload []byte, signature string) (*stripe.Event, error) {
		return failedEvent("pi_test_123"), nil
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rr := httptest.NewRecorder()
	paymentRouter(handler).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, payments.statusUpdates, 1)
	assert.Equal(t, types.PaymentStatusFailed, payments.statusUpdates[0])
	assert.Empty(t, leads.marked)
}

func TestPaymentHandler_Webhook_IgnoresOtherEvents(t *testing.T) {
	handler, payments, _, _, gateway, _, _ := newTestPaymentHandler()

	gateway.verifyWebhookFn = func(payload []byte, signature string) (*stripe.Event, error) {
		return &stripe.Event{
			Type: "charge.refund.updated",
			Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
		}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rr := httptest.NewRecorder()
	paymentRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, payments.statusUpdates)
}

func TestPaymentHandler_Webhook_DeliveryFailureStillAcks(t *testing.T) {
	handler, payments, _, _, gateway, messenger, publisher := newTestPaymentHandler()

	gateway.verifyWebhookFn = func(payload []byte, signature string) (*stripe.Event, error) {
		return succeededEvent("pi_test_123"), nil
	}
	messenger.sendFn = func(ctx context.Context, phone, body string) error {
		return types.NewAppError(types.ErrCodeUpstreamWhatsApp, "whatsapp unavailable", nil)
	}
	publisher.publishFn = func(ctx context.Context, msg types.NotificationMessage) error {
		return types.NewAppError(types.ErrCodeUpstreamQueue, "queue unavailable", nil)
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rr := httptest.NewRecorder()
	paymentRouter(handler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, payments.statusUpdates, 1)
	assert.Equal(t, types.PaymentStatusPaid, payments.statusUpdates[0])
}

// =============================================================================
// Lookup Tests
// =============================================================================

func TestPaymentHandler_Get_Success(t *testing.T) {
	handler, _, _, _, _, _, _ := newTestPaymentHandler()

	req := httptest.NewRequest(http.MethodGet, "/payments/42", nil)
	rr := httptest.NewRecorder()
	paymentRouter(handler).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data types.Payment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.Data.ID)
}

func TestPaymentHandler_ListByLead(t *testing.T) {
	handler, payments, _, _, _, _, _ := newTestPaymentHandler()

	payments.listByLeadFn = func(ctx context.Context, leadID int64) ([]types.Payment, error) {
		assert.Equal(t, int64(7), leadID)
		return []types.Payment{{ID: 42}, {ID: 43}}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/leads/7/payments", nil)
	rr := httptest.NewRecorder()
	paymentRouter(handler).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Data []types.Payment `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 2)
}
