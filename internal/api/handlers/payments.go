package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v82"

	"brokerdesk/internal/core"
	"brokerdesk/internal/external"
	"brokerdesk/internal/scheduler"
	"brokerdesk/internal/types"
)

// maxWebhookBody caps the Stripe webhook payload size.
const maxWebhookBody = 256 * 1024

// PaymentStore defines the data access contract for payment operations.
type PaymentStore interface {
	Create(ctx context.Context, payment *types.Payment) error
	GetByID(ctx context.Context, id int64) (*types.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*types.Payment, error)
	SetOrderID(ctx context.Context, id int64, orderID string) error
	UpdateStatus(ctx context.Context, id int64, status types.PaymentStatus, transactionID string) error
	ListByLead(ctx context.Context, leadID int64) ([]types.Payment, error)
}

// ClientMarker promotes a lead to client after a successful payment.
type ClientMarker interface {
	MarkClient(ctx context.Context, id int64) error
}

// NotificationPublisher fans out payment events to the notification queue.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, msg types.NotificationMessage) error
}

// CreatePaymentRequest is the request body for POST /v1/payments.
type CreatePaymentRequest struct {
	LeadID      *int64  `json:"lead_id,omitempty" validate:"omitempty,min=1"`
	Name        string  `json:"name" validate:"required,max=200"`
	Email       string  `json:"email" validate:"required,email"`
	Phone       string  `json:"phone" validate:"required,min=10,max=15"`
	Service     string  `json:"service,omitempty" validate:"omitempty,max=100"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Description string  `json:"description,omitempty" validate:"omitempty,max=500"`
	BranchID    *int64  `json:"branch_id,omitempty"`
}

// CreatePaymentResponse returns the stored payment together with the
// gateway client secret the frontend needs to confirm the intent.
type CreatePaymentResponse struct {
	Payment      *types.Payment `json:"payment"`
	ClientSecret string         `json:"client_secret"`
}

// PaymentHandler manages payment creation, lookup, and the gateway webhook.
type PaymentHandler struct {
	payments  PaymentStore
	leads     ClientMarker
	stories   StoryStore
	gateway   external.PaymentGateway
	messenger external.MessageSender
	publisher NotificationPublisher
	clock     scheduler.Clock
	validator *core.Validator
	logger    *slog.Logger
}

// PaymentHandlerConfig bundles the PaymentHandler dependencies.
type PaymentHandlerConfig struct {
	Payments  PaymentStore
	Leads     ClientMarker
	Stories   StoryStore
	Gateway   external.PaymentGateway
	Messenger external.MessageSender
	Publisher NotificationPublisher
	Clock     scheduler.Clock
	Validator *core.Validator
	Logger    *slog.Logger
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(cfg PaymentHandlerConfig) *PaymentHandler {
	if cfg.Clock == nil {
		cfg.Clock = scheduler.SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PaymentHandler{
		payments:  cfg.Payments,
		leads:     cfg.Leads,
		stories:   cfg.Stories,
		gateway:   cfg.Gateway,
		messenger: cfg.Messenger,
		publisher: cfg.Publisher,
		clock:     cfg.Clock,
		validator: cfg.Validator,
		logger:    cfg.Logger,
	}
}

// RegisterRoutes mounts payment routes on the provided chi.Router.
func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Post("/webhook", h.Webhook)
		r.Get("/{id}", h.Get)
	})
	r.Get("/leads/{id}/payments", h.ListByLead)
}

// Create handles POST /v1/payments: store a pending payment, open a gateway
// intent carrying the payment ID in its metadata, then record the order ID
// for webhook correlation.
func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if h.gateway == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeUpstreamGateway, "payment gateway is not configured", nil))
		return
	}

	ctx := r.Context()
	payment := &types.Payment{
		LeadID:      req.LeadID,
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Service:     req.Service,
		Amount:      req.Amount,
		Status:      types.PaymentStatusPending,
		Mode:        "gateway",
		Description: req.Description,
		BranchID:    req.BranchID,
	}
	if err := h.payments.Create(ctx, payment); err != nil {
		core.Error(w, r, err)
		return
	}

	intent, err := h.gateway.CreatePaymentIntent(ctx, payment)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.payments.SetOrderID(ctx, payment.ID, intent.OrderID); err != nil {
		core.Error(w, r, err)
		return
	}
	payment.OrderID = intent.OrderID

	h.logger.InfoContext(ctx, "payment intent created",
		"payment_id", payment.ID, "order_id", intent.OrderID, "amount", payment.Amount)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: CreatePaymentResponse{
		Payment:      payment,
		ClientSecret: intent.ClientSecret,
	}})
}

// Get handles GET /v1/payments/{id}.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := paymentIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	payment, err := h.payments.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: payment})
}

// ListByLead handles GET /v1/leads/{id}/payments.
func (h *PaymentHandler) ListByLead(w http.ResponseWriter, r *http.Request) {
	id, err := leadIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	payments, err := h.payments.ListByLead(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: payments})
}

// webhookIntent is the subset of a gateway payment intent the webhook needs.
type webhookIntent struct {
	ID           string `json:"id"`
	LatestCharge string `json:"latest_charge"`
	Metadata     struct {
		PaymentID string `json:"payment_id"`
	} `json:"metadata"`
}

// Webhook handles POST /v1/payments/webhook. The signature is verified
// before any payload field is trusted. Unhandled event types are
// acknowledged with 200 so the gateway stops retrying them.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeUpstreamGateway, "payment gateway is not configured", nil))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidField, "failed to read webhook payload", err))
		return
	}

	event, err := h.gateway.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	ctx := r.Context()
	switch string(event.Type) {
	case "payment_intent.succeeded":
		err = h.handleIntentSucceeded(ctx, event)
	case "payment_intent.payment_failed":
		err = h.handleIntentFailed(ctx, event)
	default:
		h.logger.InfoContext(ctx, "ignoring webhook event", "event_type", string(event.Type))
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"received": "true"}})
}

func (h *PaymentHandler) handleIntentSucceeded(ctx context.Context, event *stripe.Event) error {
	intent, err := decodeIntent(event)
	if err != nil {
		return err
	}

	payment, err := h.payments.GetByOrderID(ctx, intent.ID)
	if err != nil {
		return err
	}

	// Webhook deliveries can repeat; a paid payment is left untouched.
	if payment.Status == types.PaymentStatusPaid {
		h.logger.InfoContext(ctx, "webhook replay for settled payment", "payment_id", payment.ID)
		return nil
	}

	if err := h.payments.UpdateStatus(ctx, payment.ID, types.PaymentStatusPaid, intent.LatestCharge); err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "payment settled",
		"payment_id", payment.ID, "order_id", intent.ID, "amount", payment.Amount)

	if payment.LeadID != nil {
		if err := h.leads.MarkClient(ctx, *payment.LeadID); err != nil {
			h.logger.ErrorContext(ctx, "failed to mark lead as client",
				"lead_id", *payment.LeadID, "error", err)
		} else if err := h.stories.Append(ctx, *payment.LeadID, types.SystemActor,
			"Converted to client: payment "+strconv.FormatInt(payment.ID, 10)+" settled"); err != nil {
			h.logger.ErrorContext(ctx, "failed to append conversion story",
				"lead_id", *payment.LeadID, "error", err)
		}
	}

	h.notifySettled(ctx, payment)
	return nil
}

func (h *PaymentHandler) handleIntentFailed(ctx context.Context, event *stripe.Event) error {
	intent, err := decodeIntent(event)
	if err != nil {
		return err
	}

	payment, err := h.payments.GetByOrderID(ctx, intent.ID)
	if err != nil {
		return err
	}
	if payment.Status == types.PaymentStatusPaid {
		// A failure event arriving after settlement is stale; keep the paid row.
		return nil
	}

	if err := h.payments.UpdateStatus(ctx, payment.ID, types.PaymentStatusFailed, intent.LatestCharge); err != nil {
		return err
	}
	h.logger.WarnContext(ctx, "payment failed", "payment_id", payment.ID, "order_id", intent.ID)
	return nil
}

// notifySettled delivers the confirmation message and queue event. Both are
// best effort; the webhook acknowledgement never depends on them.
func (h *PaymentHandler) notifySettled(ctx context.Context, payment *types.Payment) {
	body := "Payment of INR " + strconv.FormatFloat(payment.Amount, 'f', 2, 64) +
		" received. Thank you, " + payment.Name + "."

	if h.messenger != nil && payment.Phone != "" {
		if err := h.messenger.SendMessage(ctx, payment.Phone, body); err != nil {
			h.logger.ErrorContext(ctx, "failed to send payment confirmation",
				"payment_id", payment.ID, "error", err)
		}
	}

	if h.publisher != nil {
		msg := types.NotificationMessage{
			Kind:       types.NotificationPaymentUpdate,
			LeadID:     payment.LeadID,
			PaymentID:  &payment.ID,
			Recipient:  payment.Phone,
			Body:       body,
			TraceID:    types.GetRequestID(ctx),
			OccurredAt: h.clock.Now(),
		}
		if err := h.publisher.PublishNotification(ctx, msg); err != nil {
			h.logger.ErrorContext(ctx, "failed to publish payment notification",
				"payment_id", payment.ID, "error", err)
		}
	}
}

func decodeIntent(event *stripe.Event) (*webhookIntent, error) {
	var intent webhookIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidField, "malformed payment intent payload", err)
	}
	if intent.ID == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidField, "payment intent payload missing id", nil)
	}
	return &intent, nil
}

func paymentIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, types.NewAppError(
			types.ErrCodeValidationInvalidField, "payment id must be a positive integer", nil)
	}
	return id, nil
}
