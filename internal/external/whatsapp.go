package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"brokerdesk/internal/config"
	"brokerdesk/internal/types"
)

// MessageSender delivers an outbound WhatsApp message to a phone number.
// Payment confirmations go through this interface so handlers can be tested
// without a live provider.
type MessageSender interface {
	SendMessage(ctx context.Context, phone string, body string) error
}

// WhatsAppClient implements MessageSender against the provider's REST API.
type WhatsAppClient struct {
	base    *BaseClient
	baseURL string
	apiKey  types.SecretString
	logger  *slog.Logger
}

// NewWhatsAppClient creates a WhatsAppClient from provider configuration.
func NewWhatsAppClient(cfg config.WhatsAppConfig, logger *slog.Logger) *WhatsAppClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := NewBaseClient(
		&http.Client{Timeout: cfg.Timeout},
		"whatsapp",
		DefaultRetryPolicy(),
		cfg.UserAgent,
	)
	return &WhatsAppClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

type whatsAppMessage struct {
	To   string `json:"to"`
	Type string `json:"type"`
	Body string `json:"body"`
}

// SendMessage sends a plain-text message. Delivery is fire-and-forget from
// the caller's perspective; the provider handles retries beyond ours.
func (c *WhatsAppClient) SendMessage(ctx context.Context, phone string, body string) error {
	payload, err := json.Marshal(whatsAppMessage{To: phone, Type: "text", Body: body})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode whatsapp message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build whatsapp request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())

	start := time.Now()
	resp, err := c.base.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamWhatsApp, "whatsapp provider unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return types.NewAppError(types.ErrCodeUpstreamWhatsApp,
			fmt.Sprintf("whatsapp provider returned %d", resp.StatusCode), nil)
	}

	c.logger.InfoContext(ctx, "whatsapp message sent",
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
