package types

import "time"

// NotificationMessage is the JSON payload published to the notification
// queue. External delivery workers (WhatsApp sender, WebSocket fan-out)
// consume these; the platform only produces them.
type NotificationMessage struct {
	Kind       NotificationKind `json:"kind"`
	LeadID     *int64           `json:"lead_id,omitempty"`
	PaymentID  *int64           `json:"payment_id,omitempty"`
	Recipient  string           `json:"recipient,omitempty"` // employee code or phone number
	Body       string           `json:"body"`
	TraceID    string           `json:"trace_id"`
	OccurredAt time.Time        `json:"occurred_at"`
}
