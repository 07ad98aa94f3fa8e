package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"brokerdesk/internal/config"
	"brokerdesk/internal/types"
)

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

const testQueueURL = "https://sqs.ap-south-1.amazonaws.com/123456789/notifications"

func newTestPublisher(mock *mockSQSSender) *Publisher {
	return NewPublisher(mock, config.AWSConfig{NotificationQueue: testQueueURL}, nil)
}

func leadReleasedMessage() types.NotificationMessage {
	leadID := int64(7)
	return types.NotificationMessage{
		Kind:       types.NotificationLeadReleased,
		LeadID:     &leadID,
		Recipient:  "EMP001",
		Body:       "Lead released to pool after lock window expiry.",
		TraceID:    "trace-1",
		OccurredAt: time.Date(2025, 6, 15, 2, 0, 0, 0, time.UTC),
	}
}

func TestPublishNotification_SendsToQueue(t *testing.T) {
	mock := &mockSQSSender{}
	pub := newTestPublisher(mock)

	err := pub.PublishNotification(context.Background(), leadReleasedMessage())
	if err != nil {
		t.Fatalf("PublishNotification returned unexpected error: %v", err)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(mock.calls))
	}
	call := mock.calls[0]

	if *call.QueueUrl != testQueueURL {
		t.Errorf("expected queue URL %q, got %q", testQueueURL, *call.QueueUrl)
	}

	var decoded types.NotificationMessage
	if err := json.Unmarshal([]byte(*call.MessageBody), &decoded); err != nil {
		t.Fatalf("message body is not valid JSON: %v", err)
	}
	if decoded.Kind != types.NotificationLeadReleased {
		t.Errorf("expected kind %s, got %s", types.NotificationLeadReleased, decoded.Kind)
	}
	if decoded.LeadID == nil || *decoded.LeadID != 7 {
		t.Errorf("expected lead_id 7, got %v", decoded.LeadID)
	}
	if decoded.TraceID != "trace-1" {
		t.Errorf("expected trace_id to survive the round trip, got %q", decoded.TraceID)
	}
}

func TestPublishNotification_SetsKindAttribute(t *testing.T) {
	mock := &mockSQSSender{}
	pub := newTestPublisher(mock)

	if err := pub.PublishNotification(context.Background(), leadReleasedMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attr, ok := mock.calls[0].MessageAttributes["kind"]
	if !ok {
		t.Fatal("expected 'kind' message attribute")
	}
	if *attr.StringValue != string(types.NotificationLeadReleased) {
		t.Errorf("expected kind attribute %q, got %q", types.NotificationLeadReleased, *attr.StringValue)
	}
}

func TestPublishNotification_WrapsSendError(t *testing.T) {
	mock := &mockSQSSender{err: fmt.Errorf("throttled")}
	pub := newTestPublisher(mock)

	err := pub.PublishNotification(context.Background(), leadReleasedMessage())
	if err == nil {
		t.Fatal("expected error when SQS send fails")
	}
	if !strings.Contains(err.Error(), testQueueURL) {
		t.Errorf("expected error to name the queue, got: %v", err)
	}
	if !strings.Contains(err.Error(), "throttled") {
		t.Errorf("expected underlying error preserved, got: %v", err)
	}
}
