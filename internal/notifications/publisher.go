// Package notifications publishes fan-out messages to the SQS notification
// queue. Downstream delivery workers (WhatsApp sender, in-app fan-out)
// consume the queue; the platform only produces.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"brokerdesk/internal/config"
	"brokerdesk/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher serializes NotificationMessages and sends them to the
// notification queue. It satisfies the scheduler and handler publisher
// interfaces.
type Publisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewPublisher creates a Publisher with the given SQS client and
// configuration. The queue URL comes from AWSConfig.
func NewPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:   client,
		queueURL: awsCfg.NotificationQueue,
		logger:   logger,
	}
}

// PublishNotification serializes the message to JSON and dispatches it to
// the notification queue. The notification kind rides along as a message
// attribute so workers can filter without parsing the body.
func (p *Publisher) PublishNotification(ctx context.Context, msg types.NotificationMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notifications: failed to marshal message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Kind)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("notifications: failed to send to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "notification published",
		"queue_url", p.queueURL,
		"kind", string(msg.Kind),
		"trace_id", msg.TraceID,
		"lead_id", msg.LeadID,
	)

	return nil
}
