// Package queue publishes order lifecycle events to SQS for downstream
// consumers (fulfilment, email receipts, analytics).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"storefront/internal/config"
	"storefront/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// OrderEventPublisher serializes OrderEvents and sends them to one queue.
// FIFO queues (URL ending in ".fifo") are grouped by order ID and
// deduplicated by event ID.
type OrderEventPublisher struct {
	client   SQSSender
	queueURL string
	fifo     bool
	logger   *slog.Logger
}

// NewOrderEventPublisher creates a publisher for the queue configured in awsCfg.
func NewOrderEventPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *OrderEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderEventPublisher{
		client:   client,
		queueURL: awsCfg.OrderEventsQueueURL,
		fifo:     strings.HasSuffix(awsCfg.OrderEventsQueueURL, ".fifo"),
		logger:   logger,
	}
}

// Publish sends ev. Failures are returned as ErrCodeUpstreamQueue.
func (p *OrderEventPublisher) Publish(ctx context.Context, ev types.OrderEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal OrderEvent: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(ev.Type)),
			},
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(ev.OrderID)
		input.MessageDeduplicationId = aws.String(ev.EventID)
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to send %s to order events queue", ev.Type), err)
	}

	attrs := []any{
		"queue_url", p.queueURL,
		"event_id", ev.EventID,
		"event_type", string(ev.Type),
		"order_id", ev.OrderID,
	}
	if out != nil && out.MessageId != nil {
		attrs = append(attrs, "message_id", *out.MessageId)
	}
	p.logger.InfoContext(ctx, "order event sent", attrs...)
	return nil
}

// NoopPublisher drops events. Used when no queue is configured.
type NoopPublisher struct {
	Logger *slog.Logger
}

// Publish logs ev at debug level and returns nil.
func (n NoopPublisher) Publish(ctx context.Context, ev types.OrderEvent) error {
	if n.Logger != nil {
		n.Logger.DebugContext(ctx, "order event dropped; no queue configured",
			"event_type", string(ev.Type),
			"order_id", ev.OrderID,
		)
	}
	return nil
}
