package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher forwards outbox envelopes to an SQS queue. FIFO queues are
// grouped by aggregate so per-appointment ordering survives delivery.
type SQSPublisher struct {
	client   sqsSender
	queueURL string
	fifo     bool
}

func NewSQSPublisher(client *sqs.Client, queueURL string) *SQSPublisher {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	return newSQSPublisher(client, queueURL)
}

func newSQSPublisher(client sqsSender, queueURL string) *SQSPublisher {
	if strings.TrimSpace(queueURL) == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

func (p *SQSPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(entry.Payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
			"aggregate_id": {DataType: aws.String("String"), StringValue: aws.String(entry.AggregateID)},
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(entry.AggregateID)
		input.MessageDeduplicationId = aws.String(entry.ID.String())
	}
	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("events: publish %s to SQS: %w", entry.Type, err)
	}
	return nil
}
