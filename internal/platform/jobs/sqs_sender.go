package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/hanko-field/storefront/internal/services"
)

// SQSAPI is the subset of the SQS client used by SQSConfirmationSender.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSConfirmationSender enqueues order confirmations on an SQS queue.
type SQSConfirmationSender struct {
	client   SQSAPI
	queueURL string
	fifo     bool
}

// NewSQSClient builds an SQS client from the default AWS credential chain.
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region = strings.TrimSpace(region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// NewSQSConfirmationSender constructs an SQS backed confirmation sender.
func NewSQSConfirmationSender(client SQSAPI, queueURL string) (*SQSConfirmationSender, error) {
	queueURL = strings.TrimSpace(queueURL)
	if client == nil {
		return nil, errors.New("sqs confirmation sender: client is required")
	}
	if queueURL == "" {
		return nil, errors.New("sqs confirmation sender: queue url is required")
	}
	return &SQSConfirmationSender{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}, nil
}

// SendOrderConfirmation sends one message per confirmation. FIFO queues deduplicate by order id.
func (s *SQSConfirmationSender) SendOrderConfirmation(ctx context.Context, msg services.OrderConfirmation) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal order confirmation: %w", err)
	}

	attrs := make(map[string]types.MessageAttributeValue)
	for key, value := range confirmationAttributes(msg) {
		attrs[key] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(s.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	}
	if s.fifo {
		input.MessageGroupId = aws.String(msg.OrderID)
		input.MessageDeduplicationId = aws.String(confirmationEventType + ":" + msg.OrderID)
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send order confirmation: %w", err)
	}
	return nil
}
