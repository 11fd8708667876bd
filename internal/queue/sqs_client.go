package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"audiobrand-backend/internal/shared/telemetry"
)

// maxLongPoll is the SQS upper bound for WaitTimeSeconds.
const maxLongPoll = 20 * time.Second

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// SQSSignal publishes wake-up messages to one SQS queue per job queue and
// long-polls them on the worker side. Queues without a URL fall back to
// plain sleeping in Wait.
type SQSSignal struct {
	client    sqsAPI
	queueURLs map[string]string
}

// NewSQSSignal constructs an SQS-backed signal. urls maps job queue names to SQS queue URLs.
func NewSQSSignal(ctx context.Context, region string, urls map[string]string) (*SQSSignal, error) {
	clean := make(map[string]string, len(urls))
	for name, url := range urls {
		if url = strings.TrimSpace(url); url != "" {
			clean[name] = url
		}
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("at least one SQS queue url is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQSSignal{client: sqs.NewFromConfig(cfg), queueURLs: clean}, nil
}

// Notify delivers a wake-up message to the SQS queue mapped to msg.Queue.
func (s *SQSSignal) Notify(ctx context.Context, msg Message) error {
	url, ok := s.queueURLs[msg.Queue]
	if !ok {
		return nil
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Wait long-polls the SQS queue for queueName and acknowledges whatever it receives.
func (s *SQSSignal) Wait(ctx context.Context, queueName string, max time.Duration) error {
	url, ok := s.queueURLs[queueName]
	if !ok {
		return sleepCtx(ctx, max)
	}

	waitSeconds := int32(min(max, maxLongPoll) / time.Second)
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		telemetry.Error("queue.signal.receive_failed", map[string]any{"queue": queueName, "error": err.Error()})
		return sleepCtx(ctx, max)
	}
	if len(out.Messages) == 0 {
		return nil
	}

	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(out.Messages))
	for i, m := range out.Messages {
		entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
			Id:            aws.String(fmt.Sprintf("m%d", i)),
			ReceiptHandle: m.ReceiptHandle,
		})
	}
	if _, err := s.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(url),
		Entries:  entries,
	}); err != nil {
		telemetry.Error("queue.signal.delete_failed", map[string]any{"queue": queueName, "error": err.Error()})
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Signal = (*SQSSignal)(nil)
