package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

func TestChanSignalWakesWaiter(t *testing.T) {
	sig := NewChanSignal()
	done := make(chan error, 1)
	start := time.Now()
	go func() {
		done <- sig.Wait(context.Background(), "analysis", 5*time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	if err := sig.Notify(context.Background(), Message{Queue: "analysis"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter was not woken")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("wake took too long")
	}
}

func TestChanSignalNotifyDoesNotBlock(t *testing.T) {
	sig := NewChanSignal()
	for i := 0; i < 10; i++ {
		if err := sig.Notify(context.Background(), Message{Queue: "finalize"}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
}

func TestChanSignalWaitHonoursContext(t *testing.T) {
	sig := NewChanSignal()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sig.Wait(ctx, "analysis", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

type fakeSQS struct {
	sent     []string
	receive  []sqstypes.Message
	deleted  []string
	waitSecs int32
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.waitSecs = in.WaitTimeSeconds
	out := &sqs.ReceiveMessageOutput{Messages: f.receive}
	f.receive = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	for _, e := range in.Entries {
		f.deleted = append(f.deleted, aws.ToString(e.ReceiptHandle))
	}
	return &sqs.DeleteMessageBatchOutput{}, nil
}

func TestSQSSignalNotifyAndWait(t *testing.T) {
	fake := &fakeSQS{}
	sig := &SQSSignal{client: fake, queueURLs: map[string]string{"finalize": "https://sqs.local/finalize"}}
	ctx := context.Background()

	if err := sig.Notify(ctx, NewMessage("finalize", "finalize-1", time.Now())); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("expected one message sent, got %d", len(fake.sent))
	}
	decoded, err := DecodeMessage([]byte(fake.sent[0]))
	if err != nil || decoded.JobID != "finalize-1" {
		t.Fatalf("unexpected payload %q err=%v", fake.sent[0], err)
	}

	// Unmapped queues are silently skipped.
	if err := sig.Notify(ctx, NewMessage("analysis", "analysis-1", time.Now())); err != nil {
		t.Fatalf("notify unmapped: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("unmapped queue should not send")
	}

	fake.receive = []sqstypes.Message{{ReceiptHandle: aws.String("r1")}, {ReceiptHandle: aws.String("r2")}}
	if err := sig.Wait(ctx, "finalize", time.Minute); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if fake.waitSecs != 20 {
		t.Fatalf("expected long poll capped at 20s, got %d", fake.waitSecs)
	}
	if len(fake.deleted) != 2 {
		t.Fatalf("expected received messages to be deleted, got %v", fake.deleted)
	}
}
