package queue

import (
	"reflect"
	"testing"
	"time"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := NewMessage("finalize", "finalize-123", time.Date(2026, 1, 30, 22, 0, 0, 0, time.UTC))

	payload, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}

	got, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}

	if !reflect.DeepEqual(got, msg) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
	if got.EnqueuedAt != "2026-01-30T22:00:00Z" || got.Version != 1 {
		t.Fatalf("unexpected stamp %+v", got)
	}
}
