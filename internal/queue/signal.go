package queue

import (
	"context"
	"sync"
	"time"
)

// Signal wakes idle workers when work is enqueued. Delivery is best effort:
// a missed signal only delays pickup until the next poll.
type Signal interface {
	Notify(ctx context.Context, msg Message) error
	// Wait blocks until a notification for queueName arrives, max elapses, or ctx is done.
	Wait(ctx context.Context, queueName string, max time.Duration) error
}

// ChanSignal is an in-process Signal backed by one buffered channel per queue.
type ChanSignal struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

// NewChanSignal returns an empty in-process signal.
func NewChanSignal() *ChanSignal {
	return &ChanSignal{chans: make(map[string]chan struct{})}
}

func (s *ChanSignal) channel(queueName string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chans[queueName]
	if !ok {
		ch = make(chan struct{}, 1)
		s.chans[queueName] = ch
	}
	return ch
}

// Notify never blocks; pending notifications coalesce.
func (s *ChanSignal) Notify(ctx context.Context, msg Message) error {
	select {
	case s.channel(msg.Queue) <- struct{}{}:
	default:
	}
	return nil
}

func (s *ChanSignal) Wait(ctx context.Context, queueName string, max time.Duration) error {
	timer := time.NewTimer(max)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.channel(queueName):
		return nil
	case <-timer.C:
		return nil
	}
}

var _ Signal = (*ChanSignal)(nil)
