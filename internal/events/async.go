package events

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("event queue full")

// Async buffers events in a channel and hands them to the next publisher from
// a single worker goroutine, so request handlers never wait on the broker.
type Async struct {
	next    Publisher
	inbox   chan Event
	logger  *zap.Logger
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewAsync(next Publisher, buffer int, logger *zap.Logger) *Async {
	if buffer < 1 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{next: next, inbox: make(chan Event, buffer), logger: logger}
}

// Publish enqueues without blocking.
func (a *Async) Publish(_ context.Context, event Event) error {
	select {
	case a.inbox <- event:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run delivers events until ctx is cancelled, then drains what is already
// queued with a short grace period.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return nil
		case event := <-a.inbox:
			a.deliver(ctx, event)
		}
	}
}

func (a *Async) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event := <-a.inbox:
			a.deliver(ctx, event)
		default:
			return
		}
	}
}

func (a *Async) deliver(ctx context.Context, event Event) {
	if err := a.next.Publish(ctx, event); err != nil {
		a.failed.Add(1)
		a.logger.Warn("event delivery failed",
			zap.String("event_type", event.Type),
			zap.String("aggregate_id", event.AggregateID),
			zap.Error(err),
		)
	}
}

func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Async) Failed() int64 {
	return a.failed.Load()
}
