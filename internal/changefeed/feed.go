// Package changefeed delivers store change events to a handler the way a
// DynamoDB stream does: events with the same key go to the same shard and are
// handled one at a time in publish order, failures are retried, and an event
// that keeps failing is dropped so it cannot block its shard.
package changefeed

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// Event is one change record.
type Event struct {
	Key  string
	Kind string
}

// Handler processes one event. A returned error triggers redelivery.
type Handler func(ctx context.Context, ev Event) error

var ErrClosed = errors.New("changefeed: closed")

type Feed struct {
	handler     Handler
	shards      []chan Event
	maxAttempts int
	backoff     time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Feed)

// WithRetry sets the delivery attempts per event and the base backoff
// between them.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(f *Feed) {
		f.maxAttempts = maxAttempts
		f.backoff = backoff
	}
}

func New(shards, buffer int, handler Handler, opts ...Option) (*Feed, error) {
	if handler == nil {
		return nil, errors.New("changefeed: handler must not be nil")
	}
	if shards <= 0 {
		shards = 1
	}
	if buffer <= 0 {
		buffer = 128
	}
	f := &Feed{handler: handler, maxAttempts: 3, backoff: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(f)
	}
	if f.maxAttempts <= 0 {
		f.maxAttempts = 1
	}
	f.shards = make([]chan Event, shards)
	for i := range f.shards {
		f.shards[i] = make(chan Event, buffer)
	}
	return f, nil
}

// Start runs one consumer per shard until ctx is done or Close is called.
func (f *Feed) Start(ctx context.Context) {
	for i, ch := range f.shards {
		f.wg.Add(1)
		go f.consume(ctx, i, ch)
	}
}

// Publish routes ev to its shard. It blocks while the shard buffer is full.
func (f *Feed) Publish(ctx context.Context, ev Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	select {
	case f.shards[f.shardFor(ev.Key)] <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake, lets every shard drain and waits for the consumers.
func (f *Feed) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		for _, ch := range f.shards {
			close(ch)
		}
	}
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Feed) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(f.shards)))
}

func (f *Feed) consume(ctx context.Context, shard int, ch <-chan Event) {
	defer f.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			f.deliver(ctx, shard, ev)
		}
	}
}

func (f *Feed) deliver(ctx context.Context, shard int, ev Event) {
	var err error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if err = f.handler(ctx, ev); err == nil {
			return
		}
		slog.WarnContext(ctx, "change event failed", "err", err, "shard", shard, "key", ev.Key, "kind", ev.Kind, "attempt", attempt)
		if attempt == f.maxAttempts {
			break
		}
		t := time.NewTimer(f.backoff << (attempt - 1))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	slog.ErrorContext(ctx, "dropping change event after retries", "err", err, "shard", shard, "key", ev.Key, "kind", ev.Kind, "attempts", f.maxAttempts)
}
