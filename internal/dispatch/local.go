package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"turing-game/internal/domain"
)

// ErrQueueFull is returned when the local queue cannot take another request.
var ErrQueueFull = errors.New("dispatch: reply queue full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("dispatch: reply queue closed")

// ReplyFunc runs one reply request.
type ReplyFunc func(ctx context.Context, req domain.ReplyRequest) error

// Local runs reply requests on an in-process worker pool, detached from the
// request that dispatched them.
type Local struct {
	run     ReplyFunc
	workers int
	queue   chan domain.ReplyRequest

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocal(run ReplyFunc, workers, queueSize int) (*Local, error) {
	if run == nil {
		return nil, errors.New("dispatch: reply func must not be nil")
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Local{run: run, workers: workers, queue: make(chan domain.ReplyRequest, queueSize)}, nil
}

// Start launches the workers. They stop when ctx is done or Close is called.
func (l *Local) Start(ctx context.Context) {
	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go l.work(ctx, i)
	}
}

func (l *Local) work(ctx context.Context, id int) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-l.queue:
			if !ok {
				return
			}
			if err := l.run(ctx, req); err != nil {
				slog.ErrorContext(ctx, "reply generation failed", "err", err, "worker", id, "chatroom_id", req.ChatroomID, "message_id", req.TriggeringMessageID)
			}
		}
	}
}

// DispatchReply enqueues req without waiting for it to run.
func (l *Local) DispatchReply(_ context.Context, req domain.ReplyRequest) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting requests, drains the queue and waits for the workers.
func (l *Local) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	l.wg.Wait()
}
