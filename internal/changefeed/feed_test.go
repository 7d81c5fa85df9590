package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	fail   map[string]int
	calls  map[string]int
}

func newRecorder() *recorder {
	return &recorder{fail: map[string]int{}, calls: map[string]int{}}
}

func (r *recorder) handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[ev.Key]++
	if r.fail[ev.Key] > 0 {
		r.fail[ev.Key]--
		return errors.New("transient")
	}
	r.events = append(r.events, ev)
	return nil
}

func TestFeed_DeliversPerKeyInOrder(t *testing.T) {
	rec := newRecorder()
	f, err := New(4, 16, rec.handle)
	require.NoError(t, err)
	f.Start(context.Background())

	for i := 0; i < 10; i++ {
		for _, key := range []string{"a", "b", "c"} {
			require.NoError(t, f.Publish(context.Background(), Event{Key: key, Kind: fmt.Sprintf("%d", i)}))
		}
	}
	f.Close()

	perKey := map[string][]string{}
	for _, ev := range rec.events {
		perKey[ev.Key] = append(perKey[ev.Key], ev.Kind)
	}
	for _, key := range []string{"a", "b", "c"} {
		require.Len(t, perKey[key], 10)
		for i, kind := range perKey[key] {
			require.Equal(t, fmt.Sprintf("%d", i), kind)
		}
	}
}

func TestFeed_RetriesTransientFailure(t *testing.T) {
	rec := newRecorder()
	rec.fail["flaky"] = 2
	f, err := New(1, 4, rec.handle, WithRetry(3, time.Millisecond))
	require.NoError(t, err)
	f.Start(context.Background())

	require.NoError(t, f.Publish(context.Background(), Event{Key: "flaky"}))
	f.Close()

	require.Equal(t, 3, rec.calls["flaky"])
	require.Len(t, rec.events, 1)
}

func TestFeed_DropsPoisonPill(t *testing.T) {
	rec := newRecorder()
	rec.fail["poison"] = 100
	f, err := New(1, 4, rec.handle, WithRetry(2, time.Millisecond))
	require.NoError(t, err)
	f.Start(context.Background())

	require.NoError(t, f.Publish(context.Background(), Event{Key: "poison"}))
	require.NoError(t, f.Publish(context.Background(), Event{Key: "healthy"}))
	f.Close()

	require.Equal(t, 2, rec.calls["poison"])
	require.Equal(t, []Event{{Key: "healthy"}}, rec.events)
}

func TestFeed_PublishAfterClose(t *testing.T) {
	f, err := New(2, 1, newRecorder().handle)
	require.NoError(t, err)
	f.Start(context.Background())
	f.Close()
	require.ErrorIs(t, f.Publish(context.Background(), Event{Key: "x"}), ErrClosed)
	f.Close()
}

func TestFeed_PublishHonoursContext(t *testing.T) {
	f, err := New(1, 1, newRecorder().handle)
	require.NoError(t, err)
	// Not started, so the second publish blocks on a full shard.
	require.NoError(t, f.Publish(context.Background(), Event{Key: "a"}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.Publish(ctx, Event{Key: "a"}), context.DeadlineExceeded)
}

func TestFeed_ShardIsStable(t *testing.T) {
	f, err := New(8, 1, newRecorder().handle)
	require.NoError(t, err)
	for _, key := range []string{"e1", "e2", "entry-xyz"} {
		s := f.shardFor(key)
		require.GreaterOrEqual(t, s, 0)
		require.Less(t, s, 8)
		require.Equal(t, s, f.shardFor(key))
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(1, 1, nil)
	require.Error(t, err)

	f, err := New(0, 0, newRecorder().handle, WithRetry(0, 0))
	require.NoError(t, err)
	require.Len(t, f.shards, 1)
	require.Equal(t, 1, f.maxAttempts)
}
