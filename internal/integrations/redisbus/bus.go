// Package redisbus fans match and message notifications out over Redis
// pub/sub for local and self-hosted runs.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"turing-game/internal/domain"
)

const (
	entryChannelPrefix    = "entry:"
	chatroomChannelPrefix = "chatroom:"
)

// EntryChannel is where match notifications for an entry are published.
func EntryChannel(entryID string) string { return entryChannelPrefix + entryID }

// ChatroomChannel is where a chatroom's messages are published.
func ChatroomChannel(chatroomID string) string { return chatroomChannelPrefix + chatroomID }

// Event is the envelope written to every channel.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	EventMatchCreated    = "match_created"
	EventMessageAppended = "message_appended"
)

// redisAPI is the subset of *redis.Client used by Bus.
type redisAPI interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Bus publishes notifications and lets local clients subscribe to them.
type Bus struct {
	rdb redisAPI
}

func New(rdb redisAPI) (*Bus, error) {
	if rdb == nil {
		return nil, errors.New("redisbus: client must not be nil")
	}
	return &Bus{rdb: rdb}, nil
}

func (b *Bus) MatchCreated(ctx context.Context, n domain.MatchNotification) error {
	return b.publish(ctx, EntryChannel(n.EntryID), EventMatchCreated, n)
}

func (b *Bus) MessageAppended(ctx context.Context, msg domain.Message) error {
	return b.publish(ctx, ChatroomChannel(msg.ChatroomID), EventMessageAppended, msg)
}

func (b *Bus) publish(ctx context.Context, channel, typ string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redisbus: marshal %s: %w", typ, err)
	}
	body, err := json.Marshal(Event{Type: typ, Payload: payload})
	if err != nil {
		return fmt.Errorf("redisbus: marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("redisbus: publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe streams raw event bodies from the given channels until ctx is
// done. The returned channel is closed when the subscription ends.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) (<-chan []byte, error) {
	if len(channels) == 0 {
		return nil, errors.New("redisbus: at least one channel is required")
	}
	sub := b.rdb.Subscribe(ctx, channels...)
	// Wait for the subscription confirmation so publishes after return are seen.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redisbus: subscribe: %w", err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				default:
					slog.WarnContext(ctx, "dropping notification for slow subscriber", "channel", m.Channel)
				}
			}
		}
	}()
	return out, nil
}
