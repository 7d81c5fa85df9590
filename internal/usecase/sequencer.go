package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"turing-game/internal/domain"
)

const defaultAppendAttempts = 8

// errSkipAppend is returned by a draft func to abandon the append without error.
var errSkipAppend = errors.New("usecase: append skipped")

// draftFunc builds the message to append against the freshly read room. It is
// called again after every lost race.
type draftFunc func(ctx context.Context, room domain.Chatroom) (domain.Message, error)

// RoomLocks serialises appends and their notifications per chatroom within
// one process. Services appending to the same rooms must share one value.
type RoomLocks struct {
	mu    sync.Mutex
	rooms map[string]*roomLock
}

type roomLock struct {
	sem  chan struct{}
	refs int
}

func NewRoomLocks() *RoomLocks {
	return &RoomLocks{rooms: make(map[string]*roomLock)}
}

// acquire blocks until the room is free or ctx is done.
func (l *RoomLocks) acquire(ctx context.Context, chatroomID string) (func(), error) {
	l.mu.Lock()
	rl, ok := l.rooms[chatroomID]
	if !ok {
		rl = &roomLock{sem: make(chan struct{}, 1)}
		l.rooms[chatroomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	select {
	case rl.sem <- struct{}{}:
		return func() {
			<-rl.sem
			l.forget(chatroomID, rl)
		}, nil
	case <-ctx.Done():
		l.forget(chatroomID, rl)
		return nil, ctx.Err()
	}
}

func (l *RoomLocks) forget(chatroomID string, rl *roomLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl.refs--
	if rl.refs == 0 {
		delete(l.rooms, chatroomID)
	}
}

func (l *RoomLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}

// AppendOption configures how a service appends messages.
type AppendOption func(*sequencer)

// WithRoomLocks shares per-chatroom ordering with other services.
func WithRoomLocks(l *RoomLocks) AppendOption {
	return func(s *sequencer) {
		if l != nil {
			s.locks = l
		}
	}
}

// sequencer appends messages under optimistic concurrency on the room cursor,
// so seq and createdAt are assigned in commit order. Within a process the
// room lock is held until the notification is out, so subscribers see
// messages in seq order.
type sequencer struct {
	rooms       ChatroomStore
	messages    MessageStore
	notifier    Notifier
	locks       *RoomLocks
	now         func() time.Time
	maxAttempts int
}

func newSequencer(rooms ChatroomStore, messages MessageStore, notifier Notifier, opts ...AppendOption) *sequencer {
	s := &sequencer{
		rooms:       rooms,
		messages:    messages,
		notifier:    notifier,
		locks:       NewRoomLocks(),
		now:         time.Now,
		maxAttempts: defaultAppendAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *sequencer) append(ctx context.Context, chatroomID string, draft draftFunc) (domain.Message, error) {
	release, err := s.locks.acquire(ctx, chatroomID)
	if err != nil {
		return domain.Message{}, err
	}
	defer release()

	msg, err := s.commit(ctx, chatroomID, draft)
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.notifier.MessageAppended(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "failed to publish message", "err", err, "chatroom_id", msg.ChatroomID, "message_id", msg.ID, "seq", msg.Seq)
	}
	return msg, nil
}

func (s *sequencer) commit(ctx context.Context, chatroomID string, draft draftFunc) (domain.Message, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		room, err := s.rooms.GetChatroom(ctx, chatroomID)
		if err != nil {
			return domain.Message{}, err
		}
		msg, err := draft(ctx, room)
		if err != nil {
			return domain.Message{}, err
		}
		msg.ChatroomID = room.ID
		msg.Seq = room.LastSeq + 1
		msg.CreatedAt = nextTimestamp(s.now(), room.LastMessageAt)

		err = s.messages.AppendMessage(ctx, msg, room.LastSeq)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Message{}, err
		}
	}
	return domain.Message{}, fmt.Errorf("usecase: append to chatroom %s: %w after %d attempts", chatroomID, domain.ErrConflict, s.maxAttempts)
}

// nextTimestamp returns now, or one microsecond after last when the clock has
// not advanced past it.
func nextTimestamp(now, last time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(last) {
		return last.UTC().Add(time.Microsecond)
	}
	return now
}
