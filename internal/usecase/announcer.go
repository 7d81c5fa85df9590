package usecase

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"turing-game/internal/domain"
)

// Announcer publishes committed transitions read back from the table change
// feeds. A returned error means the record should be redelivered, so each
// transition is published at least once.
type Announcer struct {
	entries  WaitingRoomStore
	rooms    ChatroomStore
	notifier Notifier
}

func NewAnnouncer(entries WaitingRoomStore, rooms ChatroomStore, notifier Notifier) (*Announcer, error) {
	if entries == nil {
		return nil, errors.New("usecase: waiting room store must not be nil")
	}
	if rooms == nil {
		return nil, errors.New("usecase: chatroom store must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("usecase: notifier must not be nil")
	}
	return &Announcer{entries: entries, rooms: rooms, notifier: notifier}, nil
}

// EntryMatched notifies the owner of a matched entry about its partner and
// chatroom. Each side of a match has its own change record.
func (a *Announcer) EntryMatched(ctx context.Context, entryID string) error {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return newError(ErrorInvalidInput, "empty_entry_id", nil)
	}
	entry, err := a.entries.GetEntry(ctx, entryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.InfoContext(ctx, "matched entry gone, skipping", "entry_id", entryID)
			return nil
		}
		return newError(ErrorInternal, "dynamodb_read_error", err)
	}
	if entry.Status != domain.StatusMatched {
		slog.InfoContext(ctx, "entry not matched, skipping", "entry_id", entryID, "status", entry.Status)
		return nil
	}

	room, err := a.rooms.GetChatroom(ctx, entry.MatchedChatroomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.ErrorContext(ctx, "matched entry without chatroom", "fault", "internal_consistency", "entry_id", entryID, "chatroom_id", entry.MatchedChatroomID)
			return newError(ErrorInternal, "chatroom_missing", err)
		}
		return newError(ErrorInternal, "dynamodb_read_error", err)
	}
	self := slices.Index(room.EntryIDs, entry.ID)
	if self < 0 || len(room.EntryIDs) != 2 || len(room.ParticipantIDs) != 2 {
		slog.ErrorContext(ctx, "chatroom does not list matched entry", "fault", "internal_consistency", "entry_id", entryID, "chatroom_id", room.ID)
		return newError(ErrorInternal, "chatroom_entries_mismatch", nil)
	}
	other := 1 - self

	n := domain.MatchNotification{
		EntryID:            entry.ID,
		RequesterID:        entry.RequesterID,
		MatchedEntryID:     room.EntryIDs[other],
		MatchedRequesterID: room.ParticipantIDs[other],
		ChatroomID:         room.ID,
	}
	if err := a.notifier.MatchCreated(ctx, n); err != nil {
		return newError(ErrorUpstream, "publish_failed", err)
	}
	slog.InfoContext(ctx, "match announced", "entry_id", n.EntryID, "chatroom_id", n.ChatroomID)
	return nil
}

// MessageAppended publishes a committed message. Callers deliver messages of
// one chatroom in seq order.
func (a *Announcer) MessageAppended(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" || msg.ChatroomID == "" {
		return newError(ErrorInvalidInput, "incomplete_message", nil)
	}
	if err := a.notifier.MessageAppended(ctx, msg); err != nil {
		return newError(ErrorUpstream, "publish_failed", err)
	}
	slog.InfoContext(ctx, "message announced", "chatroom_id", msg.ChatroomID, "message_id", msg.ID, "seq", msg.Seq)
	return nil
}
