package notify

import (
	"context"
	"errors"
	"log/slog"

	"turing-game/internal/domain"
)

// Notifier mirrors usecase.Notifier.
type Notifier interface {
	MatchCreated(ctx context.Context, n domain.MatchNotification) error
	MessageAppended(ctx context.Context, msg domain.Message) error
}

// Log records notifications instead of delivering them. It is the fallback
// when no push transport is configured.
type Log struct{}

func (Log) MatchCreated(ctx context.Context, n domain.MatchNotification) error {
	slog.InfoContext(ctx, "match notification", "entry_id", n.EntryID, "matched_entry_id", n.MatchedEntryID, "chatroom_id", n.ChatroomID)
	return nil
}

func (Log) MessageAppended(ctx context.Context, msg domain.Message) error {
	slog.InfoContext(ctx, "message notification", "chatroom_id", msg.ChatroomID, "message_id", msg.ID, "seq", msg.Seq)
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) MatchCreated(ctx context.Context, n domain.MatchNotification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.MatchCreated(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) MessageAppended(ctx context.Context, msg domain.Message) error {
	var errs []error
	for _, nt := range m {
		if err := nt.MessageAppended(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
