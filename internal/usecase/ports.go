package usecase

import (
	"context"

	"turing-game/internal/domain"
)

// WaitingRoomStore owns WaitingRoomEntry records. Every status change goes
// through a conditional write; implementations report lost races as
// domain.ErrConflict and missing items as domain.ErrNotFound.
type WaitingRoomStore interface {
	// CreateEntry inserts a WAITING entry. It fails with domain.ErrConflict
	// when the requester already holds a WAITING entry.
	CreateEntry(ctx context.Context, entry domain.WaitingRoomEntry) error
	// GetEntry performs a strongly consistent read.
	GetEntry(ctx context.Context, entryID string) (domain.WaitingRoomEntry, error)
	// DeleteWaitingEntry removes the entry only while it is still WAITING.
	DeleteWaitingEntry(ctx context.Context, entry domain.WaitingRoomEntry) error
	// ListWaiting returns up to limit WAITING entries, oldest joinedAt first.
	// The result may be stale; callers must rely on CommitMatch conditions.
	ListWaiting(ctx context.Context, limit int) ([]domain.WaitingRoomEntry, error)
	// CommitMatch atomically flips both entries WAITING->MATCHED and creates
	// the chatroom. Nothing changes when either entry is no longer WAITING.
	CommitMatch(ctx context.Context, a, b domain.WaitingRoomEntry, room domain.Chatroom) error
}

// ChatroomStore reads chatrooms created by CommitMatch.
type ChatroomStore interface {
	GetChatroom(ctx context.Context, chatroomID string) (domain.Chatroom, error)
}

// MessageStore owns the append-only message log of every chatroom.
type MessageStore interface {
	// ListMessages returns the full history in sequence order.
	ListMessages(ctx context.Context, chatroomID string) ([]domain.Message, error)
	// AppendMessage persists msg if the room cursor still equals prevSeq and
	// advances the cursor to msg.Seq and msg.CreatedAt.
	AppendMessage(ctx context.Context, msg domain.Message, prevSeq int64) error
}

// SurveyStore persists post-game survey responses.
type SurveyStore interface {
	PutSurvey(ctx context.Context, s domain.SurveyResponse) error
	QuerySurveys(ctx context.Context, q domain.SurveyIndexQuery) ([]domain.SurveyResponse, error)
}

// Notifier fans state transitions out to subscribers. Callers publish only
// committed transitions, and messages of one chatroom in seq order.
type Notifier interface {
	MatchCreated(ctx context.Context, n domain.MatchNotification) error
	MessageAppended(ctx context.Context, msg domain.Message) error
}

// ReplyDispatcher hands a reply request to an independent execution context
// and returns without waiting for it to run.
type ReplyDispatcher interface {
	DispatchReply(ctx context.Context, req domain.ReplyRequest) error
}

// ParamGetter reads a named configuration parameter.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// LLMClient is the external completion service: text in, text out.
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}
