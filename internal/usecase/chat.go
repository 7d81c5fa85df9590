package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"turing-game/internal/domain"
)

const defaultMaxMessageLen = 1000

// ChatService accepts human turns and hands reply generation off asynchronously.
type ChatService struct {
	rooms         ChatroomStore
	messages      MessageStore
	dispatcher    ReplyDispatcher
	seq           *sequencer
	maxMessageLen int
}

type SendMessageInput struct {
	ChatroomID string
	SenderID   string
	Text       string
}

// NewChatService builds the chat gateway. maxMessageLen counts characters,
// not bytes.
func NewChatService(rooms ChatroomStore, messages MessageStore, notifier Notifier, dispatcher ReplyDispatcher, maxMessageLen int, opts ...AppendOption) (*ChatService, error) {
	if rooms == nil {
		return nil, errors.New("usecase: chatroom store must not be nil")
	}
	if messages == nil {
		return nil, errors.New("usecase: message store must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("usecase: notifier must not be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("usecase: reply dispatcher must not be nil")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	return &ChatService{
		rooms:         rooms,
		messages:      messages,
		dispatcher:    dispatcher,
		seq:           newSequencer(rooms, messages, notifier, opts...),
		maxMessageLen: maxMessageLen,
	}, nil
}

// SendMessage persists a human turn and returns once it is durable. Reply
// generation is dispatched afterwards and never awaited.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (domain.Message, error) {
	chatroomID := strings.TrimSpace(in.ChatroomID)
	senderID := strings.TrimSpace(in.SenderID)
	text := strings.TrimSpace(in.Text)
	switch {
	case chatroomID == "":
		return domain.Message{}, newError(ErrorInvalidInput, "empty_chatroom_id", nil)
	case senderID == "":
		return domain.Message{}, newError(ErrorInvalidInput, "empty_sender_id", nil)
	case text == "":
		return domain.Message{}, newError(ErrorInvalidInput, "empty_text", nil)
	case utf8.RuneCountInString(text) > s.maxMessageLen:
		return domain.Message{}, newError(ErrorInvalidInput, "text_too_long", nil)
	}

	msg, err := s.seq.append(ctx, chatroomID, func(_ context.Context, room domain.Chatroom) (domain.Message, error) {
		if domain.IsAISender(senderID) || !room.HasParticipant(senderID) {
			return domain.Message{}, newError(ErrorNotParticipant, "sender_not_in_chatroom", nil)
		}
		return domain.Message{ID: newUUID(), SenderID: senderID, Text: text}, nil
	})
	if err != nil {
		return domain.Message{}, chatroomError(err, "dynamodb_write_error")
	}
	slog.InfoContext(ctx, "message appended", "chatroom_id", msg.ChatroomID, "message_id", msg.ID, "seq", msg.Seq)

	req := domain.ReplyRequest{ChatroomID: msg.ChatroomID, TriggeringMessageID: msg.ID}
	if err := s.dispatcher.DispatchReply(ctx, req); err != nil {
		slog.ErrorContext(ctx, "failed to dispatch reply generation", "err", err, "chatroom_id", msg.ChatroomID, "message_id", msg.ID)
	}
	return msg, nil
}

// History returns the full ordered message history of a chatroom.
func (s *ChatService) History(ctx context.Context, chatroomID string) ([]domain.Message, error) {
	chatroomID = strings.TrimSpace(chatroomID)
	if chatroomID == "" {
		return nil, newError(ErrorInvalidInput, "empty_chatroom_id", nil)
	}
	if _, err := s.rooms.GetChatroom(ctx, chatroomID); err != nil {
		return nil, chatroomError(err, "dynamodb_read_error")
	}
	msgs, err := s.messages.ListMessages(ctx, chatroomID)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_history_error", err)
	}
	return msgs, nil
}

// chatroomError keeps coded errors and classifies store errors.
func chatroomError(err error, reason string) error {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	if errors.Is(err, domain.ErrNotFound) {
		return newError(ErrorUnknownChatroom, "chatroom_not_found", err)
	}
	return newError(ErrorInternal, reason, err)
}
