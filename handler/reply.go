package handler

import (
	"context"
	"errors"
	"log/slog"

	"turing-game/internal/domain"
	"turing-game/internal/usecase"
)

// ReplyHandler runs the response generator for one asynchronous invocation.
type ReplyHandler struct {
	replier Replier
}

func NewReplyHandler(replier Replier) (*ReplyHandler, error) {
	if replier == nil {
		return nil, errors.New("handler: replier must not be nil")
	}
	return &ReplyHandler{replier: replier}, nil
}

// Handle returns an error only for failures worth an async retry. Requests
// that can never succeed are logged and dropped.
func (h *ReplyHandler) Handle(ctx context.Context, req domain.ReplyRequest) error {
	out, err := h.replier.GenerateReply(ctx, req)
	if err == nil {
		slog.InfoContext(ctx, "reply handled", "chatroom_id", req.ChatroomID, "message_id", req.TriggeringMessageID, "status", out.Status)
		return nil
	}
	code, reason := classify(err)
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorUnknownChatroom, usecase.ErrorNotFound:
		slog.WarnContext(ctx, "dropping reply request", "chatroom_id", req.ChatroomID, "message_id", req.TriggeringMessageID, "code", code, "reason", reason)
		return nil
	}
	slog.ErrorContext(ctx, "reply generation failed", "chatroom_id", req.ChatroomID, "message_id", req.TriggeringMessageID, "code", code, "err", err)
	return err
}
