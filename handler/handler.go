// Package handler adapts transport events (AppSync resolver calls, DynamoDB
// stream batches, async reply invocations and local HTTP requests) to the
// use-case services.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"turing-game/internal/domain"
	"turing-game/internal/usecase"
)

type WaitingRoom interface {
	Join(ctx context.Context, in usecase.JoinInput) (domain.WaitingRoomEntry, error)
	Leave(ctx context.Context, entryID string) error
	Status(ctx context.Context, entryID string) (usecase.StatusOutput, error)
}

type Chat interface {
	SendMessage(ctx context.Context, in usecase.SendMessageInput) (domain.Message, error)
	History(ctx context.Context, chatroomID string) ([]domain.Message, error)
}

type Surveys interface {
	Submit(ctx context.Context, in usecase.SubmitSurveyInput) (domain.SurveyResponse, error)
	Query(ctx context.Context, q usecase.SurveyQuery) (usecase.SurveyStats, error)
}

type Matcher interface {
	HandleInserted(ctx context.Context, entryID string) (usecase.MatchResult, error)
}

type Replier interface {
	GenerateReply(ctx context.Context, req domain.ReplyRequest) (usecase.ReplyOutput, error)
}

// Services groups the gateways exposed to clients.
type Services struct {
	WaitingRoom WaitingRoom
	Chat        Chat
	Surveys     Surveys
}

func (s Services) validate() error {
	if s.WaitingRoom == nil {
		return errors.New("handler: waiting room service must not be nil")
	}
	if s.Chat == nil {
		return errors.New("handler: chat service must not be nil")
	}
	if s.Surveys == nil {
		return errors.New("handler: survey service must not be nil")
	}
	return nil
}

type entryResponse struct {
	EntryID     string `json:"entryId"`
	RequesterID string `json:"userId"`
	Status      string `json:"status"`
	JoinedAt    string `json:"joinedAt"`
}

type statusResponse struct {
	EntryID     string `json:"entryId"`
	Status      string `json:"status"`
	ChatroomID  string `json:"chatroomId,omitempty"`
	WaitSeconds int64  `json:"waitTime"`
}

type leaveResponse struct {
	EntryID string `json:"entryId"`
	Removed bool   `json:"removed"`
}

type messageResponse struct {
	ID         string `json:"messageId"`
	ChatroomID string `json:"chatroomId"`
	Seq        int64  `json:"seq"`
	CreatedAt  string `json:"createdAt"`
	SenderID   string `json:"senderId"`
	Text       string `json:"text"`
}

type surveyStatsResponse struct {
	Responses      []domain.SurveyResponse `json:"responses"`
	TotalCount     int                     `json:"totalCount"`
	CorrectGuesses int                     `json:"correctGuesses"`
	Accuracy       float64                 `json:"accuracy"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func toEntryResponse(e domain.WaitingRoomEntry) entryResponse {
	return entryResponse{
		EntryID:     e.ID,
		RequesterID: e.RequesterID,
		Status:      string(e.Status),
		JoinedAt:    e.JoinedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toStatusResponse(s usecase.StatusOutput) statusResponse {
	return statusResponse{
		EntryID:     s.EntryID,
		Status:      string(s.Status),
		ChatroomID:  s.ChatroomID,
		WaitSeconds: s.WaitSeconds,
	}
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		ChatroomID: m.ChatroomID,
		Seq:        m.Seq,
		CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339Nano),
		SenderID:   m.SenderID,
		Text:       m.Text,
	}
}

func toMessageResponses(msgs []domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

func toSurveyStats(s usecase.SurveyStats) surveyStatsResponse {
	responses := s.Responses
	if responses == nil {
		responses = []domain.SurveyResponse{}
	}
	return surveyStatsResponse{
		Responses:      responses,
		TotalCount:     s.TotalCount,
		CorrectGuesses: s.CorrectGuesses,
		Accuracy:       s.Accuracy,
	}
}

// classify returns the use-case code and reason for err. Errors that did not
// come from a use case are reported as internal.
func classify(err error) (usecase.ErrorCode, string) {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		return ucErr.Code, ucErr.Reason
	}
	return usecase.ErrorInternal, "unexpected_error"
}

func httpStatus(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound, usecase.ErrorUnknownChatroom:
		return http.StatusNotFound
	case usecase.ErrorNotParticipant:
		return http.StatusForbidden
	case usecase.ErrorAlreadyWaiting, usecase.ErrorAlreadyMatched:
		return http.StatusConflict
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
