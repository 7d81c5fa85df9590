package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/lambda/messages"

	"turing-game/internal/usecase"
)

// ResolverEvent is the payload AppSync sends to a direct Lambda resolver.
type ResolverEvent struct {
	Arguments json.RawMessage `json:"arguments"`
	Info      ResolverInfo    `json:"info"`
}

type ResolverInfo struct {
	FieldName      string `json:"fieldName"`
	ParentTypeName string `json:"parentTypeName"`
}

type joinArgs struct {
	UserID string `json:"userId"`
}

type entryArgs struct {
	EntryID string `json:"entryId"`
}

type sendMessageArgs struct {
	ChatroomID string `json:"chatroomId"`
	SenderID   string `json:"senderId"`
	Text       string `json:"text"`
}

type chatroomArgs struct {
	ChatroomID string `json:"chatroomId"`
}

type submitSurveyArgs struct {
	ChatroomID       string `json:"chatroomId"`
	UserID           string `json:"userId"`
	BotGuess         string `json:"botGuess"`
	Reasoning        string `json:"reasoning"`
	LLMKnowledge     string `json:"llmKnowledge"`
	ChatbotFrequency string `json:"chatbotFrequency"`
	Age              int    `json:"age"`
	Education        string `json:"education"`
}

type surveyQueryArgs struct {
	Education        string `json:"education"`
	LLMKnowledge     string `json:"llmKnowledge"`
	ChatbotFrequency string `json:"chatbotFrequency"`
	MinAge           *int   `json:"minAge"`
	MaxAge           *int   `json:"maxAge"`
	Limit            int    `json:"limit"`
}

// Resolver serves every client-facing GraphQL field from one Lambda.
type Resolver struct {
	svc Services
}

func NewResolver(svc Services) (*Resolver, error) {
	if err := svc.validate(); err != nil {
		return nil, err
	}
	return &Resolver{svc: svc}, nil
}

// Handle dispatches on info.fieldName. Failures are returned as Lambda
// errors whose errorType is the use-case code, which AppSync surfaces as the
// GraphQL error type.
func (r *Resolver) Handle(ctx context.Context, ev ResolverEvent) (any, error) {
	field := ev.Info.FieldName
	out, err := r.resolve(ctx, field, ev.Arguments)
	if err != nil {
		code, reason := classify(err)
		if code == usecase.ErrorInternal || code == usecase.ErrorUpstream {
			slog.ErrorContext(ctx, "resolver failed", "field", field, "code", code, "reason", reason, "err", err)
		} else {
			slog.InfoContext(ctx, "resolver rejected request", "field", field, "code", code, "reason", reason)
		}
		return nil, messages.InvokeResponse_Error{Type: string(code), Message: reason}
	}
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, field string, raw json.RawMessage) (any, error) {
	switch field {
	case "joinWaitingRoom":
		var a joinArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		entry, err := r.svc.WaitingRoom.Join(ctx, usecase.JoinInput{RequesterID: a.UserID})
		if err != nil {
			return nil, err
		}
		return toEntryResponse(entry), nil

	case "leaveWaitingRoom":
		var a entryArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		if err := r.svc.WaitingRoom.Leave(ctx, a.EntryID); err != nil {
			return nil, err
		}
		return leaveResponse{EntryID: a.EntryID, Removed: true}, nil

	case "getWaitingStatus":
		var a entryArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		st, err := r.svc.WaitingRoom.Status(ctx, a.EntryID)
		if err != nil {
			return nil, err
		}
		return toStatusResponse(st), nil

	case "sendMessage":
		var a sendMessageArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		msg, err := r.svc.Chat.SendMessage(ctx, usecase.SendMessageInput{ChatroomID: a.ChatroomID, SenderID: a.SenderID, Text: a.Text})
		if err != nil {
			return nil, err
		}
		return toMessageResponse(msg), nil

	case "getMessages":
		var a chatroomArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		msgs, err := r.svc.Chat.History(ctx, a.ChatroomID)
		if err != nil {
			return nil, err
		}
		return toMessageResponses(msgs), nil

	case "submitSurvey":
		var a submitSurveyArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		resp, err := r.svc.Surveys.Submit(ctx, usecase.SubmitSurveyInput(a))
		if err != nil {
			return nil, err
		}
		return resp, nil

	case "querySurveyResponses":
		var a surveyQueryArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		stats, err := r.svc.Surveys.Query(ctx, usecase.SurveyQuery(a))
		if err != nil {
			return nil, err
		}
		return toSurveyStats(stats), nil

	default:
		return nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "unknown_field", Err: fmt.Errorf("field %q", field)}
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_arguments", Err: err}
	}
	return nil
}
