package usecase

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"turing-game/internal/domain"
)

const (
	defaultSurveyLimit = 100
	maxSurveyLimit     = 1000
	maxReasoningLen    = 2000
)

var (
	llmKnowledgeLevels = []string{"None", "Some", "High", "Expert"}
	chatbotFrequencies = []string{"Never", "Daily", "Weekly", "Monthly"}
	educationLevels    = []string{"None", "Highschool", "Undergraduate", "Postgraduate"}
)

// SurveyService records post-game guesses and aggregates them.
type SurveyService struct {
	surveys SurveyStore
	rooms   ChatroomStore
	now     func() time.Time
}

type SubmitSurveyInput struct {
	ChatroomID       string
	UserID           string
	BotGuess         string
	Reasoning        string
	LLMKnowledge     string
	ChatbotFrequency string
	Age              int
	Education        string
}

type SurveyQuery struct {
	Education        string
	LLMKnowledge     string
	ChatbotFrequency string
	MinAge           *int
	MaxAge           *int
	Limit            int
}

type SurveyStats struct {
	Responses      []domain.SurveyResponse
	TotalCount     int
	CorrectGuesses int
	Accuracy       float64
}

func NewSurveyService(surveys SurveyStore, rooms ChatroomStore) (*SurveyService, error) {
	if surveys == nil {
		return nil, errors.New("usecase: survey store must not be nil")
	}
	if rooms == nil {
		return nil, errors.New("usecase: chatroom store must not be nil")
	}
	return &SurveyService{surveys: surveys, rooms: rooms, now: time.Now}, nil
}

func (s *SurveyService) Submit(ctx context.Context, in SubmitSurveyInput) (domain.SurveyResponse, error) {
	in.ChatroomID = strings.TrimSpace(in.ChatroomID)
	in.UserID = strings.TrimSpace(in.UserID)
	in.BotGuess = strings.TrimSpace(in.BotGuess)
	in.Reasoning = strings.TrimSpace(in.Reasoning)
	if in.ChatroomID == "" || in.UserID == "" || in.BotGuess == "" {
		return domain.SurveyResponse{}, newError(ErrorInvalidInput, "missing_required_fields", nil)
	}
	if !slices.Contains(llmKnowledgeLevels, in.LLMKnowledge) {
		return domain.SurveyResponse{}, newError(ErrorInvalidInput, "invalid_llm_knowledge", nil)
	}
	if !slices.Contains(chatbotFrequencies, in.ChatbotFrequency) {
		return domain.SurveyResponse{}, newError(ErrorInvalidInput, "invalid_chatbot_frequency", nil)
	}
	if !slices.Contains(educationLevels, in.Education) {
		return domain.SurveyResponse{}, newError(ErrorInvalidInput, "invalid_education", nil)
	}
	if in.Age <= 0 || in.Age > 130 {
		return domain.SurveyResponse{}, newError(ErrorInvalidInput, "invalid_age", nil)
	}
	if len(in.Reasoning) > maxReasoningLen {
		return domain.SurveyResponse{}, newError(ErrorInvalidInput, "reasoning_too_long", nil)
	}

	room, err := s.rooms.GetChatroom(ctx, in.ChatroomID)
	if err != nil {
		return domain.SurveyResponse{}, chatroomError(err, "dynamodb_read_error")
	}
	if !room.HasParticipant(in.UserID) {
		return domain.SurveyResponse{}, newError(ErrorNotParticipant, "user_not_in_chatroom", nil)
	}

	resp := domain.SurveyResponse{
		ID:               newUUID(),
		SubmittedAt:      s.now().UTC(),
		ChatroomID:       in.ChatroomID,
		UserID:           in.UserID,
		BotGuess:         in.BotGuess,
		Reasoning:        in.Reasoning,
		LLMKnowledge:     in.LLMKnowledge,
		ChatbotFrequency: in.ChatbotFrequency,
		Age:              in.Age,
		Education:        in.Education,
		WasCorrect:       in.BotGuess == room.AIParticipantID,
	}
	if err := s.surveys.PutSurvey(ctx, resp); err != nil {
		return domain.SurveyResponse{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}
	slog.InfoContext(ctx, "survey submitted", "chatroom_id", resp.ChatroomID, "survey_id", resp.ID)
	return resp, nil
}

func (s *SurveyService) Query(ctx context.Context, q SurveyQuery) (SurveyStats, error) {
	q.Education = strings.TrimSpace(q.Education)
	q.LLMKnowledge = strings.TrimSpace(q.LLMKnowledge)
	q.ChatbotFrequency = strings.TrimSpace(q.ChatbotFrequency)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSurveyLimit
	}
	if limit > maxSurveyLimit {
		limit = maxSurveyLimit
	}
	if q.MinAge != nil && q.MaxAge != nil && *q.MinAge > *q.MaxAge {
		return SurveyStats{}, newError(ErrorInvalidInput, "invalid_age_range", nil)
	}

	items, err := s.surveys.QuerySurveys(ctx, domain.SurveyIndexQuery{
		Education:    q.Education,
		LLMKnowledge: q.LLMKnowledge,
		Limit:        limit,
	})
	if err != nil {
		return SurveyStats{}, newError(ErrorInternal, "dynamodb_query_error", err)
	}

	stats := SurveyStats{Responses: make([]domain.SurveyResponse, 0, len(items))}
	for _, it := range items {
		if q.MinAge != nil && it.Age < *q.MinAge {
			continue
		}
		if q.MaxAge != nil && it.Age > *q.MaxAge {
			continue
		}
		if q.ChatbotFrequency != "" && it.ChatbotFrequency != q.ChatbotFrequency {
			continue
		}
		// Only one index is used per query; the other filter applies here.
		if q.Education != "" && it.Education != q.Education {
			continue
		}
		if q.LLMKnowledge != "" && it.LLMKnowledge != q.LLMKnowledge {
			continue
		}
		stats.Responses = append(stats.Responses, it)
		if it.WasCorrect {
			stats.CorrectGuesses++
		}
	}
	stats.TotalCount = len(stats.Responses)
	if stats.TotalCount > 0 {
		stats.Accuracy = float64(stats.CorrectGuesses) / float64(stats.TotalCount) * 100
	}
	return stats, nil
}
