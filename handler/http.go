package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"turing-game/internal/integrations/redisbus"
	"turing-game/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// EventSource streams published notifications for the given channels.
type EventSource interface {
	Subscribe(ctx context.Context, channels ...string) (<-chan []byte, error)
}

type ctxKey struct{}

// CorrelationID returns the request correlation id stored by the router.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// HTTP exposes the gateways over a JSON API for local runs.
type HTTP struct {
	svc    Services
	events EventSource
}

type HTTPOption func(*HTTP)

// WithEventSource enables the server-sent events endpoint.
func WithEventSource(src EventSource) HTTPOption {
	return func(h *HTTP) {
		h.events = src
	}
}

func NewHTTP(svc Services, opts ...HTTPOption) (*HTTP, error) {
	if err := svc.validate(); err != nil {
		return nil, err
	}
	h := &HTTP{svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Router builds the chi router with every route registered.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(correlation)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Post("/waiting-room", h.join)
		api.Get("/waiting-room/{entryID}", h.status)
		api.Delete("/waiting-room/{entryID}", h.leave)

		api.Post("/chatrooms/{chatroomID}/messages", h.sendMessage)
		api.Get("/chatrooms/{chatroomID}/messages", h.messages)

		api.Post("/surveys", h.submitSurvey)
		api.Get("/surveys", h.querySurveys)

		api.Get("/events", h.stream)
	})
	return r
}

func correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"correlation_id", CorrelationID(r.Context()),
		)
	})
}

func (h *HTTP) join(w http.ResponseWriter, r *http.Request) {
	var body joinArgs
	if !decodeBody(w, r, &body) {
		return
	}
	entry, err := h.svc.WaitingRoom.Join(r.Context(), usecase.JoinInput{RequesterID: body.UserID})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *HTTP) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.WaitingRoom.Status(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toStatusResponse(st))
}

func (h *HTTP) leave(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")
	if err := h.svc.WaitingRoom.Leave(r.Context(), entryID); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, leaveResponse{EntryID: entryID, Removed: true})
}

func (h *HTTP) sendMessage(w http.ResponseWriter, r *http.Request) {
	var body sendMessageArgs
	if !decodeBody(w, r, &body) {
		return
	}
	msg, err := h.svc.Chat.SendMessage(r.Context(), usecase.SendMessageInput{
		ChatroomID: chi.URLParam(r, "chatroomID"),
		SenderID:   body.SenderID,
		Text:       body.Text,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (h *HTTP) messages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.Chat.History(r.Context(), chi.URLParam(r, "chatroomID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toMessageResponses(msgs))
}

func (h *HTTP) submitSurvey(w http.ResponseWriter, r *http.Request) {
	var body submitSurveyArgs
	if !decodeBody(w, r, &body) {
		return
	}
	resp, err := h.svc.Surveys.Submit(r.Context(), usecase.SubmitSurveyInput(body))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (h *HTTP) querySurveys(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := usecase.SurveyQuery{
		Education:        q.Get("education"),
		LLMKnowledge:     q.Get("llmKnowledge"),
		ChatbotFrequency: q.Get("chatbotFrequency"),
	}
	var err error
	if query.MinAge, err = optionalInt(q.Get("minAge")); err != nil {
		respondError(w, r, invalidQuery("invalid_min_age", err))
		return
	}
	if query.MaxAge, err = optionalInt(q.Get("maxAge")); err != nil {
		respondError(w, r, invalidQuery("invalid_max_age", err))
		return
	}
	if limit, err := optionalInt(q.Get("limit")); err != nil {
		respondError(w, r, invalidQuery("invalid_limit", err))
		return
	} else if limit != nil {
		query.Limit = *limit
	}

	stats, err := h.svc.Surveys.Query(r.Context(), query)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toSurveyStats(stats))
}

// stream relays match and message notifications as server-sent events. At
// least one of entryId and chatroomId must be given.
func (h *HTTP) stream(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "EVENTS_UNAVAILABLE"})
		return
	}
	var channels []string
	if id := strings.TrimSpace(r.URL.Query().Get("entryId")); id != "" {
		channels = append(channels, redisbus.EntryChannel(id))
	}
	if id := strings.TrimSpace(r.URL.Query().Get("chatroomId")); id != "" {
		channels = append(channels, redisbus.ChatroomChannel(id))
	}
	if len(channels) == 0 {
		respondError(w, r, invalidQuery("missing_subscription", nil))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: "streaming_unsupported"})
		return
	}

	ctx := r.Context()
	events, err := h.events.Subscribe(ctx, channels...)
	if err != nil {
		slog.ErrorContext(ctx, "subscribe failed", "err", err, "channels", channels)
		respondJSON(w, http.StatusBadGateway, errorResponse{Error: string(usecase.ErrorUpstream), Reason: "subscribe_failed"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for body := range events {
		var ev redisbus.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			slog.WarnContext(ctx, "dropping malformed event", "err", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

func optionalInt(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func invalidQuery(reason string, err error) error {
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: reason, Err: err}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to write response", "err", err)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	code, reason := classify(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "code", code, "reason", reason, "err", err, "correlation_id", CorrelationID(r.Context()))
	}
	respondJSON(w, status, errorResponse{Error: string(code), Reason: reason})
}
