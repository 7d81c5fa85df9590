package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"turing-game/internal/domain"
)

const (
	defaultCompletionTimeout  = 6 * time.Second
	defaultCompletionAttempts = 3
	defaultCompletionBackoff  = 500 * time.Millisecond
	maxCompletionBackoff      = 5 * time.Second
	defaultHistoryWindow      = 30
	defaultWriteReserve       = 2 * time.Second

	typingCharsPerSecond = 7
	minThinking          = time.Second
	maxExtraThinking     = 2500 * time.Millisecond
)

var fallbackReplies = []string{
	"sorry got distracted for a sec, what were we saying?",
	"haha hold on, my connection is being weird",
	"wait say that again?",
	"lol ok, anyway what about you?",
}

// ResponderConfig tunes the response generator. Zero values take defaults,
// except TypingDelayMax where zero disables the typing simulation.
//
// When the invocation context carries a deadline, completion attempts and the
// typing delay stop WriteReserve before it so the reply is still persisted.
type ResponderConfig struct {
	Model              string
	PersonaParameter   string
	CompletionTimeout  time.Duration
	CompletionAttempts int
	CompletionBackoff  time.Duration
	HistoryWindow      int
	TypingDelayMax     time.Duration
	SilenceToken       string
	WriteReserve       time.Duration
}

type ReplyStatus string

const (
	ReplyGenerated      ReplyStatus = "generated"
	ReplyFallback       ReplyStatus = "fallback"
	ReplySilent         ReplyStatus = "silent"
	ReplyAlreadyHandled ReplyStatus = "already_handled"
)

type ReplyOutput struct {
	Status  ReplyStatus
	Message domain.Message
}

// Responder produces the AI turn for a chatroom after a human message.
type Responder struct {
	rooms    ChatroomStore
	messages MessageStore
	params   ParamGetter
	llm      LLMClient
	seq      *sequencer
	cfg      ResponderConfig

	sleep    func(ctx context.Context, d time.Duration) error
	fallback func() string
	thinking func() time.Duration
}

func NewResponder(rooms ChatroomStore, messages MessageStore, params ParamGetter, llm LLMClient, notifier Notifier, cfg ResponderConfig, opts ...AppendOption) (*Responder, error) {
	if rooms == nil {
		return nil, errors.New("usecase: chatroom store must not be nil")
	}
	if messages == nil {
		return nil, errors.New("usecase: message store must not be nil")
	}
	if params == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("usecase: notifier must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = defaultCompletionTimeout
	}
	if cfg.CompletionAttempts <= 0 {
		cfg.CompletionAttempts = defaultCompletionAttempts
	}
	if cfg.CompletionBackoff <= 0 {
		cfg.CompletionBackoff = defaultCompletionBackoff
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.WriteReserve <= 0 {
		cfg.WriteReserve = defaultWriteReserve
	}
	return &Responder{
		rooms:    rooms,
		messages: messages,
		params:   params,
		llm:      llm,
		seq:      newSequencer(rooms, messages, notifier, opts...),
		cfg:      cfg,
		sleep:    sleepContext,
		fallback: randomFallback,
		thinking: randomThinking,
	}, nil
}

// GenerateReply writes at most one AI turn after the triggering message.
// Completion failures degrade to a canned reply instead of an error.
func (r *Responder) GenerateReply(ctx context.Context, req domain.ReplyRequest) (ReplyOutput, error) {
	chatroomID := strings.TrimSpace(req.ChatroomID)
	triggerID := strings.TrimSpace(req.TriggeringMessageID)
	if chatroomID == "" || triggerID == "" {
		return ReplyOutput{}, newError(ErrorInvalidInput, "empty_reply_request", nil)
	}

	room, err := r.rooms.GetChatroom(ctx, chatroomID)
	if err != nil {
		return ReplyOutput{}, chatroomError(err, "dynamodb_read_error")
	}
	history, err := r.messages.ListMessages(ctx, chatroomID)
	if err != nil {
		return ReplyOutput{}, newError(ErrorInternal, "dynamodb_history_error", err)
	}
	handled, err := replyHandled(history, triggerID)
	if err != nil {
		return ReplyOutput{}, err
	}
	if handled {
		slog.InfoContext(ctx, "reply already handled", "chatroom_id", chatroomID, "message_id", triggerID)
		return ReplyOutput{Status: ReplyAlreadyHandled}, nil
	}

	genCtx, cancel := r.budget(ctx)
	defer cancel()

	status := ReplyGenerated
	text, err := r.complete(genCtx, r.persona(genCtx), history)
	if err != nil {
		slog.WarnContext(ctx, "completion failed, using fallback reply", "err", err, "chatroom_id", chatroomID, "message_id", triggerID)
		text = r.fallback()
		status = ReplyFallback
	} else if r.cfg.SilenceToken != "" && text == r.cfg.SilenceToken {
		slog.InfoContext(ctx, "responder chose silence", "chatroom_id", chatroomID, "message_id", triggerID)
		return ReplyOutput{Status: ReplySilent}, nil
	}

	if err := r.sleep(genCtx, capToDeadline(genCtx, r.typingDelay(text))); err != nil {
		slog.WarnContext(ctx, "typing delay interrupted, sending now", "err", err, "chatroom_id", chatroomID)
	}

	// Appends use a fresh context so a cancelled typing delay still persists.
	writeCtx := context.WithoutCancel(ctx)
	msg, err := r.seq.append(writeCtx, chatroomID, func(ctx context.Context, current domain.Chatroom) (domain.Message, error) {
		latest, err := r.messages.ListMessages(ctx, current.ID)
		if err != nil {
			return domain.Message{}, err
		}
		handled, err := replyHandled(latest, triggerID)
		if err != nil {
			return domain.Message{}, err
		}
		if handled {
			return domain.Message{}, errSkipAppend
		}
		return domain.Message{ID: newUUID(), SenderID: room.AIParticipantID, Text: text, ReplyTo: triggerID}, nil
	})
	if errors.Is(err, errSkipAppend) {
		slog.InfoContext(ctx, "reply written concurrently", "chatroom_id", chatroomID, "message_id", triggerID)
		return ReplyOutput{Status: ReplyAlreadyHandled}, nil
	}
	if err != nil {
		return ReplyOutput{}, chatroomError(err, "dynamodb_write_error")
	}
	slog.InfoContext(ctx, "reply appended", "chatroom_id", chatroomID, "message_id", msg.ID, "reply_to", triggerID, "status", status)
	return ReplyOutput{Status: status, Message: msg}, nil
}

// replyHandled reports whether an AI turn already follows the trigger, or the
// trigger itself is an AI turn.
func replyHandled(history []domain.Message, triggerID string) (bool, error) {
	idx := -1
	for i, m := range history {
		if m.ID == triggerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, newError(ErrorNotFound, "triggering_message_not_found", nil)
	}
	if history[idx].FromAI() {
		return true, nil
	}
	for _, m := range history[idx+1:] {
		if m.FromAI() {
			return true, nil
		}
	}
	return false, nil
}

// budget returns the context generation runs under: it ends WriteReserve
// before the invocation deadline, if there is one.
func (r *Responder) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline.Add(-r.cfg.WriteReserve))
}

func capToDeadline(ctx context.Context, d time.Duration) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return d
	}
	return max(min(d, time.Until(deadline)), 0)
}

func (r *Responder) persona(ctx context.Context) string {
	if r.cfg.PersonaParameter == "" {
		return defaultPersona
	}
	persona, err := r.params.GetParameter(ctx, r.cfg.PersonaParameter)
	if err != nil || strings.TrimSpace(persona) == "" {
		slog.WarnContext(ctx, "persona unavailable, using default", "err", err, "parameter", r.cfg.PersonaParameter)
		return defaultPersona
	}
	return persona
}

// complete calls the completion service with a per-attempt timeout and
// exponential backoff between attempts.
func (r *Responder) complete(ctx context.Context, persona string, history []domain.Message) (string, error) {
	prompt := buildPromptMessages(persona, history, r.cfg.HistoryWindow)

	var lastErr error
	for attempt := 1; attempt <= r.cfg.CompletionAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, backoffDelay(r.cfg.CompletionBackoff, attempt)); err != nil {
				return "", errors.Join(lastErr, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return "", errors.Join(lastErr, fmt.Errorf("usecase: completion budget spent: %w", err))
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CompletionTimeout)
		text, err := r.llm.Chat(callCtx, r.cfg.Model, prompt)
		cancel()
		if err == nil {
			text = strings.TrimSpace(text)
			if text != "" {
				return text, nil
			}
			err = errors.New("usecase: empty completion")
		}

		lastErr = err
		reason := "completion_error"
		if errors.Is(err, domain.ErrSecretUnavailable) {
			reason = "secret_unavailable"
		} else if errors.Is(err, context.DeadlineExceeded) {
			reason = "completion_timeout"
		}
		slog.WarnContext(ctx, "completion attempt failed", "err", err, "attempt", attempt, "reason", reason)
	}
	return "", fmt.Errorf("usecase: completion failed after %d attempts: %w", r.cfg.CompletionAttempts, lastErr)
}

// backoffDelay doubles base for every retry after the first, up to
// maxCompletionBackoff.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 2; i < attempt && d < maxCompletionBackoff; i++ {
		d *= 2
	}
	return min(d, maxCompletionBackoff)
}

// typingDelay approximates a human thinking and typing the text.
func (r *Responder) typingDelay(text string) time.Duration {
	if r.cfg.TypingDelayMax <= 0 {
		return 0
	}
	typing := time.Duration(len([]rune(text))) * time.Second / typingCharsPerSecond
	delay := r.thinking() + typing
	if delay > r.cfg.TypingDelayMax {
		delay = r.cfg.TypingDelayMax
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomFallback() string {
	return fallbackReplies[rand.Intn(len(fallbackReplies))]
}

func randomThinking() time.Duration {
	return minThinking + time.Duration(rand.Int63n(int64(maxExtraThinking)))
}
