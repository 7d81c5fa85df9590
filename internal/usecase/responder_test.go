package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"turing-game/internal/domain"
	"turing-game/internal/memstore"
)

const personaParam = "/turing/persona"

type responderFixture struct {
	store    *memstore.Store
	room     domain.Chatroom
	trigger  domain.Message
	notifier *recordingNotifier
	sleeps   []time.Duration
	r        *Responder
}

func newResponderFixture(t *testing.T, llm LLMClient, params ParamGetter, cfg ResponderConfig) *responderFixture {
	t.Helper()
	f := &responderFixture{store: memstore.New(), notifier: &recordingNotifier{}}
	f.room = seedRoom(t, f.store, "u1", "u2")

	chat := newTestChat(t, f.store, &recordingNotifier{}, &recordingDispatcher{})
	trigger, err := chat.SendMessage(context.Background(), SendMessageInput{ChatroomID: f.room.ID, SenderID: "u1", Text: "so where are you from?"})
	require.NoError(t, err)
	f.trigger = trigger

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	r, err := NewResponder(f.store, f.store, params, llm, f.notifier, cfg)
	require.NoError(t, err)
	r.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	r.fallback = func() string { return "brb" }
	r.thinking = func() time.Duration { return time.Second }
	f.r = r
	return f
}

func (f *responderFixture) request() domain.ReplyRequest {
	return domain.ReplyRequest{ChatroomID: f.room.ID, TriggeringMessageID: f.trigger.ID}
}

func TestNewResponder_Validation(t *testing.T) {
	store := memstore.New()
	params := &mockParams{}
	llm := &mockLLM{}
	n := &recordingNotifier{}
	cfg := ResponderConfig{Model: "m"}

	_, err := NewResponder(nil, store, params, llm, n, cfg)
	require.Error(t, err)
	_, err = NewResponder(store, nil, params, llm, n, cfg)
	require.Error(t, err)
	_, err = NewResponder(store, store, nil, llm, n, cfg)
	require.Error(t, err)
	_, err = NewResponder(store, store, params, nil, n, cfg)
	require.Error(t, err)
	_, err = NewResponder(store, store, params, llm, nil, cfg)
	require.Error(t, err)
	_, err = NewResponder(store, store, params, llm, n, ResponderConfig{Model: " "})
	require.Error(t, err)

	r, err := NewResponder(store, store, params, llm, n, cfg)
	require.NoError(t, err)
	require.Equal(t, defaultCompletionTimeout, r.cfg.CompletionTimeout)
	require.Equal(t, defaultCompletionAttempts, r.cfg.CompletionAttempts)
	require.Equal(t, defaultCompletionBackoff, r.cfg.CompletionBackoff)
	require.Equal(t, defaultHistoryWindow, r.cfg.HistoryWindow)
}

func TestGenerateReply_AppendsAITurn(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: "  ohio, you?  "}}}
	params := &mockParams{vals: map[string]string{personaParam: "You are Sam, 24."}}
	f := newResponderFixture(t, llm, params, ResponderConfig{PersonaParameter: personaParam})

	out, err := f.r.GenerateReply(context.Background(), f.request())
	require.NoError(t, err)
	require.Equal(t, ReplyGenerated, out.Status)
	require.Equal(t, "ohio, you?", out.Message.Text)
	require.Equal(t, f.room.AIParticipantID, out.Message.SenderID)
	require.Equal(t, f.trigger.ID, out.Message.ReplyTo)
	require.Equal(t, int64(2), out.Message.Seq)
	require.True(t, out.Message.CreatedAt.After(f.trigger.CreatedAt))

	history, err := f.store.ListMessages(context.Background(), f.room.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, out.Message, history[1])
	require.Equal(t, []domain.Message{out.Message}, f.notifier.messages)

	require.Equal(t, []string{"gpt-4o-mini"}, llm.models)
	require.Equal(t, domain.ChatMessage{Role: "system", Content: "You are Sam, 24."}, llm.captured[0])
	require.Equal(t, domain.ChatMessage{Role: "user", Name: "Player_1", Content: "so where are you from?"}, llm.captured[1])
}

func TestGenerateReply_DefaultPersonaWhenParameterFails(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: "hey"}}}
	f := newResponderFixture(t, llm, &mockParams{err: errors.New("ssm down")}, ResponderConfig{PersonaParameter: personaParam})

	out, err := f.r.GenerateReply(context.Background(), f.request())
	require.NoError(t, err)
	require.Equal(t, ReplyGenerated, out.Status)
	require.Equal(t, defaultPersona, llm.captured[0].Content)
}

func TestGenerateReply_IsIdempotent(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: "hey"}}}
	f := newResponderFixture(t, llm, &mockParams{}, ResponderConfig{})

	first, err := f.r.GenerateReply(context.Background(), f.request())
	require.NoError(t, err)
	require.Equal(t, ReplyGenerated, first.Status)

	second, err := f.r.GenerateReply(context.Background(), f.request())
	require.NoError(t, err)
	require.Equal(t, ReplyAlreadyHandled, second.Status)
	require.Equal(t, 1, llm.calls())

	history, err := f.store.ListMessages(context.Background(), f.room.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestGenerateReply_FallbackAfterTimeouts(t *testing.T) {
	llm := &blockingLLM{}
	f := newResponderFixture(t, llm, &mockParams{}, ResponderConfig{
		CompletionTimeout:  10 * time.Millisecond,
		CompletionAttempts: 3,
		CompletionBackoff:  100 * time.Millisecond,
	})

	out, err := f.r.GenerateReply(context.Background(), f.request())
	require.NoError(t, err)
	require.Equal(t, ReplyFallback, out.Status)
	require.Equal(t, "brb", out.Message.Text)
	require.Equal(t, 3, llm.calls)
	// Two backoffs, then a disabled typing delay.
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 0}, f.sleeps)
}

func TestGenerateReply_FallbackWhenSecretUnavailable(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{err: fmt.Errorf("openai: api key: %w", domain.ErrSecretUnavailable)}}}
	f := newResponderFixture(t, llm, &mockParams{}, ResponderConfig{CompletionAttempts: 2})

	out, err := f.r.GenerateReply(context.Background(), f.request())
	require.NoError(t, err)
	require.Equal(t, ReplyFallback, out.Status)
	require.Equal(t, 2, llm.calls())
}

func TestGenerateReply_RecoversOnRetry(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{err: errors.New("503")}, {answer: "   "}, {answer: "ok ok"}}}
	f := newResponderFixture(t, llm, &mockParams{}, ResponderConfig{CompletionAttempts: 3})

	out, err := f.r.GenerateReply(context.Background(), f.request())
	require.NoError(t, err)
	require.Equal(t, ReplyGenerated, out.Status)
	require.Equal(t, "ok ok", out.Message.Text)
	require.Equal(t, 3, llm.calls())
}

func TestGenerateReply_Silence(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: "Silence1"}}}
	f := newResponderFixture(t, llm, &mockParams{}, ResponderConfig{SilenceToken: "Silence1"})

	out, err := f.r.GenerateReply(context.Background(), f.request())
	require.NoError(t, err)
	require.Equal(t, ReplySilent, out.Status)
	require.Empty(t, f.notifier.messages)

	history, err := f.store.ListMessages(context.Background(), f.room.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestGenerateReply_TypingDelay(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: "fourteen chars"}}}
	f := newResponderFixture(t, llm, &mockParams{}, ResponderConfig{TypingDelayMax: 15 * time.Second})

	_, err := f.r.GenerateReply(context.Background(), f.request())
	require.NoError(t, err)
	require.Equal(t, []time.Duration{3 * time.Second}, f.sleeps)

	f.r.cfg.TypingDelayMax = 2 * time.Second
	require.Equal(t, 2*time.Second, f.r.typingDelay("fourteen chars"))
}

func TestGenerateReply_CancelledDelayStillPersists(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: "hey"}}}
	f := newResponderFixture(t, llm, &mockParams{}, ResponderConfig{TypingDelayMax: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	f.r.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	out, err := f.r.GenerateReply(ctx, f.request())
	require.NoError(t, err)
	require.Equal(t, ReplyGenerated, out.Status)
	require.Len(t, f.notifier.messages, 1)
}

func TestGenerateReply_ConcurrentReplyWins(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: "late"}}}
	f := newResponderFixture(t, llm, &mockParams{}, ResponderConfig{})
	seq := newSequencer(f.store, f.store, &recordingNotifier{})
	f.r.sleep = func(ctx context.Context, _ time.Duration) error {
		_, err := seq.append(ctx, f.room.ID, func(context.Context, domain.Chatroom) (domain.Message, error) {
			return domain.Message{ID: "other", SenderID: f.room.AIParticipantID, Text: "first", ReplyTo: f.trigger.ID}, nil
		})
		return err
	}

	out, err := f.r.GenerateReply(context.Background(), f.request())
	require.NoError(t, err)
	require.Equal(t, ReplyAlreadyHandled, out.Status)
	require.Empty(t, f.notifier.messages)

	history, err := f.store.ListMessages(context.Background(), f.room.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "other", history[1].ID)
}

func TestGenerateReply_Errors(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: "hey"}}}
	f := newResponderFixture(t, llm, &mockParams{}, ResponderConfig{})

	_, err := f.r.GenerateReply(context.Background(), domain.ReplyRequest{ChatroomID: f.room.ID})
	requireCode(t, err, ErrorInvalidInput)

	_, err = f.r.GenerateReply(context.Background(), domain.ReplyRequest{ChatroomID: "gone", TriggeringMessageID: "m"})
	requireCode(t, err, ErrorUnknownChatroom)

	_, err = f.r.GenerateReply(context.Background(), domain.ReplyRequest{ChatroomID: f.room.ID, TriggeringMessageID: "missing"})
	requireCode(t, err, ErrorNotFound)
	require.Zero(t, llm.calls())
}

func TestGenerateReply_AITriggerIsIgnored(t *testing.T) {
	llm := &mockLLM{responses: []chatResponse{{answer: "hey"}}}
	f := newResponderFixture(t, llm, &mockParams{}, ResponderConfig{})
	first, err := f.r.GenerateReply(context.Background(), f.request())
	require.NoError(t, err)

	out, err := f.r.GenerateReply(context.Background(), domain.ReplyRequest{ChatroomID: f.room.ID, TriggeringMessageID: first.Message.ID})
	require.NoError(t, err)
	require.Equal(t, ReplyAlreadyHandled, out.Status)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), 0))
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestRandomHelpers(t *testing.T) {
	for i := 0; i < 20; i++ {
		require.Contains(t, fallbackReplies, randomFallback())
		d := randomThinking()
		require.GreaterOrEqual(t, d, minThinking)
		require.Less(t, d, minThinking+maxExtraThinking)
	}
}

func TestGenerateReply_SharedRoomLocksOrderNotifications(t *testing.T) {
	store := memstore.New()
	room := seedRoom(t, store, "u1", "u2")
	locks := NewRoomLocks()
	notifier := newGatedNotifier()

	chat, err := NewChatService(store, store, notifier, &recordingDispatcher{}, 0, WithRoomLocks(locks))
	require.NoError(t, err)
	r, err := NewResponder(store, store, &mockParams{}, &mockLLM{responses: []chatResponse{{answer: "hey"}}}, notifier, ResponderConfig{Model: "m"}, WithRoomLocks(locks))
	require.NoError(t, err)

	errs := make(chan error, 2)
	go func() {
		_, err := chat.SendMessage(context.Background(), SendMessageInput{ChatroomID: room.ID, SenderID: "u1", Text: "hello"})
		errs <- err
	}()
	<-notifier.entered

	history, err := store.ListMessages(context.Background(), room.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	go func() {
		_, err := r.GenerateReply(context.Background(), domain.ReplyRequest{ChatroomID: room.ID, TriggeringMessageID: history[0].ID})
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(notifier.release)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	require.Equal(t, []int64{1, 2}, notifier.seqs())
}

// deadlineWatch records whether the invocation had already expired when the
// reply was written.
type deadlineWatch struct {
	MessageStore
	invocation context.Context
	mu         sync.Mutex
	expired    []error
}

func (d *deadlineWatch) AppendMessage(ctx context.Context, msg domain.Message, prev int64) error {
	d.mu.Lock()
	d.expired = append(d.expired, d.invocation.Err())
	d.mu.Unlock()
	return d.MessageStore.AppendMessage(ctx, msg, prev)
}

func TestGenerateReply_FallbackFitsInvocationDeadline(t *testing.T) {
	f := newResponderFixture(t, &mockLLM{}, &mockParams{}, ResponderConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()

	watch := &deadlineWatch{MessageStore: f.store, invocation: ctx}
	llm := &blockingLLM{}
	r, err := NewResponder(f.store, watch, &mockParams{}, llm, f.notifier, ResponderConfig{
		Model:              "m",
		CompletionTimeout:  200 * time.Millisecond,
		CompletionAttempts: 3,
		CompletionBackoff:  20 * time.Millisecond,
		TypingDelayMax:     time.Second,
		WriteReserve:       150 * time.Millisecond,
	})
	require.NoError(t, err)
	r.fallback = func() string { return "brb" }
	r.thinking = func() time.Duration { return time.Second }

	out, err := r.GenerateReply(ctx, f.request())
	require.NoError(t, err)
	require.Equal(t, ReplyFallback, out.Status)
	require.Equal(t, "brb", out.Message.Text)
	require.Less(t, llm.calls, 3)
	require.Equal(t, []error{nil}, watch.expired)
}

func TestBackoffDelay(t *testing.T) {
	require.Equal(t, 500*time.Millisecond, backoffDelay(500*time.Millisecond, 2))
	require.Equal(t, time.Second, backoffDelay(500*time.Millisecond, 3))
	require.Equal(t, maxCompletionBackoff, backoffDelay(500*time.Millisecond, 200))
	require.Equal(t, maxCompletionBackoff, backoffDelay(time.Minute, 2))
}
