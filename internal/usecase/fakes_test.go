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

type mockParams struct {
	vals map[string]string
	err  error
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

type chatResponse struct {
	answer string
	err    error
}

type mockLLM struct {
	mu        sync.Mutex
	responses []chatResponse
	callCount int
	captured  []domain.ChatMessage
	models    []string
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captured = msgs
	m.models = append(m.models, model)
	if len(m.responses) == 0 {
		return "", errors.New("no llm response configured")
	}
	idx := m.callCount
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.callCount++
	return m.responses[idx].answer, m.responses[idx].err
}

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// blockingLLM waits for the per-attempt deadline on every call.
type blockingLLM struct {
	mu    sync.Mutex
	calls int
}

func (b *blockingLLM) Chat(ctx context.Context, _ string, _ []domain.ChatMessage) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-ctx.Done()
	return "", ctx.Err()
}

type recordingNotifier struct {
	mu         sync.Mutex
	matches    []domain.MatchNotification
	messages   []domain.Message
	matchErr   error
	messageErr error
}

func (n *recordingNotifier) MatchCreated(_ context.Context, m domain.MatchNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.matches = append(n.matches, m)
	return n.matchErr
}

func (n *recordingNotifier) MessageAppended(_ context.Context, msg domain.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.messageErr
}

func (n *recordingNotifier) matchCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.matches)
}

type recordingDispatcher struct {
	mu       sync.Mutex
	requests []domain.ReplyRequest
	err      error
}

func (d *recordingDispatcher) DispatchReply(_ context.Context, req domain.ReplyRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return d.err
}

// fixedClock returns a clock advancing by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(step)
		return t
	}
}

// seedRoom commits a match between two fresh requesters and returns the room.
func seedRoom(t *testing.T, store *memstore.Store, u1, u2 string) domain.Chatroom {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)
	a := domain.WaitingRoomEntry{ID: "entry-" + u1, RequesterID: u1, JoinedAt: base, Status: domain.StatusWaiting}
	b := domain.WaitingRoomEntry{ID: "entry-" + u2, RequesterID: u2, JoinedAt: base.Add(time.Second), Status: domain.StatusWaiting}
	require.NoError(t, store.CreateEntry(ctx, a))
	require.NoError(t, store.CreateEntry(ctx, b))
	room := domain.Chatroom{
		ID:              "room-" + u1 + "-" + u2,
		ParticipantIDs:  []string{u1, u2},
		EntryIDs:        []string{a.ID, b.ID},
		AIParticipantID: "ai-" + u1 + u2,
		CreatedAt:       base.Add(2 * time.Second),
	}
	require.NoError(t, store.CommitMatch(ctx, a, b, room))
	return room
}

func requireCode(t *testing.T, err error, code ErrorCode) *Error {
	t.Helper()
	require.Error(t, err)
	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, code, uerr.Code)
	return uerr
}

// failingEntries wraps a store and injects errors per operation.
type failingEntries struct {
	WaitingRoomStore
	createErr error
	getErr    error
	deleteErr error
	listErr   error
	commitErr error
	commits   int
}

func (f *failingEntries) CreateEntry(ctx context.Context, e domain.WaitingRoomEntry) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.WaitingRoomStore.CreateEntry(ctx, e)
}

func (f *failingEntries) GetEntry(ctx context.Context, id string) (domain.WaitingRoomEntry, error) {
	if f.getErr != nil {
		return domain.WaitingRoomEntry{}, f.getErr
	}
	return f.WaitingRoomStore.GetEntry(ctx, id)
}

func (f *failingEntries) DeleteWaitingEntry(ctx context.Context, e domain.WaitingRoomEntry) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.WaitingRoomStore.DeleteWaitingEntry(ctx, e)
}

func (f *failingEntries) ListWaiting(ctx context.Context, limit int) ([]domain.WaitingRoomEntry, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.WaitingRoomStore.ListWaiting(ctx, limit)
}

func (f *failingEntries) CommitMatch(ctx context.Context, a, b domain.WaitingRoomEntry, room domain.Chatroom) error {
	f.commits++
	if f.commitErr != nil {
		return f.commitErr
	}
	return f.WaitingRoomStore.CommitMatch(ctx, a, b, room)
}

type failingMessages struct {
	MessageStore
	listErr   error
	appendErr error
}

func (f *failingMessages) ListMessages(ctx context.Context, id string) ([]domain.Message, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.MessageStore.ListMessages(ctx, id)
}

func (f *failingMessages) AppendMessage(ctx context.Context, msg domain.Message, prev int64) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.MessageStore.AppendMessage(ctx, msg, prev)
}
