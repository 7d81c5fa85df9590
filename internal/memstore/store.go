// Package memstore is an in-process implementation of the waiting room,
// chatroom, message and survey stores. Every conditional write is checked
// under one mutex, matching the conditional semantics of the DynamoDB
// repository.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"turing-game/internal/domain"
)

// InsertHook is called after a waiting-room entry insert commits, outside the lock.
type InsertHook func(ctx context.Context, entry domain.WaitingRoomEntry)

type Store struct {
	mu         sync.Mutex
	entries    map[string]domain.WaitingRoomEntry
	requesters map[string]string // requester id -> WAITING entry id
	rooms      map[string]domain.Chatroom
	messages   map[string][]domain.Message
	surveys    []domain.SurveyResponse
	onInsert   []InsertHook
}

func New() *Store {
	return &Store{
		entries:    make(map[string]domain.WaitingRoomEntry),
		requesters: make(map[string]string),
		rooms:      make(map[string]domain.Chatroom),
		messages:   make(map[string][]domain.Message),
	}
}

// OnInsert registers a change-feed hook for new waiting-room entries.
func (s *Store) OnInsert(h InsertHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInsert = append(s.onInsert, h)
}

func (s *Store) CreateEntry(ctx context.Context, entry domain.WaitingRoomEntry) error {
	s.mu.Lock()
	if _, ok := s.entries[entry.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: CreateEntry %s: %w", entry.ID, domain.ErrConflict)
	}
	if _, ok := s.requesters[entry.RequesterID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: CreateEntry requester %s: %w", entry.RequesterID, domain.ErrConflict)
	}
	s.entries[entry.ID] = entry
	s.requesters[entry.RequesterID] = entry.ID
	hooks := slices.Clone(s.onInsert)
	s.mu.Unlock()

	// The entry is committed; hooks outlive the caller's request.
	hookCtx := context.WithoutCancel(ctx)
	for _, h := range hooks {
		h(hookCtx, entry)
	}
	return nil
}

func (s *Store) GetEntry(_ context.Context, entryID string) (domain.WaitingRoomEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return domain.WaitingRoomEntry{}, fmt.Errorf("memstore: GetEntry %s: %w", entryID, domain.ErrNotFound)
	}
	return e, nil
}

func (s *Store) DeleteWaitingEntry(_ context.Context, entry domain.WaitingRoomEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[entry.ID]
	if !ok || !cur.Waiting() {
		return fmt.Errorf("memstore: DeleteWaitingEntry %s: %w", entry.ID, domain.ErrConflict)
	}
	delete(s.entries, entry.ID)
	delete(s.requesters, cur.RequesterID)
	return nil
}

func (s *Store) ListWaiting(_ context.Context, limit int) ([]domain.WaitingRoomEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WaitingRoomEntry, 0)
	for _, e := range s.entries {
		if e.Waiting() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CommitMatch(_ context.Context, a, b domain.WaitingRoomEntry, room domain.Chatroom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	curA, okA := s.entries[a.ID]
	curB, okB := s.entries[b.ID]
	if !okA || !okB || !curA.Waiting() || !curB.Waiting() {
		return fmt.Errorf("memstore: CommitMatch %s/%s: %w", a.ID, b.ID, domain.ErrConflict)
	}
	if _, exists := s.rooms[room.ID]; exists {
		return fmt.Errorf("memstore: CommitMatch room %s: %w", room.ID, domain.ErrConflict)
	}

	room.ParticipantIDs = slices.Clone(room.ParticipantIDs)
	room.EntryIDs = slices.Clone(room.EntryIDs)
	s.rooms[room.ID] = room
	for _, cur := range []domain.WaitingRoomEntry{curA, curB} {
		cur.Status = domain.StatusMatched
		cur.MatchedChatroomID = room.ID
		cur.MatchedAt = room.CreatedAt
		s.entries[cur.ID] = cur
		delete(s.requesters, cur.RequesterID)
	}
	return nil
}

func (s *Store) GetChatroom(_ context.Context, chatroomID string) (domain.Chatroom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[chatroomID]
	if !ok {
		return domain.Chatroom{}, fmt.Errorf("memstore: GetChatroom %s: %w", chatroomID, domain.ErrNotFound)
	}
	r.ParticipantIDs = slices.Clone(r.ParticipantIDs)
	r.EntryIDs = slices.Clone(r.EntryIDs)
	return r, nil
}

func (s *Store) ListMessages(_ context.Context, chatroomID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages[chatroomID]), nil
}

func (s *Store) AppendMessage(_ context.Context, msg domain.Message, prevSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[msg.ChatroomID]
	if !ok {
		return fmt.Errorf("memstore: AppendMessage %s: %w", msg.ChatroomID, domain.ErrNotFound)
	}
	if room.LastSeq != prevSeq || msg.Seq != prevSeq+1 || !msg.CreatedAt.After(room.LastMessageAt) {
		return fmt.Errorf("memstore: AppendMessage %s seq %d: %w", msg.ChatroomID, msg.Seq, domain.ErrConflict)
	}
	room.LastSeq = msg.Seq
	room.LastMessageAt = msg.CreatedAt
	s.rooms[room.ID] = room
	s.messages[msg.ChatroomID] = append(s.messages[msg.ChatroomID], msg)
	return nil
}

func (s *Store) PutSurvey(_ context.Context, r domain.SurveyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.surveys {
		if existing.ID == r.ID {
			return fmt.Errorf("memstore: PutSurvey %s: %w", r.ID, domain.ErrConflict)
		}
	}
	s.surveys = append(s.surveys, r)
	return nil
}

func (s *Store) QuerySurveys(_ context.Context, q domain.SurveyIndexQuery) ([]domain.SurveyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SurveyResponse, 0)
	for _, r := range s.surveys {
		switch {
		case q.Education != "":
			if r.Education != q.Education {
				continue
			}
		case q.LLMKnowledge != "":
			if r.LLMKnowledge != q.LLMKnowledge {
				continue
			}
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}
