package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"turing-game/internal/domain"
)

const maxRequesterIDLen = 128

// WaitingRoomService implements join, leave and status for the waiting room.
type WaitingRoomService struct {
	entries WaitingRoomStore
	rooms   ChatroomStore
	now     func() time.Time
}

type JoinInput struct {
	RequesterID string
}

type StatusOutput struct {
	EntryID     string
	Status      domain.EntryStatus
	ChatroomID  string
	WaitSeconds int64
}

func NewWaitingRoomService(entries WaitingRoomStore, rooms ChatroomStore) (*WaitingRoomService, error) {
	if entries == nil {
		return nil, errors.New("usecase: waiting room store must not be nil")
	}
	if rooms == nil {
		return nil, errors.New("usecase: chatroom store must not be nil")
	}
	return &WaitingRoomService{entries: entries, rooms: rooms, now: time.Now}, nil
}

// Join creates a WAITING entry for the requester.
func (s *WaitingRoomService) Join(ctx context.Context, in JoinInput) (domain.WaitingRoomEntry, error) {
	requesterID := strings.TrimSpace(in.RequesterID)
	if requesterID == "" {
		return domain.WaitingRoomEntry{}, newError(ErrorInvalidInput, "empty_requester_id", nil)
	}
	if len(requesterID) > maxRequesterIDLen {
		return domain.WaitingRoomEntry{}, newError(ErrorInvalidInput, "requester_id_too_long", nil)
	}
	if domain.IsAISender(requesterID) {
		return domain.WaitingRoomEntry{}, newError(ErrorInvalidInput, "reserved_requester_id", nil)
	}

	entry := domain.WaitingRoomEntry{
		ID:          newUUID(),
		RequesterID: requesterID,
		JoinedAt:    s.now().UTC(),
		Status:      domain.StatusWaiting,
	}
	if err := s.entries.CreateEntry(ctx, entry); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.WaitingRoomEntry{}, newError(ErrorAlreadyWaiting, "requester_already_waiting", err)
		}
		return domain.WaitingRoomEntry{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}
	slog.InfoContext(ctx, "joined waiting room", "entry_id", entry.ID, "requester_id", requesterID)
	return entry, nil
}

// Leave removes a WAITING entry. A concurrently matched entry is never removed.
func (s *WaitingRoomService) Leave(ctx context.Context, entryID string) error {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return newError(ErrorInvalidInput, "empty_entry_id", nil)
	}

	entry, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		return s.lookupError(err)
	}
	if !entry.Waiting() {
		return newError(ErrorAlreadyMatched, "entry_already_matched", nil)
	}

	err = s.entries.DeleteWaitingEntry(ctx, entry)
	if err == nil {
		slog.InfoContext(ctx, "left waiting room", "entry_id", entryID)
		return nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return newError(ErrorInternal, "dynamodb_delete_error", err)
	}

	// The delete lost a race; re-read to report why.
	current, getErr := s.entries.GetEntry(ctx, entryID)
	if getErr != nil {
		return s.lookupError(getErr)
	}
	if !current.Waiting() {
		return newError(ErrorAlreadyMatched, "entry_matched_concurrently", err)
	}
	return newError(ErrorInternal, "dynamodb_delete_conflict", err)
}

// Status reports whether the entry is still waiting or which chatroom it joined.
func (s *WaitingRoomService) Status(ctx context.Context, entryID string) (StatusOutput, error) {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return StatusOutput{}, newError(ErrorInvalidInput, "empty_entry_id", nil)
	}

	entry, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		return StatusOutput{}, s.lookupError(err)
	}

	out := StatusOutput{EntryID: entry.ID, Status: entry.Status}
	switch entry.Status {
	case domain.StatusWaiting:
		out.WaitSeconds = int64(s.now().Sub(entry.JoinedAt) / time.Second)
		if out.WaitSeconds < 0 {
			out.WaitSeconds = 0
		}
	case domain.StatusMatched:
		if err := s.verifyMatch(ctx, entry); err != nil {
			return StatusOutput{}, err
		}
		out.ChatroomID = entry.MatchedChatroomID
	default:
		slog.ErrorContext(ctx, "entry has unknown status", "fault", "internal_consistency", "entry_id", entry.ID, "status", entry.Status)
		return StatusOutput{}, newError(ErrorInternal, "unknown_entry_status", nil)
	}
	return out, nil
}

// verifyMatch checks that a MATCHED entry resolves to a chatroom that lists it.
func (s *WaitingRoomService) verifyMatch(ctx context.Context, entry domain.WaitingRoomEntry) error {
	if entry.MatchedChatroomID == "" {
		slog.ErrorContext(ctx, "matched entry has no chatroom", "fault", "internal_consistency", "entry_id", entry.ID)
		return newError(ErrorInternal, "matched_without_chatroom", nil)
	}
	room, err := s.rooms.GetChatroom(ctx, entry.MatchedChatroomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.ErrorContext(ctx, "matched entry references missing chatroom", "fault", "internal_consistency", "entry_id", entry.ID, "chatroom_id", entry.MatchedChatroomID)
			return newError(ErrorInternal, "matched_chatroom_missing", err)
		}
		return newError(ErrorInternal, "dynamodb_read_error", err)
	}
	if !room.HasEntry(entry.ID) {
		slog.ErrorContext(ctx, "chatroom does not list matched entry", "fault", "internal_consistency", "entry_id", entry.ID, "chatroom_id", room.ID)
		return newError(ErrorInternal, "matched_chatroom_mismatch", nil)
	}
	return nil
}

func (s *WaitingRoomService) lookupError(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return newError(ErrorNotFound, "entry_not_found", err)
	}
	return newError(ErrorInternal, "dynamodb_read_error", err)
}

var newUUID = func() string {
	return uuid.NewString()
}
