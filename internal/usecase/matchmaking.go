package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"turing-game/internal/domain"
)

const (
	defaultMatchAttempts = 3
	defaultScanLimit     = 10
)

// MatchOutcome describes what a single matchmaking invocation did.
type MatchOutcome string

const (
	OutcomeMatched        MatchOutcome = "matched"
	OutcomeAlreadyMatched MatchOutcome = "already_matched"
	OutcomeNoPartner      MatchOutcome = "no_partner"
	OutcomeGaveUp         MatchOutcome = "gave_up"
	OutcomeEntryGone      MatchOutcome = "entry_gone"
)

type MatchResult struct {
	Outcome    MatchOutcome
	ChatroomID string
	PartnerID  string
}

// Matchmaker pairs a newly inserted waiting-room entry with the longest
// waiting other entry. It is safe to run concurrently and to redeliver.
type Matchmaker struct {
	entries     WaitingRoomStore
	notifier    Notifier
	maxAttempts int
	scanLimit   int
	now         func() time.Time
}

func NewMatchmaker(entries WaitingRoomStore, notifier Notifier, maxAttempts, scanLimit int) (*Matchmaker, error) {
	if entries == nil {
		return nil, errors.New("usecase: waiting room store must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("usecase: notifier must not be nil")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMatchAttempts
	}
	if scanLimit <= 0 {
		scanLimit = defaultScanLimit
	}
	return &Matchmaker{
		entries:     entries,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		scanLimit:   scanLimit,
		now:         time.Now,
	}, nil
}

// HandleInserted processes one change-feed event for a newly inserted entry.
// A returned error means the event should be redelivered.
func (m *Matchmaker) HandleInserted(ctx context.Context, entryID string) (MatchResult, error) {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return MatchResult{}, newError(ErrorInvalidInput, "empty_entry_id", nil)
	}

	// Candidates that lost a commit in this invocation; the index may keep
	// returning them until it catches up.
	rejected := map[string]bool{entryID: true}

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		trigger, err := m.entries.GetEntry(ctx, entryID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				slog.InfoContext(ctx, "entry left before matching", "entry_id", entryID)
				return MatchResult{Outcome: OutcomeEntryGone}, nil
			}
			return MatchResult{}, newError(ErrorInternal, "dynamodb_read_error", err)
		}
		if !trigger.Waiting() {
			slog.InfoContext(ctx, "entry already matched", "entry_id", entryID, "chatroom_id", trigger.MatchedChatroomID)
			return MatchResult{Outcome: OutcomeAlreadyMatched, ChatroomID: trigger.MatchedChatroomID}, nil
		}

		partner, found, err := m.oldestPartner(ctx, trigger, rejected)
		if err != nil {
			return MatchResult{}, err
		}
		if !found {
			slog.InfoContext(ctx, "no partner waiting", "entry_id", entryID)
			return MatchResult{Outcome: OutcomeNoPartner}, nil
		}

		room := m.newChatroom(partner, trigger)
		err = m.entries.CommitMatch(ctx, partner, trigger, room)
		if err == nil {
			slog.InfoContext(ctx, "match committed", "entry_id", entryID, "partner_entry_id", partner.ID, "chatroom_id", room.ID, "attempt", attempt)
			m.publish(ctx, trigger, partner, room.ID)
			return MatchResult{Outcome: OutcomeMatched, ChatroomID: room.ID, PartnerID: partner.ID}, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return MatchResult{}, newError(ErrorInternal, "dynamodb_transaction_error", err)
		}

		slog.InfoContext(ctx, "match commit lost race, rescanning", "entry_id", entryID, "partner_entry_id", partner.ID, "attempt", attempt)
		rejected[partner.ID] = true
	}

	slog.WarnContext(ctx, "matchmaking gave up, entry stays waiting", "entry_id", entryID, "attempts", m.maxAttempts)
	return MatchResult{Outcome: OutcomeGaveUp}, nil
}

// oldestPartner returns the longest-waiting entry other than trigger.
func (m *Matchmaker) oldestPartner(ctx context.Context, trigger domain.WaitingRoomEntry, rejected map[string]bool) (domain.WaitingRoomEntry, bool, error) {
	waiting, err := m.entries.ListWaiting(ctx, m.scanLimit+len(rejected))
	if err != nil {
		return domain.WaitingRoomEntry{}, false, newError(ErrorInternal, "dynamodb_scan_error", err)
	}
	for _, candidate := range waiting {
		if rejected[candidate.ID] || !candidate.Waiting() {
			continue
		}
		if candidate.RequesterID == trigger.RequesterID {
			continue
		}
		return candidate, true, nil
	}
	return domain.WaitingRoomEntry{}, false, nil
}

// newChatroom lists the older entry first.
func (m *Matchmaker) newChatroom(older, newer domain.WaitingRoomEntry) domain.Chatroom {
	return domain.Chatroom{
		ID:              newUUID(),
		ParticipantIDs:  []string{older.RequesterID, newer.RequesterID},
		EntryIDs:        []string{older.ID, newer.ID},
		AIParticipantID: domain.AISenderPrefix + newUUID(),
		CreatedAt:       m.now().UTC(),
	}
}

// publish notifies both entries. The match is already durable, so failures
// are only logged. Deployments that need delivery guarantees publish through
// the Announcer, which reads the committed match back from the entry stream.
func (m *Matchmaker) publish(ctx context.Context, a, b domain.WaitingRoomEntry, chatroomID string) {
	pairs := [][2]domain.WaitingRoomEntry{{a, b}, {b, a}}
	for _, p := range pairs {
		n := domain.MatchNotification{
			EntryID:            p[0].ID,
			RequesterID:        p[0].RequesterID,
			MatchedEntryID:     p[1].ID,
			MatchedRequesterID: p[1].RequesterID,
			ChatroomID:         chatroomID,
		}
		if err := m.notifier.MatchCreated(ctx, n); err != nil {
			slog.ErrorContext(ctx, "failed to publish match", "err", err, "entry_id", n.EntryID, "chatroom_id", chatroomID)
		}
	}
}
