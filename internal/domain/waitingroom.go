package domain

import "time"

// EntryStatus is the lifecycle state of a waiting-room entry.
type EntryStatus string

const (
	StatusWaiting EntryStatus = "WAITING"
	StatusMatched EntryStatus = "MATCHED"
)

// WaitingRoomEntry is one requester's place in the waiting room.
type WaitingRoomEntry struct {
	ID                string
	RequesterID       string
	JoinedAt          time.Time
	Status            EntryStatus
	MatchedChatroomID string
	MatchedAt         time.Time
}

// Waiting reports whether the entry can still be matched or removed.
func (e WaitingRoomEntry) Waiting() bool {
	return e.Status == StatusWaiting
}

// MatchNotification is published once per entry when a match is committed.
type MatchNotification struct {
	EntryID            string `json:"entryId"`
	RequesterID        string `json:"requesterId"`
	MatchedEntryID     string `json:"matchedEntryId"`
	MatchedRequesterID string `json:"matchedRequesterId"`
	ChatroomID         string `json:"chatroomId"`
}
