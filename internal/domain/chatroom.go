package domain

import (
	"slices"
	"strings"
	"time"
)

// AISenderPrefix marks sender ids that belong to the automated responder.
const AISenderPrefix = "ai-"

// IsAISender reports whether senderID is reserved for the automated responder.
func IsAISender(senderID string) bool {
	return strings.HasPrefix(senderID, AISenderPrefix)
}

// Chatroom is the two-party conversation created by a match. ParticipantIDs
// and EntryIDs never change after creation; LastSeq and LastMessageAt are the
// message sequencing cursor.
type Chatroom struct {
	ID              string
	ParticipantIDs  []string
	EntryIDs        []string
	AIParticipantID string
	CreatedAt       time.Time
	LastSeq         int64
	LastMessageAt   time.Time
}

func (c Chatroom) HasParticipant(id string) bool {
	return slices.Contains(c.ParticipantIDs, id)
}

func (c Chatroom) HasEntry(id string) bool {
	return slices.Contains(c.EntryIDs, id)
}

// Message is a single persisted turn. Seq and CreatedAt both increase strictly
// within a chatroom.
type Message struct {
	ID         string    `json:"id"`
	ChatroomID string    `json:"chatroomId"`
	Seq        int64     `json:"seq"`
	CreatedAt  time.Time `json:"createdAt"`
	SenderID   string    `json:"senderId"`
	Text       string    `json:"text"`
	ReplyTo    string    `json:"replyTo,omitempty"`
}

// FromAI reports whether the message was authored by the automated responder.
func (m Message) FromAI() bool {
	return IsAISender(m.SenderID)
}

// ReplyRequest is the payload handed to the response generator.
type ReplyRequest struct {
	ChatroomID          string `json:"chatroomId"`
	TriggeringMessageID string `json:"triggeringMessageId"`
}
