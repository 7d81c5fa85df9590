package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"turing-game/internal/domain"
)

type Announcer interface {
	EntryMatched(ctx context.Context, entryID string) error
	MessageAppended(ctx context.Context, msg domain.Message) error
}

// AnnounceHandler publishes notifications from the waiting-room and messages
// table streams. Stream records of one item key arrive in write order, so
// messages of a chatroom are published in seq order.
type AnnounceHandler struct {
	announcer        Announcer
	waitingRoomTable string
	messagesTable    string
}

func NewAnnounceHandler(announcer Announcer, waitingRoomTable, messagesTable string) (*AnnounceHandler, error) {
	if announcer == nil {
		return nil, errors.New("handler: announcer must not be nil")
	}
	if strings.TrimSpace(waitingRoomTable) == "" || strings.TrimSpace(messagesTable) == "" {
		return nil, errors.New("handler: stream table names must not be empty")
	}
	return &AnnounceHandler{announcer: announcer, waitingRoomTable: waitingRoomTable, messagesTable: messagesTable}, nil
}

// Handle stops at the first failed record and reports it together with the
// rest of the batch, so a retry never publishes a later record first.
func (h *AnnounceHandler) Handle(ctx context.Context, ev events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for i, rec := range ev.Records {
		if err := h.announce(ctx, rec); err != nil {
			slog.ErrorContext(ctx, "announce failed", "event_id", rec.EventID, "event_source_arn", rec.EventSourceArn, "err", err)
			for _, rest := range ev.Records[i:] {
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
					ItemIdentifier: rest.Change.SequenceNumber,
				})
			}
			return resp, nil
		}
	}
	return resp, nil
}

func (h *AnnounceHandler) announce(ctx context.Context, rec events.DynamoDBEventRecord) error {
	switch streamTable(rec.EventSourceArn) {
	case h.waitingRoomTable:
		entryID, ok := matchedEntryID(rec)
		if !ok {
			return nil
		}
		return h.announcer.EntryMatched(ctx, entryID)
	case h.messagesTable:
		if rec.EventName != string(events.DynamoDBOperationTypeInsert) {
			return nil
		}
		msg, err := messageFromImage(rec.Change.NewImage)
		if err != nil {
			slog.ErrorContext(ctx, "undecodable message record", "fault", "internal_consistency", "event_id", rec.EventID, "err", err)
			return nil
		}
		return h.announcer.MessageAppended(ctx, msg)
	default:
		slog.WarnContext(ctx, "record from unexpected stream", "event_source_arn", rec.EventSourceArn)
		return nil
	}
}

// streamTable extracts the table name from a stream ARN of the form
// arn:aws:dynamodb:<region>:<account>:table/<name>/stream/<label>.
func streamTable(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// matchedEntryID accepts MODIFY records of entries whose new status is
// MATCHED. Entries are modified only by the match commit.
func matchedEntryID(rec events.DynamoDBEventRecord) (string, bool) {
	if rec.EventName != string(events.DynamoDBOperationTypeModify) {
		return "", false
	}
	img := rec.Change.NewImage
	if stringAttr(img, "kind") != entryKind || stringAttr(img, "status") != string(domain.StatusMatched) {
		return "", false
	}
	id := stringAttr(img, "id")
	return id, id != ""
}

func messageFromImage(img map[string]events.DynamoDBAttributeValue) (domain.Message, error) {
	msg := domain.Message{
		ID:         stringAttr(img, "id"),
		ChatroomID: stringAttr(img, "chatroomId"),
		SenderID:   stringAttr(img, "senderId"),
		Text:       stringAttr(img, "text"),
		ReplyTo:    stringAttr(img, "replyTo"),
	}
	if msg.ID == "" || msg.ChatroomID == "" {
		return domain.Message{}, errors.New("handler: message image without id or chatroomId")
	}
	seqAttr, ok := img["seq"]
	if !ok || seqAttr.DataType() != events.DataTypeNumber {
		return domain.Message{}, errors.New("handler: message image without seq")
	}
	seq, err := strconv.ParseInt(seqAttr.Number(), 10, 64)
	if err != nil {
		return domain.Message{}, fmt.Errorf("handler: message seq: %w", err)
	}
	msg.Seq = seq
	created, err := time.Parse(time.RFC3339Nano, stringAttr(img, "createdAt"))
	if err != nil {
		return domain.Message{}, fmt.Errorf("handler: message createdAt: %w", err)
	}
	msg.CreatedAt = created
	return msg, nil
}
