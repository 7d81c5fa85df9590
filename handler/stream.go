package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
)

// entryKind is the kind attribute of waiting-room entry items. Guard items
// share the table and are ignored.
const entryKind = "entry"

// StreamHandler runs the matchmaker for waiting-room table INSERT records.
type StreamHandler struct {
	matcher Matcher
}

func NewStreamHandler(matcher Matcher) (*StreamHandler, error) {
	if matcher == nil {
		return nil, errors.New("handler: matcher must not be nil")
	}
	return &StreamHandler{matcher: matcher}, nil
}

// Handle processes the batch in order and reports every failed record so the
// event source mapping can bisect and redeliver just those.
func (h *StreamHandler) Handle(ctx context.Context, ev events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for _, rec := range ev.Records {
		entryID, ok := insertedEntryID(rec)
		if !ok {
			continue
		}
		res, err := h.matcher.HandleInserted(ctx, entryID)
		if err != nil {
			slog.ErrorContext(ctx, "matchmaking failed", "entry_id", entryID, "event_id", rec.EventID, "err", err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: rec.Change.SequenceNumber,
			})
			continue
		}
		slog.InfoContext(ctx, "matchmaking done", "entry_id", entryID, "outcome", res.Outcome, "chatroom_id", res.ChatroomID)
	}
	return resp, nil
}

func insertedEntryID(rec events.DynamoDBEventRecord) (string, bool) {
	if rec.EventName != string(events.DynamoDBOperationTypeInsert) {
		return "", false
	}
	img := rec.Change.NewImage
	if stringAttr(img, "kind") != entryKind {
		return "", false
	}
	id := stringAttr(img, "id")
	if id == "" {
		slog.Error("insert record without id", "fault", "internal_consistency", "event_id", rec.EventID)
		return "", false
	}
	return id, true
}

func stringAttr(img map[string]events.DynamoDBAttributeValue, name string) string {
	v, ok := img[name]
	if !ok || v.DataType() != events.DataTypeString {
		return ""
	}
	return v.String()
}
