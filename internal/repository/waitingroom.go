package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"turing-game/internal/domain"
)

// entryRecord is a waiting-room entry item.
type entryRecord struct {
	ID                string `dynamodbav:"id"`
	Kind              string `dynamodbav:"kind"`
	RequesterID       string `dynamodbav:"requesterId"`
	JoinedAt          string `dynamodbav:"joinedAt"`
	Status            string `dynamodbav:"status"`
	MatchedChatroomID string `dynamodbav:"matchedChatroomId,omitempty"`
	MatchedAt         string `dynamodbav:"matchedAt,omitempty"`
}

// guardRecord pins a requester to its single WAITING entry.
type guardRecord struct {
	ID          string `dynamodbav:"id"`
	Kind        string `dynamodbav:"kind"`
	EntryID     string `dynamodbav:"entryId"`
	RequesterID string `dynamodbav:"requesterId"`
}

func toEntryRecord(e domain.WaitingRoomEntry) entryRecord {
	return entryRecord{
		ID:                e.ID,
		Kind:              kindEntry,
		RequesterID:       e.RequesterID,
		JoinedAt:          formatTime(e.JoinedAt),
		Status:            string(e.Status),
		MatchedChatroomID: e.MatchedChatroomID,
		MatchedAt:         formatTime(e.MatchedAt),
	}
}

func (r entryRecord) toDomain() (domain.WaitingRoomEntry, error) {
	joined, err := parseTime(r.JoinedAt)
	if err != nil {
		return domain.WaitingRoomEntry{}, err
	}
	matched, err := parseTime(r.MatchedAt)
	if err != nil {
		return domain.WaitingRoomEntry{}, err
	}
	return domain.WaitingRoomEntry{
		ID:                r.ID,
		RequesterID:       r.RequesterID,
		JoinedAt:          joined,
		Status:            domain.EntryStatus(r.Status),
		MatchedChatroomID: r.MatchedChatroomID,
		MatchedAt:         matched,
	}, nil
}

// CreateEntry writes the entry and its requester guard in one transaction.
func (c *Client) CreateEntry(ctx context.Context, entry domain.WaitingRoomEntry) error {
	entryItem, err := attributevalue.MarshalMap(toEntryRecord(entry))
	if err != nil {
		return fmt.Errorf("repository: CreateEntry marshal entry: %w", err)
	}
	guardItem, err := attributevalue.MarshalMap(guardRecord{
		ID:          guardID(entry.RequesterID),
		Kind:        kindGuard,
		EntryID:     entry.ID,
		RequesterID: entry.RequesterID,
	})
	if err != nil {
		return fmt.Errorf("repository: CreateEntry marshal guard: %w", err)
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tables.WaitingRoom),
					Item:                entryItem,
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tables.WaitingRoom),
					Item:                guardItem,
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			},
		},
	})
	if err != nil {
		return writeError("CreateEntry", err)
	}
	return nil
}

// GetEntry reads an entry with a strongly consistent read.
func (c *Client) GetEntry(ctx context.Context, entryID string) (domain.WaitingRoomEntry, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tables.WaitingRoom),
		Key:            stringKey("id", entryID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.WaitingRoomEntry{}, fmt.Errorf("repository: GetEntry get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.WaitingRoomEntry{}, fmt.Errorf("repository: GetEntry %s: %w", entryID, domain.ErrNotFound)
	}

	var rec entryRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return domain.WaitingRoomEntry{}, fmt.Errorf("repository: GetEntry unmarshal: %w", err)
	}
	if rec.Kind != kindEntry {
		return domain.WaitingRoomEntry{}, fmt.Errorf("repository: GetEntry %s: %w", entryID, domain.ErrNotFound)
	}
	entry, err := rec.toDomain()
	if err != nil {
		return domain.WaitingRoomEntry{}, fmt.Errorf("repository: GetEntry decode: %w", err)
	}
	return entry, nil
}

// DeleteWaitingEntry removes the entry and its guard while it is still WAITING.
func (c *Client) DeleteWaitingEntry(ctx context.Context, entry domain.WaitingRoomEntry) error {
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Delete: &types.Delete{
					TableName:                 aws.String(c.tables.WaitingRoom),
					Key:                       stringKey("id", entry.ID),
					ConditionExpression:       aws.String("#status = :waiting"),
					ExpressionAttributeNames:  map[string]string{"#status": "status"},
					ExpressionAttributeValues: map[string]types.AttributeValue{":waiting": &types.AttributeValueMemberS{Value: string(domain.StatusWaiting)}},
				},
			},
			c.deleteGuard(entry),
		},
	})
	if err != nil {
		return writeError("DeleteWaitingEntry", err)
	}
	return nil
}

// ListWaiting queries the status index for the oldest WAITING entries. The
// index is eventually consistent.
func (c *Client) ListWaiting(ctx context.Context, limit int) ([]domain.WaitingRoomEntry, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(c.tables.WaitingRoom),
		IndexName:                 aws.String(waitingStatusIndex),
		KeyConditionExpression:    aws.String("#status = :waiting"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":waiting": &types.AttributeValueMemberS{Value: string(domain.StatusWaiting)}},
		ScanIndexForward:          aws.Bool(true),
		Limit:                     aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListWaiting query: %w", err)
	}

	var recs []entryRecord
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &recs); err != nil {
		return nil, fmt.Errorf("repository: ListWaiting unmarshal: %w", err)
	}
	entries := make([]domain.WaitingRoomEntry, 0, len(recs))
	for _, rec := range recs {
		if rec.Kind != kindEntry {
			continue
		}
		e, err := rec.toDomain()
		if err != nil {
			return nil, fmt.Errorf("repository: ListWaiting decode: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CommitMatch flips both entries to MATCHED, creates the chatroom and drops
// both requester guards in a single transaction.
func (c *Client) CommitMatch(ctx context.Context, a, b domain.WaitingRoomEntry, room domain.Chatroom) error {
	roomItem, err := attributevalue.MarshalMap(toChatroomRecord(room))
	if err != nil {
		return fmt.Errorf("repository: CommitMatch marshal chatroom: %w", err)
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		ClientRequestToken: aws.String(room.ID),
		TransactItems: []types.TransactWriteItem{
			c.markMatched(a, room),
			c.markMatched(b, room),
			{
				Put: &types.Put{
					TableName:           aws.String(c.tables.Chatrooms),
					Item:                roomItem,
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			},
			c.deleteGuard(a),
			c.deleteGuard(b),
		},
	})
	if err != nil {
		return writeError("CommitMatch", err)
	}
	return nil
}

func (c *Client) markMatched(e domain.WaitingRoomEntry, room domain.Chatroom) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                aws.String(c.tables.WaitingRoom),
			Key:                      stringKey("id", e.ID),
			UpdateExpression:         aws.String("SET #status = :matched, matchedChatroomId = :room, matchedAt = :at"),
			ConditionExpression:      aws.String("#status = :waiting"),
			ExpressionAttributeNames: map[string]string{"#status": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":matched": &types.AttributeValueMemberS{Value: string(domain.StatusMatched)},
				":waiting": &types.AttributeValueMemberS{Value: string(domain.StatusWaiting)},
				":room":    &types.AttributeValueMemberS{Value: room.ID},
				":at":      &types.AttributeValueMemberS{Value: formatTime(room.CreatedAt)},
			},
		},
	}
}

// deleteGuard tolerates a missing guard but never removes one owned by another entry.
func (c *Client) deleteGuard(e domain.WaitingRoomEntry) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:                 aws.String(c.tables.WaitingRoom),
			Key:                       stringKey("id", guardID(e.RequesterID)),
			ConditionExpression:       aws.String("attribute_not_exists(id) OR entryId = :entry"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":entry": &types.AttributeValueMemberS{Value: e.ID}},
		},
	}
}
