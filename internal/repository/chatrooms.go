package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"turing-game/internal/domain"
)

type chatroomRecord struct {
	ID              string   `dynamodbav:"id"`
	ParticipantIDs  []string `dynamodbav:"participantIds"`
	EntryIDs        []string `dynamodbav:"entryIds"`
	AIParticipantID string   `dynamodbav:"aiParticipantId"`
	CreatedAt       string   `dynamodbav:"createdAt"`
	LastSeq         int64    `dynamodbav:"lastSeq"`
	LastMessageAt   string   `dynamodbav:"lastMessageAt,omitempty"`
}

func toChatroomRecord(r domain.Chatroom) chatroomRecord {
	return chatroomRecord{
		ID:              r.ID,
		ParticipantIDs:  r.ParticipantIDs,
		EntryIDs:        r.EntryIDs,
		AIParticipantID: r.AIParticipantID,
		CreatedAt:       formatTime(r.CreatedAt),
		LastSeq:         r.LastSeq,
		LastMessageAt:   formatTime(r.LastMessageAt),
	}
}

func (r chatroomRecord) toDomain() (domain.Chatroom, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.Chatroom{}, err
	}
	last, err := parseTime(r.LastMessageAt)
	if err != nil {
		return domain.Chatroom{}, err
	}
	return domain.Chatroom{
		ID:              r.ID,
		ParticipantIDs:  r.ParticipantIDs,
		EntryIDs:        r.EntryIDs,
		AIParticipantID: r.AIParticipantID,
		CreatedAt:       created,
		LastSeq:         r.LastSeq,
		LastMessageAt:   last,
	}, nil
}

// GetChatroom reads a chatroom and its sequencing cursor with a strongly consistent read.
func (c *Client) GetChatroom(ctx context.Context, chatroomID string) (domain.Chatroom, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tables.Chatrooms),
		Key:            stringKey("id", chatroomID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Chatroom{}, fmt.Errorf("repository: GetChatroom get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Chatroom{}, fmt.Errorf("repository: GetChatroom %s: %w", chatroomID, domain.ErrNotFound)
	}

	var rec chatroomRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return domain.Chatroom{}, fmt.Errorf("repository: GetChatroom unmarshal: %w", err)
	}
	room, err := rec.toDomain()
	if err != nil {
		return domain.Chatroom{}, fmt.Errorf("repository: GetChatroom decode: %w", err)
	}
	return room, nil
}
