package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"turing-game/internal/domain"
)

type messageRecord struct {
	ChatroomID string `dynamodbav:"chatroomId"`
	CreatedAt  string `dynamodbav:"createdAt"`
	ID         string `dynamodbav:"id"`
	Seq        int64  `dynamodbav:"seq"`
	SenderID   string `dynamodbav:"senderId"`
	Text       string `dynamodbav:"text"`
	ReplyTo    string `dynamodbav:"replyTo,omitempty"`
}

func toMessageRecord(m domain.Message) messageRecord {
	return messageRecord{
		ChatroomID: m.ChatroomID,
		CreatedAt:  formatTime(m.CreatedAt),
		ID:         m.ID,
		Seq:        m.Seq,
		SenderID:   m.SenderID,
		Text:       m.Text,
		ReplyTo:    m.ReplyTo,
	}
}

func (r messageRecord) toDomain() (domain.Message, error) {
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:         r.ID,
		ChatroomID: r.ChatroomID,
		Seq:        r.Seq,
		CreatedAt:  created,
		SenderID:   r.SenderID,
		Text:       r.Text,
		ReplyTo:    r.ReplyTo,
	}, nil
}

// ListMessages pages through the chatroom's messages in createdAt order.
func (c *Client) ListMessages(ctx context.Context, chatroomID string) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tables.Messages),
		KeyConditionExpression: aws.String("chatroomId = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: chatroomID},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	msgs := make([]domain.Message, 0)
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages query: %w", err)
		}
		var recs []messageRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &recs); err != nil {
			return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
		}
		for _, rec := range recs {
			m, err := rec.toDomain()
			if err != nil {
				return nil, fmt.Errorf("repository: ListMessages decode: %w", err)
			}
			msgs = append(msgs, m)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return msgs, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// AppendMessage advances the chatroom cursor from prevSeq and stores the
// message in one transaction.
func (c *Client) AppendMessage(ctx context.Context, msg domain.Message, prevSeq int64) error {
	item, err := attributevalue.MarshalMap(toMessageRecord(msg))
	if err != nil {
		return fmt.Errorf("repository: AppendMessage marshal: %w", err)
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		ClientRequestToken: aws.String(msg.ID),
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:           aws.String(c.tables.Chatrooms),
					Key:                 stringKey("id", msg.ChatroomID),
					UpdateExpression:    aws.String("SET lastSeq = :next, lastMessageAt = :at"),
					ConditionExpression: aws.String("attribute_exists(id) AND lastSeq = :prev"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":next": &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.Seq, 10)},
						":prev": &types.AttributeValueMemberN{Value: strconv.FormatInt(prevSeq, 10)},
						":at":   &types.AttributeValueMemberS{Value: formatTime(msg.CreatedAt)},
					},
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tables.Messages),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(chatroomId) AND attribute_not_exists(createdAt)"),
				},
			},
		},
	})
	if err != nil {
		return writeError("AppendMessage", err)
	}
	return nil
}
