package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"turing-game/internal/domain"
)

// timeLayout is fixed width so lexical order of stored timestamps equals time order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const (
	kindEntry          = "entry"
	kindGuard          = "guard"
	guardPrefix        = "requester#"
	waitingStatusIndex = "status-joinedAt-index"
	educationIndex     = "education-index"
	llmKnowledgeIndex  = "llmKnowledge-index"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Tables names the DynamoDB tables backing each store.
type Tables struct {
	WaitingRoom string
	Chatrooms   string
	Messages    string
	Surveys     string
}

// Client implements the waiting room, chatroom, message and survey stores.
type Client struct {
	api    dynamodbAPI
	tables Tables
}

// New creates a new repository Client.
func New(api dynamodbAPI, tables Tables) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	names := map[string]string{
		"waiting room": tables.WaitingRoom,
		"chatrooms":    tables.Chatrooms,
		"messages":     tables.Messages,
		"surveys":      tables.Surveys,
	}
	for label, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("repository: %s table name must not be empty", label)
		}
	}
	return &Client{api: api, tables: tables}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse time %q: %w", s, err)
	}
	return t, nil
}

func guardID(requesterID string) string {
	return guardPrefix + requesterID
}

func stringKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: &types.AttributeValueMemberS{Value: value}}
}

// conditionFailed reports whether err is a lost conditional write, either a
// failed condition or a transaction conflicting with a concurrent one.
func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for _, r := range tce.CancellationReasons {
		if r.Code == nil {
			continue
		}
		switch *r.Code {
		case "ConditionalCheckFailed", "TransactionConflict":
			return true
		}
	}
	return false
}

// writeError classifies a write failure for the use-case layer.
func writeError(op string, err error) error {
	if conditionFailed(err) {
		return fmt.Errorf("repository: %s: %w: %w", op, domain.ErrConflict, err)
	}
	return fmt.Errorf("repository: %s: %w", op, err)
}
