package appsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"turing-game/internal/domain"
)

const createMatchMutation = `mutation CreateMatch($entryId: ID!, $matchedEntryId: ID!, $chatroomId: ID!) {
  createMatch(entryId: $entryId, matchedEntryId: $matchedEntryId, chatroomId: $chatroomId) {
    entryId
    matchedEntryId
    chatroomId
  }
}`

const publishMessageMutation = `mutation PublishMessage($input: PublishMessageInput!) {
  publishMessage(input: $input) {
    id
    chatroomId
    seq
    senderId
    text
    createdAt
    replyTo
  }
}`

// createdAtLayout matches the stored message timestamps.
const createdAtLayout = "2006-01-02T15:04:05.000000Z"

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Errors []struct {
		Message   string `json:"message"`
		ErrorType string `json:"errorType"`
	} `json:"errors"`
}

type publishMessageInput struct {
	ID         string `json:"id"`
	ChatroomID string `json:"chatroomId"`
	Seq        int64  `json:"seq"`
	SenderID   string `json:"senderId"`
	Text       string `json:"text"`
	CreatedAt  string `json:"createdAt"`
	ReplyTo    string `json:"replyTo,omitempty"`
}

// HTTPStatusError captures non-2xx responses from the GraphQL endpoint.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("appsync: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Notifier publishes match and message events through subscription-backed
// mutations on an AppSync GraphQL API authenticated by API key.
type Notifier struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Notifier)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(n *Notifier) {
		n.httpClient = httpClient
	}
}

func NewNotifier(url, apiKey string, opts ...Option) (*Notifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("appsync: url must not be empty")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("appsync: api key must not be empty")
	}
	n := &Notifier{url: url, apiKey: apiKey, httpClient: &http.Client{Timeout: 5 * time.Second}}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// MatchCreated runs the createMatch mutation for one side of a match.
func (n *Notifier) MatchCreated(ctx context.Context, m domain.MatchNotification) error {
	return n.mutate(ctx, createMatchMutation, map[string]any{
		"entryId":        m.EntryID,
		"matchedEntryId": m.MatchedEntryID,
		"chatroomId":     m.ChatroomID,
	})
}

// MessageAppended runs the publishMessage mutation for a persisted message.
func (n *Notifier) MessageAppended(ctx context.Context, msg domain.Message) error {
	return n.mutate(ctx, publishMessageMutation, map[string]any{
		"input": publishMessageInput{
			ID:         msg.ID,
			ChatroomID: msg.ChatroomID,
			Seq:        msg.Seq,
			SenderID:   msg.SenderID,
			Text:       msg.Text,
			CreatedAt:  msg.CreatedAt.UTC().Format(createdAtLayout),
			ReplyTo:    msg.ReplyTo,
		},
	})
}

func (n *Notifier) mutate(ctx context.Context, query string, vars map[string]any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("appsync: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("appsync: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", n.apiKey)

	res, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("appsync: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("appsync: read response body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &HTTPStatusError{StatusCode: res.StatusCode, Body: string(raw)}
	}

	var payload graphQLResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("appsync: decode response: %w", err)
	}
	if len(payload.Errors) > 0 {
		msgs := make([]string, 0, len(payload.Errors))
		for _, e := range payload.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("appsync: graphql errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}
