package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"turing-game/internal/domain"
)

// fakeSecrets is a minimal SecretGetter stub for use within this package.
type fakeSecrets struct {
	val   string
	err   error
	calls int
	names []string
}

func (f *fakeSecrets) GetSecret(_ context.Context, name string) (string, error) {
	f.calls++
	f.names = append(f.names, name)
	return f.val, f.err
}

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "openai-key")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")

	_, err = NewClient(&fakeSecrets{}, "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "secret name")

	c, err := NewClient(&fakeSecrets{}, "openai-key")
	require.NoError(t, err)
	require.Equal(t, "https://api.openai.com/v1", c.baseURL)
}

func TestResolveAPIKey_CachesSuccess(t *testing.T) {
	s := &fakeSecrets{val: `{"openai_api_key":"sk-json"}`}
	c, err := NewClient(s, "turing/openai")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		key, err := c.resolveAPIKey(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-json", key)
	}
	require.Equal(t, 1, s.calls)
	require.Equal(t, []string{"turing/openai"}, s.names)
}

func TestResolveAPIKey_RetriesAfterFailure(t *testing.T) {
	s := &fakeSecrets{err: errors.New("AccessDenied")}
	c, err := NewClient(s, "turing/openai")
	require.NoError(t, err)

	_, err = c.resolveAPIKey(context.Background())
	require.ErrorIs(t, err, domain.ErrSecretUnavailable)
	require.ErrorContains(t, err, "AccessDenied")

	s.err = nil
	s.val = "sk-raw"
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-raw", key)
	require.Equal(t, 2, s.calls)
}

func TestParseAPIKey(t *testing.T) {
	key, err := parseAPIKey(`  {"openai_api_key":" sk-1 "} `)
	require.NoError(t, err)
	require.Equal(t, "sk-1", key)

	key, err = parseAPIKey("sk-plain\n")
	require.NoError(t, err)
	require.Equal(t, "sk-plain", key)

	_, err = parseAPIKey(`{"other":"value"}`)
	require.ErrorIs(t, err, domain.ErrSecretUnavailable)
	require.ErrorContains(t, err, "empty")

	_, err = parseAPIKey(`{"broken`)
	require.ErrorIs(t, err, domain.ErrSecretUnavailable)
	require.ErrorContains(t, err, "unmarshal")

	_, err = parseAPIKey("   ")
	require.ErrorIs(t, err, domain.ErrSecretUnavailable)
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	}, opts...)
	c, err := NewClient(&fakeSecrets{val: "sk-test"}, "turing/openai", opts...)
	require.NoError(t, err)
	return c
}

func TestClient_Chat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body chatRequest
		require.NoError(t, json.Unmarshal(raw, &body))
		require.Equal(t, "gpt-4o-mini", body.Model)
		require.Equal(t, []domain.ChatMessage{
			{Role: "system", Content: "persona"},
			{Role: "user", Name: "Player_1", Content: "hi"},
		}, body.Messages)
		require.NotNil(t, body.Temperature)
		require.InDelta(t, 0.9, *body.Temperature, 1e-9)
		require.NotContains(t, string(raw), "response_format")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"created": 1670000000,
			"choices": [{
				"index": 0,
				"message": { "role": "assistant", "content": "hey whats up" }
			}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithTemperature(0.9))
	resp, err := c.Chat(context.Background(), "gpt-4o-mini", []domain.ChatMessage{
		{Role: "system", Content: "persona"},
		{Role: "user", Name: "Player_1", Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "hey whats up", resp)
}

func TestClient_Chat_OmitsUnsetTuning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NotContains(t, string(raw), "temperature")
		require.NotContains(t, string(raw), "max_tokens")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), "gpt-4o-mini", nil)
	require.NoError(t, err)
}

func TestClient_Chat_SecretUnavailable(t *testing.T) {
	c, err := NewClient(&fakeSecrets{err: errors.New("ResourceNotFoundException")}, "turing/openai")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "gpt-4o-mini", nil)
	require.ErrorIs(t, err, domain.ErrSecretUnavailable)
}

func TestClient_Chat_StatusErrors(t *testing.T) {
	for _, status := range []int{400, 429, 500} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		c := newTestClient(t, srv)
		_, err := c.Chat(context.Background(), "gpt-4o-mini", nil)
		srv.Close()

		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, status, statusErr.HTTPStatusCode())
		require.Contains(t, err.Error(), "unexpected status")
	}
}

func TestClient_Chat_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), "gpt-4o-mini", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_Chat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), "gpt-4o-mini", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestClient_Chat_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Chat(ctx, "gpt-4o-mini", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Chat_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeSecrets{val: "sk-test"}, "turing/openai")
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Chat(context.Background(), "gpt-4o-mini", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestClient_Chat_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeSecrets{val: "sk-test"}, "turing/openai")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}
