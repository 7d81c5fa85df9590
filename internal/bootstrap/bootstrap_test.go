package bootstrap

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"turing-game/internal/config"
	"turing-game/internal/integrations/appsync"
	"turing-game/internal/notify"
	"turing-game/internal/usecase"
)

func TestNotifier_LogOnly(t *testing.T) {
	n, err := Notifier(config.Notify{})
	require.NoError(t, err)
	require.Equal(t, notify.Multi{notify.Log{}}, n)
}

func TestNotifier_WithAppSync(t *testing.T) {
	n, err := Notifier(config.Notify{AppSyncURL: "https://example.appsync-api.eu-west-1.amazonaws.com/graphql", AppSyncAPIKey: "da2-key"})
	require.NoError(t, err)
	require.Len(t, n, 2)
	require.IsType(t, &appsync.Notifier{}, n[1])
}

func TestNotifier_Incomplete(t *testing.T) {
	_, err := Notifier(config.Notify{AppSyncURL: "https://example.com/graphql"})
	require.ErrorIs(t, err, config.ErrIncomplete)
}

func TestRepository_RequiresTables(t *testing.T) {
	_, err := Repository(aws.Config{Region: "eu-west-1"}, config.Tables{WaitingRoom: "w"})
	require.Error(t, err)

	c, err := Repository(aws.Config{Region: "eu-west-1"}, config.Tables{WaitingRoom: "w", Chatrooms: "c", Messages: "m", Surveys: "s"})
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestResponderConfig(t *testing.T) {
	got := ResponderConfig(config.Responder{
		Model:              "gpt-4o-mini",
		PersonaParameter:   "/turing/persona",
		CompletionTimeout:  6 * time.Second,
		CompletionAttempts: 3,
		CompletionBackoff:  500 * time.Millisecond,
		HistoryWindow:      30,
		TypingDelayMax:     6 * time.Second,
		WriteReserve:       2 * time.Second,
		SilenceToken:       "Silence1",
	})
	require.Equal(t, usecase.ResponderConfig{
		Model:              "gpt-4o-mini",
		PersonaParameter:   "/turing/persona",
		CompletionTimeout:  6 * time.Second,
		CompletionAttempts: 3,
		CompletionBackoff:  500 * time.Millisecond,
		HistoryWindow:      30,
		TypingDelayMax:     6 * time.Second,
		WriteReserve:       2 * time.Second,
		SilenceToken:       "Silence1",
	}, got)
}
