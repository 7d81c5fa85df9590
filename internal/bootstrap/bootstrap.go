// Package bootstrap builds the collaborators shared by the Lambda binaries
// from loaded configuration.
package bootstrap

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"turing-game/internal/config"
	"turing-game/internal/integrations/appsync"
	"turing-game/internal/notify"
	"turing-game/internal/repository"
	"turing-game/internal/usecase"
)

// Repository connects the DynamoDB store to the configured tables.
func Repository(awsCfg aws.Config, tables config.Tables) (*repository.Client, error) {
	return repository.New(awsdynamodb.NewFromConfig(awsCfg), repository.Tables{
		WaitingRoom: tables.WaitingRoom,
		Chatrooms:   tables.Chatrooms,
		Messages:    tables.Messages,
		Surveys:     tables.Surveys,
	})
}

// Notifier always logs notifications and also pushes them through AppSync
// when an endpoint is configured. Only the announcer pushes; the other
// binaries log and leave publishing to the table streams.
func Notifier(cfg config.Notify) (notify.Multi, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := notify.Multi{notify.Log{}}
	if cfg.AppSyncURL == "" {
		return out, nil
	}
	n, err := appsync.NewNotifier(cfg.AppSyncURL, cfg.AppSyncAPIKey)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: appsync notifier: %w", err)
	}
	return append(out, n), nil
}

func ResponderConfig(cfg config.Responder) usecase.ResponderConfig {
	return usecase.ResponderConfig{
		Model:              cfg.Model,
		PersonaParameter:   cfg.PersonaParameter,
		CompletionTimeout:  cfg.CompletionTimeout,
		CompletionAttempts: cfg.CompletionAttempts,
		CompletionBackoff:  cfg.CompletionBackoff,
		HistoryWindow:      cfg.HistoryWindow,
		TypingDelayMax:     cfg.TypingDelayMax,
		WriteReserve:       cfg.WriteReserve,
		SilenceToken:       cfg.SilenceToken,
	}
}
