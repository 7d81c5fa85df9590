// Command announcer pushes match and message notifications to subscribers
// from the waiting-room and messages table streams.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"turing-game/handler"
	"turing-game/internal/bootstrap"
	"turing-game/internal/config"
	"turing-game/internal/usecase"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(config.NewLogger(os.Stdout, true))

	cfg, err := config.LoadAnnouncer()
	if err != nil {
		fatal("invalid configuration", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	repo, err := bootstrap.Repository(awsCfg, cfg.Tables)
	if err != nil {
		fatal("failed to create repository", err)
	}
	notifier, err := bootstrap.Notifier(cfg.Notify)
	if err != nil {
		fatal("failed to create notifier", err)
	}

	announcer, err := usecase.NewAnnouncer(repo, repo, notifier)
	if err != nil {
		fatal("failed to create announcer", err)
	}
	h, err := handler.NewAnnounceHandler(announcer, cfg.Tables.WaitingRoom, cfg.Tables.Messages)
	if err != nil {
		fatal("failed to create announce handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
