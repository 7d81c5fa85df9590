// Command matchmaking pairs waiting-room entries from the table's DynamoDB
// stream.
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
	"turing-game/internal/notify"
	"turing-game/internal/usecase"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(config.NewLogger(os.Stdout, true))

	cfg, err := config.LoadMatchmaking()
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
	// Subscribers are notified by the announcer from the table streams.
	notifier := notify.Log{}

	matcher, err := usecase.NewMatchmaker(repo, notifier, cfg.MatchAttempts, cfg.ScanLimit)
	if err != nil {
		fatal("failed to create matchmaker", err)
	}
	h, err := handler.NewStreamHandler(matcher)
	if err != nil {
		fatal("failed to create stream handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
