// Command api serves the client-facing GraphQL fields as an AppSync direct
// Lambda resolver.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"

	"turing-game/handler"
	"turing-game/internal/bootstrap"
	"turing-game/internal/config"
	"turing-game/internal/dispatch"
	"turing-game/internal/notify"
	"turing-game/internal/usecase"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(config.NewLogger(os.Stdout, true))

	// ---- Configuration (read only here) ----
	cfg, err := config.LoadAPI()
	if err != nil {
		fatal("invalid configuration", err)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients ----
	repo, err := bootstrap.Repository(awsCfg, cfg.Tables)
	if err != nil {
		fatal("failed to create repository", err)
	}
	// Subscribers are notified by the announcer from the table streams.
	notifier := notify.Log{}
	dispatcher, err := dispatch.NewLambdaInvoker(awslambda.NewFromConfig(awsCfg), cfg.ReplyFunction)
	if err != nil {
		fatal("failed to create reply dispatcher", err)
	}

	// ---- Services ----
	waitingRoom, err := usecase.NewWaitingRoomService(repo, repo)
	if err != nil {
		fatal("failed to create waiting room service", err)
	}
	chat, err := usecase.NewChatService(repo, repo, notifier, dispatcher, cfg.MaxMessageLength)
	if err != nil {
		fatal("failed to create chat service", err)
	}
	surveys, err := usecase.NewSurveyService(repo, repo)
	if err != nil {
		fatal("failed to create survey service", err)
	}

	// ---- Handler ----
	r, err := handler.NewResolver(handler.Services{WaitingRoom: waitingRoom, Chat: chat, Surveys: surveys})
	if err != nil {
		fatal("failed to create resolver", err)
	}

	lambda.Start(r.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
