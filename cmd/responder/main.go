// Command responder writes the AI turn for a chatroom. It is invoked
// asynchronously by the api function after every human message.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssecrets "github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"turing-game/handler"
	"turing-game/internal/bootstrap"
	"turing-game/internal/config"
	"turing-game/internal/integrations/openai"
	"turing-game/internal/integrations/paramstore"
	"turing-game/internal/integrations/secrets"
	"turing-game/internal/notify"
	"turing-game/internal/usecase"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(config.NewLogger(os.Stdout, true))

	cfg, err := config.LoadResponder()
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
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), paramstore.WithCacheTTL(cfg.PersonaCacheTTL))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	secretStore, err := secrets.New(awssecrets.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create secrets client", err)
	}

	var opts []openai.Option
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.NewClient(secretStore, cfg.SecretName, opts...)
	if err != nil {
		fatal("failed to create OpenAI client", err)
	}

	responder, err := usecase.NewResponder(repo, repo, params, llm, notifier, bootstrap.ResponderConfig(cfg))
	if err != nil {
		fatal("failed to create responder", err)
	}
	h, err := handler.NewReplyHandler(responder)
	if err != nil {
		fatal("failed to create reply handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
