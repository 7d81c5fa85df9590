// Command devserver runs the whole game in one process: in-memory stores, a
// sharded change feed driving the matchmaker, an in-process reply queue and
// the JSON API. Set REDIS_ADDR to push notifications over Redis pub/sub.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"turing-game/handler"
	"turing-game/internal/bootstrap"
	"turing-game/internal/changefeed"
	"turing-game/internal/config"
	"turing-game/internal/dispatch"
	"turing-game/internal/domain"
	"turing-game/internal/integrations/openai"
	"turing-game/internal/integrations/paramstore"
	"turing-game/internal/integrations/redisbus"
	"turing-game/internal/integrations/secrets"
	"turing-game/internal/memstore"
	"turing-game/internal/notify"
	"turing-game/internal/usecase"
)

const localPersonaParameter = "local/persona"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "err", err)
	}
	slog.SetDefault(config.NewLogger(os.Stdout, false))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.LoadDevServer()); err != nil {
		slog.Error("devserver stopped", "err", err)
		os.Exit(1)
	}
}

// app is the wired local runtime.
type app struct {
	router  http.Handler
	feed    *changefeed.Feed
	replies *dispatch.Local
	closers []func()
}

// start launches the change-feed and reply workers.
func (a *app) start(ctx context.Context) {
	a.feed.Start(ctx)
	a.replies.Start(ctx)
}

// close drains the workers and releases connections, in that order.
func (a *app) close() {
	a.feed.Close()
	a.replies.Close()
	for _, c := range a.closers {
		c()
	}
}

func build(ctx context.Context, cfg config.DevServer) (*app, error) {
	a := &app{}
	store := memstore.New()

	notifier := notify.Multi{notify.Log{}}
	var events handler.EventSource
	if cfg.Notify.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Notify.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Notify.RedisAddr, err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		bus, err := redisbus.New(rdb)
		if err != nil {
			return nil, err
		}
		notifier = append(notifier, bus)
		events = bus
		slog.Info("redis notifications enabled", "addr", cfg.Notify.RedisAddr)
	}

	// ---- Response generator ----
	params := paramstore.Static{}
	responderCfg := bootstrap.ResponderConfig(cfg.Responder)
	responderCfg.PersonaParameter = ""
	if cfg.Persona != "" {
		params[localPersonaParameter] = cfg.Persona
		responderCfg.PersonaParameter = localPersonaParameter
	}
	var llmOpts []openai.Option
	if cfg.Responder.BaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.Responder.BaseURL))
	}
	llm, err := openai.NewClient(secrets.Static(cfg.OpenAIAPIKey), "OPENAI_API_KEY", llmOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("OPENAI_API_KEY not set, every reply will be a fallback")
	}
	// Chat and responder append to the same rooms; one lock set keeps
	// notifications in seq order.
	roomLocks := usecase.NewRoomLocks()
	responder, err := usecase.NewResponder(store, store, params, llm, notifier, responderCfg, usecase.WithRoomLocks(roomLocks))
	if err != nil {
		return nil, err
	}
	replyHandler, err := handler.NewReplyHandler(responder)
	if err != nil {
		return nil, err
	}
	if a.replies, err = dispatch.NewLocal(replyHandler.Handle, cfg.ReplyWorkers, 0); err != nil {
		return nil, err
	}

	// ---- Matchmaking change feed ----
	matcher, err := usecase.NewMatchmaker(store, notifier, cfg.MatchAttempts, cfg.ScanLimit)
	if err != nil {
		return nil, err
	}
	a.feed, err = changefeed.New(cfg.Shards, 0, func(ctx context.Context, ev changefeed.Event) error {
		_, err := matcher.HandleInserted(ctx, ev.Key)
		return err
	})
	if err != nil {
		return nil, err
	}
	// The hook runs with a context detached from the join request.
	store.OnInsert(func(ctx context.Context, entry domain.WaitingRoomEntry) {
		if err := a.feed.Publish(ctx, changefeed.Event{Key: entry.ID, Kind: "INSERT"}); err != nil {
			slog.ErrorContext(ctx, "failed to publish change event", "entry_id", entry.ID, "err", err)
		}
	})

	// ---- HTTP ----
	waitingRoom, err := usecase.NewWaitingRoomService(store, store)
	if err != nil {
		return nil, err
	}
	chat, err := usecase.NewChatService(store, store, notifier, a.replies, cfg.MaxMessageLength, usecase.WithRoomLocks(roomLocks))
	if err != nil {
		return nil, err
	}
	surveys, err := usecase.NewSurveyService(store, store)
	if err != nil {
		return nil, err
	}
	api, err := handler.NewHTTP(
		handler.Services{WaitingRoom: waitingRoom, Chat: chat, Surveys: surveys},
		handler.WithEventSource(events),
	)
	if err != nil {
		return nil, err
	}
	a.router = api.Router()
	return a, nil
}

func run(ctx context.Context, cfg config.DevServer) error {
	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	a.start(ctx)
	defer a.close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("devserver listening", "addr", srv.Addr, "shards", cfg.Shards, "reply_workers", cfg.ReplyWorkers)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("devserver stopped")
	return nil
}
