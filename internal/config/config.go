// Package config reads process configuration from the environment. Only the
// cmd packages call it.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultModel              = "gpt-4o-mini"
	defaultCompletionTimeout  = 6 * time.Second
	defaultCompletionAttempts = 3
	defaultCompletionBackoff  = 500 * time.Millisecond
	defaultHistoryWindow      = 30
	defaultTypingDelayMax     = 6 * time.Second
	defaultWriteReserve       = 2 * time.Second
	defaultSilenceToken       = "Silence1"
	defaultMaxMessageLength   = 1000
	defaultMatchAttempts      = 3
	defaultMatchScanLimit     = 10
	defaultPersonaCacheTTL    = 5 * time.Minute
)

// Tables names the DynamoDB tables.
type Tables struct {
	WaitingRoom string
	Chatrooms   string
	Messages    string
	Surveys     string
}

// Notify selects the push transports. Empty values disable a transport.
type Notify struct {
	AppSyncURL    string
	AppSyncAPIKey string
	RedisAddr     string
}

type API struct {
	Tables           Tables
	ReplyFunction    string
	MaxMessageLength int
}

type Matchmaking struct {
	Tables        Tables
	MatchAttempts int
	ScanLimit     int
}

type Responder struct {
	Tables             Tables
	SecretName         string
	PersonaParameter   string
	PersonaCacheTTL    time.Duration
	Model              string
	BaseURL            string
	CompletionTimeout  time.Duration
	CompletionAttempts int
	CompletionBackoff  time.Duration
	HistoryWindow      int
	TypingDelayMax     time.Duration
	WriteReserve       time.Duration
	SilenceToken       string
}

// Announcer publishes notifications read from the table streams.
type Announcer struct {
	Tables Tables
	Notify Notify
}

type DevServer struct {
	Port             string
	Shards           int
	ReplyWorkers     int
	OpenAIAPIKey     string
	Persona          string
	MaxMessageLength int
	MatchAttempts    int
	ScanLimit        int
	Notify           Notify
	Responder        Responder
}

// missing collects required keys that are unset.
type missing []string

func (m *missing) require(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		*m = append(*m, key)
	}
	return v
}

func (m missing) err() error {
	if len(m) == 0 {
		return nil
	}
	return fmt.Errorf("config: required environment variables not set: %s", strings.Join(m, ", "))
}

func loadTables(m *missing) Tables {
	return Tables{
		WaitingRoom: m.require("WAITING_ROOM_TABLE"),
		Chatrooms:   m.require("CHATROOMS_TABLE"),
		Messages:    m.require("MESSAGES_TABLE"),
		Surveys:     m.require("SURVEY_RESPONSES_TABLE"),
	}
}

func loadNotify() Notify {
	return Notify{
		AppSyncURL:    envOr("APPSYNC_URL", ""),
		AppSyncAPIKey: envOr("APPSYNC_API_KEY", ""),
		RedisAddr:     envOr("REDIS_ADDR", ""),
	}
}

func LoadAPI() (API, error) {
	var m missing
	cfg := API{
		Tables:           loadTables(&m),
		ReplyFunction:    m.require("AI_RESPONSE_FUNCTION"),
		MaxMessageLength: envInt("MAX_MESSAGE_LENGTH", defaultMaxMessageLength),
	}
	return cfg, m.err()
}

func LoadMatchmaking() (Matchmaking, error) {
	var m missing
	cfg := Matchmaking{
		Tables:        loadTables(&m),
		MatchAttempts: envInt("MATCH_ATTEMPTS", defaultMatchAttempts),
		ScanLimit:     envInt("MATCH_SCAN_LIMIT", defaultMatchScanLimit),
	}
	return cfg, m.err()
}

func LoadResponder() (Responder, error) {
	var m missing
	cfg := loadResponderTuning()
	cfg.Tables = loadTables(&m)
	cfg.SecretName = m.require("OPENAI_API_KEY_SECRET_NAME")
	return cfg, m.err()
}

// LoadAnnouncer requires an AppSync endpoint; publishing is the binary's only
// job.
func LoadAnnouncer() (Announcer, error) {
	var m missing
	cfg := Announcer{
		Tables: loadTables(&m),
		Notify: loadNotify(),
	}
	m.require("APPSYNC_URL")
	m.require("APPSYNC_API_KEY")
	return cfg, m.err()
}

func loadResponderTuning() Responder {
	cfg := Responder{
		PersonaParameter:   envOr("AI_PROMPT_PARAMETER", ""),
		PersonaCacheTTL:    envDuration("AI_PROMPT_CACHE_TTL", defaultPersonaCacheTTL),
		Model:              envOr("OPENAI_MODEL", defaultModel),
		BaseURL:            envOr("OPENAI_BASE_URL", ""),
		CompletionTimeout:  envDuration("COMPLETION_TIMEOUT", defaultCompletionTimeout),
		CompletionAttempts: envInt("COMPLETION_ATTEMPTS", defaultCompletionAttempts),
		CompletionBackoff:  envDuration("COMPLETION_BACKOFF", defaultCompletionBackoff),
		HistoryWindow:      envInt("HISTORY_WINDOW", defaultHistoryWindow),
		TypingDelayMax:     envDuration("TYPING_DELAY_MAX", defaultTypingDelayMax),
		WriteReserve:       envDuration("REPLY_WRITE_RESERVE", defaultWriteReserve),
		SilenceToken:       envOr("SILENCE_TOKEN", defaultSilenceToken),
	}
	if !envBool("TYPING_DELAY_ENABLED", true) {
		cfg.TypingDelayMax = 0
	}
	return cfg
}

// LoadDevServer reads the local runtime configuration. Nothing is required;
// without OPENAI_API_KEY every reply falls back to a canned message.
func LoadDevServer() DevServer {
	return DevServer{
		Port:             envOr("PORT", "8080"),
		Shards:           envInt("CHANGEFEED_SHARDS", 4),
		ReplyWorkers:     envInt("REPLY_WORKERS", 4),
		OpenAIAPIKey:     envOr("OPENAI_API_KEY", ""),
		Persona:          envOr("AI_PERSONA", ""),
		MaxMessageLength: envInt("MAX_MESSAGE_LENGTH", defaultMaxMessageLength),
		MatchAttempts:    envInt("MATCH_ATTEMPTS", defaultMatchAttempts),
		ScanLimit:        envInt("MATCH_SCAN_LIMIT", defaultMatchScanLimit),
		Notify:           loadNotify(),
		Responder:        loadResponderTuning(),
	}
}

// NewLogger builds the process logger. Lambdas log JSON so CloudWatch can
// index the keys; local runs use text.
func NewLogger(w io.Writer, jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

// ErrIncomplete is returned by Notify.Validate for a half-configured transport.
var ErrIncomplete = errors.New("config: incomplete notification settings")

// Validate rejects an AppSync URL without API key and vice versa.
func (n Notify) Validate() error {
	if (n.AppSyncURL == "") != (n.AppSyncAPIKey == "") {
		return fmt.Errorf("%w: APPSYNC_URL and APPSYNC_API_KEY must be set together", ErrIncomplete)
	}
	return nil
}
