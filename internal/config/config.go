// Package config loads server settings from command-line flags, falling
// back to CHAT_* environment variables and then to built-in defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// History backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds everything cmd/server needs to run.
type Config struct {
	ListenAddr     string
	AdminAddr      string
	WSPath         string
	HistoryBackend string
	HistoryLimit   int
	SQLitePath     string
	RedisAddr      string
	RedisTTL       time.Duration
	LogLevel       string
	LogFormat      string
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxFrameSize   int
	OtelStdout     bool
}

var (
	ErrInvalidBackend = errors.New("unknown history backend")
	ErrInvalidLevel   = errors.New("unknown log level")
	ErrInvalidFormat  = errors.New("unknown log format")
	ErrSendBuffer     = errors.New("send buffer must exceed history limit")
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddr:     ":5000",
		AdminAddr:      "",
		WSPath:         "/ws",
		HistoryBackend: BackendMemory,
		HistoryLimit:   100,
		SQLitePath:     "chat.db",
		RedisAddr:      "localhost:6379",
		RedisTTL:       7 * 24 * time.Hour,
		LogLevel:       "info",
		LogFormat:      "text",
		WriteTimeout:   10 * time.Second,
		SendBuffer:     256,
		MaxFrameSize:   1 << 20,
	}
}

// Load parses args (without the program name). getenv supplies the
// environment, normally os.Getenv.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()
	env := envReader{getenv: getenv}

	fs := flag.NewFlagSet("chat-server", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", env.str("CHAT_LISTEN_ADDR", cfg.ListenAddr), "address for TCP and WebSocket clients")
	fs.StringVar(&cfg.AdminAddr, "admin", env.str("CHAT_ADMIN_ADDR", cfg.AdminAddr), "address for the admin HTTP API (empty disables it)")
	fs.StringVar(&cfg.WSPath, "ws-path", env.str("CHAT_WS_PATH", cfg.WSPath), "WebSocket upgrade path")
	fs.StringVar(&cfg.HistoryBackend, "history", env.str("CHAT_HISTORY_BACKEND", cfg.HistoryBackend), "history backend: memory, sqlite or redis")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", env.integer("CHAT_HISTORY_LIMIT", cfg.HistoryLimit), "messages kept per conversation")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", env.str("CHAT_SQLITE_PATH", cfg.SQLitePath), "SQLite database file")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", env.str("CHAT_REDIS_ADDR", cfg.RedisAddr), "Redis address")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", env.duration("CHAT_REDIS_TTL", cfg.RedisTTL), "expiry of messages stored in Redis")
	fs.StringVar(&cfg.LogLevel, "log-level", env.str("CHAT_LOG_LEVEL", cfg.LogLevel), "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", env.str("CHAT_LOG_FORMAT", cfg.LogFormat), "text or json")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", env.duration("CHAT_WRITE_TIMEOUT", cfg.WriteTimeout), "per-frame write timeout")
	fs.IntVar(&cfg.SendBuffer, "send-buffer", env.integer("CHAT_SEND_BUFFER", cfg.SendBuffer), "queued frames per connection")
	fs.IntVar(&cfg.MaxFrameSize, "max-frame", env.integer("CHAT_MAX_FRAME_SIZE", cfg.MaxFrameSize), "largest accepted frame in bytes")
	fs.BoolVar(&cfg.OtelStdout, "otel-stdout", env.boolean("CHAT_OTEL_STDOUT", cfg.OtelStdout), "print trace spans to stdout")

	if err := env.err(); err != nil {
		return Config{}, err
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	switch c.HistoryBackend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.HistoryBackend)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, c.LogFormat)
	}
	if c.ListenAddr == "" {
		return errors.New("listen address must not be empty")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("websocket path %q must start with /", c.WSPath)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send buffer must be positive, got %d", c.SendBuffer)
	}
	// A history replay queues up to HistoryLimit entries plus history_end.
	if c.SendBuffer <= c.HistoryLimit {
		return fmt.Errorf("%w: send buffer %d, history limit %d", ErrSendBuffer, c.SendBuffer, c.HistoryLimit)
	}
	if c.MaxFrameSize <= 0 {
		return fmt.Errorf("max frame size must be positive, got %d", c.MaxFrameSize)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %s", c.WriteTimeout)
	}
	return nil
}

// Level converts LogLevel to a slog level.
func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, c.LogLevel)
}

// envReader reads typed environment defaults and remembers the first
// malformed value.
type envReader struct {
	getenv func(string) string
	first  error
}

func (e *envReader) lookup(key string) (string, bool) {
	if e.getenv == nil {
		return "", false
	}
	v := strings.TrimSpace(e.getenv(key))
	return v, v != ""
}

func (e *envReader) fail(key, value string, err error) {
	if e.first == nil {
		e.first = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}

func (e *envReader) err() error { return e.first }

func (e *envReader) str(key, def string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}
