package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"

	"github.com/omochice/toy-voice-chat/internal/api"
	"github.com/omochice/toy-voice-chat/internal/chat"
	"github.com/omochice/toy-voice-chat/internal/config"
	"github.com/omochice/toy-voice-chat/internal/history"
	"github.com/omochice/toy-voice-chat/internal/otelutil"
	"github.com/omochice/toy-voice-chat/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx := context.Background()
	shutdownTracing, err := otelutil.Init(ctx, otelutil.Options{Stdout: cfg.OtelStdout})
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	sink, closeHistory, err := openHistory(ctx, cfg)
	if err != nil {
		logger.Error("failed to open history store", "backend", cfg.HistoryBackend, "error", err)
		os.Exit(1)
	}

	router := chat.NewRouter(chat.WithLogger(logger), chat.WithHistory(sink))
	srv := server.NewUnifiedServer(router, server.Options{
		Address:      cfg.ListenAddr,
		WSPath:       cfg.WSPath,
		SendBuffer:   cfg.SendBuffer,
		MaxFrameSize: cfg.MaxFrameSize,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger.With("component", "server"),
	})
	if err := srv.Listen(); err != nil {
		logger.Error("failed to listen", "address", cfg.ListenAddr, "error", err)
		os.Exit(1)
	}
	go srv.Serve()
	logger.Info("chat server started",
		"address", srv.Addr(),
		"websocket_path", cfg.WSPath,
		"history", cfg.HistoryBackend,
	)

	// Connections flush their last messages into history and spans, so the
	// store and the exporter close only after the server has stopped.
	ops := map[string]gfshutdown.Operation{
		"chat-server": inOrder(
			func(ctx context.Context) error {
				srv.Stop()
				return nil
			},
			func(ctx context.Context) error {
				return closeHistory()
			},
			gfshutdown.Operation(shutdownTracing),
		),
	}

	if cfg.AdminAddr != "" {
		admin := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           api.NewServer(router, srv, logger.With("component", "api")).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("admin API started", "address", cfg.AdminAddr)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin API failed", "error", err)
			}
		}()
		ops["admin-api"] = func(ctx context.Context) error {
			return admin.Shutdown(ctx)
		}
	}

	wait := gfshutdown.GracefulShutdown(ctx, shutdownTimeout, ops)
	code := <-wait
	logger.Info("chat server stopped", "exit_code", code)
	os.Exit(code)
}

// inOrder runs steps one after another and joins their errors. Steps keep
// running after a failure so every resource gets released.
func inOrder(steps ...gfshutdown.Operation) gfshutdown.Operation {
	return func(ctx context.Context) error {
		var errs []error
		for _, step := range steps {
			if err := step(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// openHistory builds the configured history sink and its cleanup.
func openHistory(ctx context.Context, cfg config.Config) (history.Sink, func() error, error) {
	none := func() error { return nil }

	switch cfg.HistoryBackend {
	case config.BackendSQLite:
		db, err := history.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, err := history.NewSQLStore(db, cfg.HistoryLimit)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return store, sqlDB.Close, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
		}
		return history.NewRedisStore(rdb, cfg.HistoryLimit, cfg.RedisTTL), rdb.Close, nil

	default:
		return history.NewMemoryStore(cfg.HistoryLimit), none, nil
	}
}
