// voicebridge is the realtime voice session service: it bridges live callers
// to a conversational-AI backend and exposes an HTTP control surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/aplisay/voicebridge/pkg/api"
	"github.com/aplisay/voicebridge/pkg/backend"
	"github.com/aplisay/voicebridge/pkg/config"
	"github.com/aplisay/voicebridge/pkg/engine"
	"github.com/aplisay/voicebridge/pkg/engine/audio"
	"github.com/aplisay/voicebridge/pkg/metrics"
	"github.com/aplisay/voicebridge/pkg/presence"
	"github.com/aplisay/voicebridge/pkg/store"
	"github.com/aplisay/voicebridge/pkg/webhook"
)

const shutdownGracePeriod = 15 * time.Second

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "voicebridge:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// A missing .env file is fine; real deployments set the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	starterOpts := []backend.Option{}
	if cfg.BaseURL != "" {
		starterOpts = append(starterOpts, backend.WithBaseURL(cfg.BaseURL))
	}
	starter, err := backend.NewClient(cfg.APIKey, starterOpts...)
	if err != nil {
		return err
	}

	var pres engine.Presence
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer client.Close()
		instance := cfg.Instance
		if instance == "" {
			instance, _ = os.Hostname()
		}
		pres = presence.New(client, instance, 0)
		logger.Info("presence enabled", "redis", cfg.RedisAddr)
	}

	var db *store.Store
	if cfg.DatabaseURL != "" {
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("persistence enabled")
	}

	format := audio.Format{SampleRate: cfg.SampleRate, Channels: 1, BitsPerSample: 16}
	model, err := engine.NewModel(engine.Options{
		Starter:      starter,
		Instructions: cfg.Instructions,
		Voice:        cfg.Voice,
		InputFormat:  format,
		OutputFormat: format,
		Logger:       logger,
		Metrics:      m,
		Presence:     pres,
	})
	if err != nil {
		return err
	}

	deps := api.Deps{
		Model:      model,
		Registry:   registry,
		LiveCounts: model,
		Logger:     logger,
	}
	if db != nil {
		deps.Agents = db
		deps.Calls = db
	}
	if cfg.WebhookURL != "" {
		deps.Hooks = webhook.New(cfg.WebhookURL, cfg.WebhookSecret, logger)
		logger.Info("webhook delivery enabled")
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting voicebridge", "addr", cfg.ListenAddr)

	listenErr := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
			return
		}
		listenErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	model.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
