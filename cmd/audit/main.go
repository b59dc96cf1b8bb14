package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"crop_price_api/internal/config"
	sl "crop_price_api/internal/lib/logger"
	"crop_price_api/internal/models"
	"crop_price_api/internal/rabbitmq"
)

const (
	envLocal = "local"
	envDev   = "dev"

	consumerName = "apikey-audit"
)

// audit drains the api key event queue into the structured log.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad("")
	log := setupLogger(cfg.Env)

	log.Info("starting api key audit consumer", slog.String("env", cfg.Env))

	if cfg.RabbitMQ.URL == "" {
		log.Error("rabbitmq url is not configured")
		os.Exit(1)
	}

	r, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to init rabbitmq", sl.Err(err))
		os.Exit(1)
	}
	defer r.Close()

	log.Info("consumer successfully started", slog.String("queue", cfg.RabbitMQ.QueueName))

	err = r.Consume(ctx, consumerName, func(_ context.Context, e models.APIKeyEvent) error {
		log.Info("api key event",
			slog.String("type", e.Type),
			slog.String("key_id", e.KeyID),
			slog.String("service_name", e.ServiceName),
			slog.String("request_id", e.RequestID),
			slog.Time("occurred_at", e.OccurredAt),
		)

		return nil
	})
	if err != nil {
		log.Error("consumer stopped", sl.Err(err))
		return
	}

	log.Info("service gracefully stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
