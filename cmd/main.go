package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crop_price_api/internal/apikey"
	"crop_price_api/internal/auth"
	"crop_price_api/internal/config"
	apikeyHandler "crop_price_api/internal/http_server/handlers/apikey"
	metadataHandler "crop_price_api/internal/http_server/handlers/metadata"
	pricesHandler "crop_price_api/internal/http_server/handlers/prices"
	"crop_price_api/internal/http_server/handlers/token"
	"crop_price_api/internal/lib/cursor"
	"crop_price_api/internal/lib/jwt"
	sl "crop_price_api/internal/lib/logger"
	"crop_price_api/internal/lib/passhash"
	"crop_price_api/internal/lib/security"
	"crop_price_api/internal/metadata"
	"crop_price_api/internal/middleware/authn"
	"crop_price_api/internal/prices"
	"crop_price_api/internal/rabbitmq"
	"crop_price_api/internal/storage/postgres"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

type services struct {
	auth     *auth.Auth
	apiKeys  *apikey.Service
	prices   *prices.Service
	metadata *metadata.Service
}

func main() {
	cfg := config.MustLoad("")

	log := setupLogger(cfg.Env)

	log.Info("starting crop price api", slog.String("env", cfg.Env))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", sl.Err(err))
		os.Exit(1)
	}
	defer storage.Close()

	if cfg.Postgres.Migrate {
		if err := storage.Migrate(ctx); err != nil {
			log.Error("failed to apply migrations", sl.Err(err))
			os.Exit(1)
		}
	}

	var publisher apikey.EventPublisher
	if cfg.RabbitMQ.URL != "" {
		msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
		if err != nil {
			log.Error("failed to connect rabbitmq", sl.Err(err))
			os.Exit(1)
		}
		defer msgBroker.Close()

		publisher = msgBroker
	} else {
		log.Info("rabbitmq url is empty, api key events are disabled")
	}

	tokens, err := jwt.NewManager(cfg.Tokens)
	if err != nil {
		log.Error("failed to load token keys", sl.Err(err))
		os.Exit(1)
	}

	hasher := passhash.New(passhash.DefaultParams, cfg.Security.HashConcurrency)
	signer := security.NewSigner(cfg.Security.SecretKey)

	svc := services{
		auth:     auth.New(log, storage, storage, hasher, tokens),
		apiKeys:  apikey.New(log, storage, publisher, cfg.APIKey.AllowedServices),
		prices:   prices.New(log, storage, cursor.New(signer), cfg.Security.CursorTTL),
		metadata: metadata.New(log, storage),
	}

	router, err := setupRouter(log, cfg, svc)
	if err != nil {
		log.Error("failed to set up router", sl.Err(err))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("http server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down http server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", sl.Err(err))
	} else {
		log.Info("server stopped gracefully")
	}
}

func setupRouter(log *slog.Logger, cfg *config.Config, svc services) (*chi.Mux, error) {
	validate := validator.New()
	if err := apikeyHandler.RegisterValidation(validate, svc.apiKeys); err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/oauth/token", token.New(log, validate, svc.auth))
		r.Get("/freshness", metadataHandler.NewFreshness(log, svc.metadata))

		r.Group(func(r chi.Router) {
			r.Use(authn.Bearer(log, svc.auth))

			r.Post("/apikeys", apikeyHandler.New(log, validate, svc.apiKeys))
		})

		r.Group(func(r chi.Router) {
			r.Use(authn.APIKey(log, cfg.APIKey.Header, svc.apiKeys))

			r.Get("/price-data/latest", pricesHandler.NewLatest(log, validate, svc.prices))
			r.Get("/price-data/history", pricesHandler.NewHistory(log, validate, svc.prices))
			r.Get("/metadata", metadataHandler.NewMetadata(log, validate, svc.metadata))
		})
	})

	return r, nil
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
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
