package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"crop_price_api/internal/auth"
	"crop_price_api/internal/config"
	"crop_price_api/internal/lib/jwt"
	sl "crop_price_api/internal/lib/logger"
	"crop_price_api/internal/lib/passhash"
	"crop_price_api/internal/storage/postgres"
)

// seed creates the initial verified and active user. Running it twice is harmless.
func main() {
	cfg := config.MustLoad("")

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	email := os.Getenv("SEED_USER_EMAIL")
	username := os.Getenv("SEED_USER_USERNAME")
	password := os.Getenv("SEED_USER_PASSWORD")

	if email == "" || username == "" || password == "" {
		log.Error("SEED_USER_EMAIL, SEED_USER_USERNAME and SEED_USER_PASSWORD must be set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", sl.Err(err))
		os.Exit(1)
	}
	defer storage.Close()

	if err := storage.Migrate(ctx); err != nil {
		log.Error("failed to apply migrations", sl.Err(err))
		os.Exit(1)
	}

	tokens, err := jwt.NewManager(cfg.Tokens)
	if err != nil {
		log.Error("failed to load token keys", sl.Err(err))
		os.Exit(1)
	}

	authService := auth.New(log, storage, storage, passhash.New(passhash.DefaultParams, 1), tokens)

	id, err := authService.RegisterNewUser(ctx, email, username, password, true)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			log.Info("seed user already exists", slog.String("username", username))
			return
		}

		log.Error("failed to create seed user", sl.Err(err))
		os.Exit(1)
	}

	log.Info("seed user created", slog.String("id", id), slog.String("username", username))
}
