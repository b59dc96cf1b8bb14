package apikey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	sl "crop_price_api/internal/lib/logger"
	"crop_price_api/internal/lib/security"
	"crop_price_api/internal/models"
	"crop_price_api/internal/storage"

	"github.com/go-chi/chi/middleware"
)

const (
	serviceSuffix = "-svc"

	EventCreated = "api_key.created"
)

var (
	ErrInvalidServiceName = errors.New("invalid service name")
	ErrMissingAPIKey      = errors.New("missing api key")
	ErrInvalidAPIKey      = errors.New("invalid api key")
	ErrAPIKeyInactive     = errors.New("api key is inactive")
	ErrServiceHasKey      = errors.New("service already has an api key")
)

type KeyRepository interface {
	SaveAPIKey(ctx context.Context, serviceName, keyHash string) (models.APIKey, error)
	APIKeyByHash(ctx context.Context, keyHash string) (models.APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, id string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event models.APIKeyEvent) error
}

// CreatedKey carries the plaintext key. It is returned once and never stored.
type CreatedKey struct {
	APIKey      string    `json:"api_key"`
	ServiceName string    `json:"service_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type Service struct {
	log       *slog.Logger
	repo      KeyRepository
	publisher EventPublisher
	allowed   []string
	now       func() time.Time
}

// New builds the service. publisher may be nil, in which case no audit events are sent.
func New(log *slog.Logger, repo KeyRepository, publisher EventPublisher, allowedServices []string) *Service {
	allowed := make([]string, 0, len(allowedServices))
	for _, name := range allowedServices {
		if name = strings.TrimSpace(name); name != "" {
			allowed = append(allowed, name)
		}
	}

	return &Service{
		log:       log,
		repo:      repo,
		publisher: publisher,
		allowed:   allowed,
		now:       time.Now,
	}
}

// ValidateServiceName reports why name cannot own an api key, or nil.
func (s *Service) ValidateServiceName(name string) error {
	name = strings.TrimSpace(name)

	switch {
	case name == "":
		return fmt.Errorf("%w: service_name cannot be empty", ErrInvalidServiceName)
	case !strings.HasSuffix(name, serviceSuffix):
		return fmt.Errorf("%w: service_name must end with %q", ErrInvalidServiceName, serviceSuffix)
	case !slices.Contains(s.allowed, name):
		return fmt.Errorf("%w: service_name must be one of: %s", ErrInvalidServiceName, strings.Join(s.allowed, ", "))
	}

	return nil
}

// Create mints a key for serviceName and stores only its hash.
func (s *Service) Create(ctx context.Context, serviceName string) (CreatedKey, error) {
	const op = "apikey.Create"

	log := s.log.With(
		slog.String("op", op),
		slog.String("service_name", serviceName),
	)

	if err := s.ValidateServiceName(serviceName); err != nil {
		return CreatedKey{}, err
	}

	serviceName = strings.TrimSpace(serviceName)

	key, err := security.GenerateAPIKey()
	if err != nil {
		log.Error("failed to generate api key", sl.Err(err))
		return CreatedKey{}, fmt.Errorf("%s: %w", op, err)
	}

	rec, err := s.repo.SaveAPIKey(ctx, serviceName, security.HashAPIKey(key))
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyExists) {
			log.Warn("service already has an api key")
			return CreatedKey{}, ErrServiceHasKey
		}

		log.Error("failed to save api key", sl.Err(err))
		return CreatedKey{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("api key created", slog.String("key_id", rec.ID))

	s.publish(ctx, log, models.APIKeyEvent{
		Type:        EventCreated,
		KeyID:       rec.ID,
		ServiceName: rec.ServiceName,
		RequestID:   middleware.GetReqID(ctx),
		OccurredAt:  s.now().UTC(),
	})

	return CreatedKey{
		APIKey:      key,
		ServiceName: rec.ServiceName,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

// Verify resolves a presented key to its active record and marks it used.
func (s *Service) Verify(ctx context.Context, presented string) (models.APIKey, error) {
	const op = "apikey.Verify"

	log := s.log.With(slog.String("op", op))

	presented = strings.TrimSpace(presented)
	if presented == "" {
		return models.APIKey{}, ErrMissingAPIKey
	}

	hash := security.HashAPIKey(presented)

	rec, err := s.repo.APIKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			log.Info("unknown api key")
			return models.APIKey{}, ErrInvalidAPIKey
		}

		log.Error("failed to look up api key", sl.Err(err))
		return models.APIKey{}, fmt.Errorf("%s: %w", op, err)
	}

	if !security.EqualHashes(rec.KeyHash, hash) {
		return models.APIKey{}, ErrInvalidAPIKey
	}

	if !rec.IsActive {
		log.Info("inactive api key presented", slog.String("key_id", rec.ID))
		return models.APIKey{}, ErrAPIKeyInactive
	}

	if err := s.repo.TouchAPIKeyLastUsed(ctx, rec.ID); err != nil {
		log.Warn("failed to update last used", slog.String("key_id", rec.ID), sl.Err(err))
	}

	return rec, nil
}

func (s *Service) publish(ctx context.Context, log *slog.Logger, event models.APIKeyEvent) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warn("failed to publish api key event", slog.String("type", event.Type), sl.Err(err))
	}
}
