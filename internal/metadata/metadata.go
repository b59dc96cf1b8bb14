package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	// Zone database for images without /usr/share/zoneinfo.
	_ "time/tzdata"

	sl "crop_price_api/internal/lib/logger"
	"crop_price_api/internal/models"
	"crop_price_api/internal/storage"
)

const DefaultTimezone = "UTC"

var (
	ErrUnknownAttribute = errors.New("unknown metadata attribute")
	ErrInvalidTimezone  = errors.New("unknown time zone")
)

type Provider interface {
	Metadata(ctx context.Context, attribute, languageCode string) ([]models.MetadataItem, error)
	DataFreshness(ctx context.Context) (*time.Time, error)
}

type Query struct {
	Attribute string `json:"attribute" validate:"required,oneof=crop crop_category data_source economic_center price_type"`
	Language  string `json:"language" validate:"required,oneof=en ta si"`
}

// Item is one translated reference value.
type Item struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

// Freshness reports when each upstream source was last loaded.
// CBSL is nil until the first load.
type Freshness struct {
	CBSL *time.Time `json:"cbsl"`
}

type Service struct {
	log      *slog.Logger
	provider Provider
}

func New(log *slog.Logger, provider Provider) *Service {
	return &Service{
		log:      log,
		provider: provider,
	}
}

// Metadata lists the ids and translated names of one reference dimension.
func (s *Service) Metadata(ctx context.Context, q Query) ([]Item, error) {
	const op = "metadata.Metadata"

	log := s.log.With(
		slog.String("op", op),
		slog.String("attribute", q.Attribute),
		slog.String("language", q.Language),
	)

	rows, err := s.provider.Metadata(ctx, q.Attribute, q.Language)
	if err != nil {
		if errors.Is(err, storage.ErrUnknownAttribute) {
			return nil, ErrUnknownAttribute
		}

		log.Error("failed to load metadata", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, Item{ID: row.ID, Value: row.Value})
	}

	return items, nil
}

// Freshness returns the last processing time of each source, rendered in tz.
// An empty tz means DefaultTimezone.
func (s *Service) Freshness(ctx context.Context, tz string) (Freshness, error) {
	const op = "metadata.Freshness"

	log := s.log.With(slog.String("op", op))

	if tz == "" {
		tz = DefaultTimezone
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Freshness{}, fmt.Errorf("%w: %s", ErrInvalidTimezone, tz)
	}

	cbsl, err := s.provider.DataFreshness(ctx)
	if err != nil {
		log.Error("failed to load data freshness", sl.Err(err))
		return Freshness{}, fmt.Errorf("%s: %w", op, err)
	}

	var out Freshness
	if cbsl != nil {
		local := cbsl.In(loc)
		out.CBSL = &local
	}

	return out, nil
}

// IsClientError reports whether err was caused by the request rather than the service.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownAttribute) || errors.Is(err, ErrInvalidTimezone)
}
