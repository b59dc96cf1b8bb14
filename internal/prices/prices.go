package prices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crop_price_api/internal/lib/cursor"
	sl "crop_price_api/internal/lib/logger"
	"crop_price_api/internal/models"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

var ErrInvalidLimit = fmt.Errorf("limit must be between 1 and %d", MaxLimit)

type PriceProvider interface {
	LatestPrices(ctx context.Context, filter models.LatestPriceFilter) ([]models.LatestPrice, error)
	PriceHistory(ctx context.Context, filter models.PriceHistoryFilter) ([]models.DailyPrice, error)
}

type CursorCodec interface {
	Encode(expiresIn time.Duration, pos cursor.Position) (string, error)
	Decode(c string) (cursor.Position, error)
}

type LatestQuery struct {
	LanguageCode     string  `json:"language_code" validate:"required,oneof=en ta si"`
	EconomicCenterID int64   `json:"economic_center_id" validate:"required,gt=0"`
	CropIDs          []int64 `json:"crop_ids,omitempty" validate:"omitempty,dive,gt=0"`
	CategoryIDs      []int64 `json:"category_ids,omitempty" validate:"omitempty,dive,gt=0"`
}

type HistoryQuery struct {
	EconomicCenterID int64 `json:"economic_center_id" validate:"required,gt=0"`
	CropID           int64 `json:"crop_id" validate:"required,gt=0"`
}

// Page is one slice of results. NextCursor is empty on the last page.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

type Service struct {
	log       *slog.Logger
	provider  PriceProvider
	cursors   CursorCodec
	cursorTTL time.Duration
}

func New(log *slog.Logger, provider PriceProvider, cursors CursorCodec, cursorTTL time.Duration) *Service {
	return &Service{
		log:       log,
		provider:  provider,
		cursors:   cursors,
		cursorTTL: cursorTTL,
	}
}

// Latest returns today's and yesterday's prices, ordered by view id.
func (s *Service) Latest(ctx context.Context, q LatestQuery, cur string, limit int) (Page[PriceCard], error) {
	const op = "prices.Latest"

	log := s.log.With(slog.String("op", op))

	if limit < 1 || limit > MaxLimit {
		return Page[PriceCard]{}, ErrInvalidLimit
	}

	filter := models.LatestPriceFilter{
		LanguageCode:     q.LanguageCode,
		EconomicCenterID: q.EconomicCenterID,
		CropIDs:          q.CropIDs,
		CategoryIDs:      q.CategoryIDs,
		Limit:            limit,
	}

	if cur != "" {
		pos, err := s.cursors.Decode(cur)
		if err != nil {
			return Page[PriceCard]{}, err
		}

		id, ok := pos.ID()
		if !ok {
			return Page[PriceCard]{}, cursor.ErrInvalidCursor
		}

		filter.AfterID = &id
	}

	rows, err := s.provider.LatestPrices(ctx, filter)
	if err != nil {
		log.Error("failed to load latest prices", sl.Err(err))
		return Page[PriceCard]{}, fmt.Errorf("%s: %w", op, err)
	}

	page := Page[PriceCard]{Items: make([]PriceCard, 0, len(rows))}
	for _, row := range rows {
		page.Items = append(page.Items, NewPriceCard(row))
	}

	if len(rows) == limit {
		next, err := s.cursors.Encode(s.cursorTTL, cursor.AfterID(rows[len(rows)-1].ID))
		if err != nil {
			log.Error("failed to encode cursor", sl.Err(err))
			return Page[PriceCard]{}, fmt.Errorf("%s: %w", op, err)
		}

		page.NextCursor = next
	}

	return page, nil
}

// History returns the past week of prices for one crop, newest first.
func (s *Service) History(ctx context.Context, q HistoryQuery, cur string, limit int) (Page[DailyPrice], error) {
	const op = "prices.History"

	log := s.log.With(slog.String("op", op))

	if limit < 1 || limit > MaxLimit {
		return Page[DailyPrice]{}, ErrInvalidLimit
	}

	filter := models.PriceHistoryFilter{
		EconomicCenterID: q.EconomicCenterID,
		CropID:           q.CropID,
		Limit:            limit,
	}

	if cur != "" {
		pos, err := s.cursors.Decode(cur)
		if err != nil {
			return Page[DailyPrice]{}, err
		}

		date, ok := pos.Date()
		if !ok {
			return Page[DailyPrice]{}, cursor.ErrInvalidCursor
		}

		filter.Before = &date
	}

	rows, err := s.provider.PriceHistory(ctx, filter)
	if err != nil {
		log.Error("failed to load price history", sl.Err(err))
		return Page[DailyPrice]{}, fmt.Errorf("%s: %w", op, err)
	}

	page := Page[DailyPrice]{Items: make([]DailyPrice, 0, len(rows))}
	for _, row := range rows {
		page.Items = append(page.Items, NewDailyPrice(row))
	}

	if len(rows) == limit {
		next, err := s.cursors.Encode(s.cursorTTL, cursor.BeforeDate(rows[len(rows)-1].Date))
		if err != nil {
			log.Error("failed to encode cursor", sl.Err(err))
			return Page[DailyPrice]{}, fmt.Errorf("%s: %w", op, err)
		}

		page.NextCursor = next
	}

	return page, nil
}

// IsClientError reports whether err was caused by the request rather than the service.
func IsClientError(err error) bool {
	return errors.Is(err, cursor.ErrInvalidCursor) || errors.Is(err, ErrInvalidLimit)
}
