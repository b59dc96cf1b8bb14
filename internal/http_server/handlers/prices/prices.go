package prices

import (
	"context"
	"log/slog"
	"net/http"

	resp "crop_price_api/internal/lib/api/response"
	sl "crop_price_api/internal/lib/logger"
	"crop_price_api/internal/prices"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Response[T any] struct {
	resp.Response
	Payload    []T    `json:"payload"`
	NextCursor string `json:"next_cursor,omitempty"`
}

type LatestProvider interface {
	Latest(ctx context.Context, q prices.LatestQuery, cursor string, limit int) (prices.Page[prices.PriceCard], error)
}

type HistoryProvider interface {
	History(ctx context.Context, q prices.HistoryQuery, cursor string, limit int) (prices.Page[prices.DailyPrice], error)
}

// NewLatest serves GET /price-data/latest.
func NewLatest(
	log *slog.Logger,
	validate *validator.Validate,
	provider LatestProvider,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.prices.NewLatest"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		params := r.URL.Query()

		var (
			req prices.LatestQuery
			err error
		)

		req.LanguageCode = params.Get("language_code")
		if req.EconomicCenterID, err = int64Param(params, "economic_center_id"); err != nil {
			badRequest(w, r, err.Error())
			return
		}
		if req.CropIDs, err = int64List(params, "crop_ids"); err != nil {
			badRequest(w, r, err.Error())
			return
		}
		if req.CategoryIDs, err = int64List(params, "category_ids"); err != nil {
			badRequest(w, r, err.Error())
			return
		}

		pg, err := pagingParams(params)
		if err != nil {
			badRequest(w, r, err.Error())
			return
		}

		if !validRequest(w, r, log, validate, req) {
			return
		}

		page, err := provider.Latest(r.Context(), req, pg.cursor, pg.limit)
		if err != nil {
			serviceError(w, r, log, err)
			return
		}

		render.JSON(w, r, Response[prices.PriceCard]{
			Response:   resp.OK(),
			Payload:    page.Items,
			NextCursor: page.NextCursor,
		})
	}
}

// NewHistory serves GET /price-data/history.
func NewHistory(
	log *slog.Logger,
	validate *validator.Validate,
	provider HistoryProvider,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.prices.NewHistory"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		params := r.URL.Query()

		var (
			req prices.HistoryQuery
			err error
		)

		if req.EconomicCenterID, err = int64Param(params, "economic_center_id"); err != nil {
			badRequest(w, r, err.Error())
			return
		}
		if req.CropID, err = int64Param(params, "crop_id"); err != nil {
			badRequest(w, r, err.Error())
			return
		}

		pg, err := pagingParams(params)
		if err != nil {
			badRequest(w, r, err.Error())
			return
		}

		if !validRequest(w, r, log, validate, req) {
			return
		}

		page, err := provider.History(r.Context(), req, pg.cursor, pg.limit)
		if err != nil {
			serviceError(w, r, log, err)
			return
		}

		render.JSON(w, r, Response[prices.DailyPrice]{
			Response:   resp.OK(),
			Payload:    page.Items,
			NextCursor: page.NextCursor,
		})
	}
}

func validRequest(w http.ResponseWriter, r *http.Request, log *slog.Logger, validate *validator.Validate, req any) bool {
	if err := validate.Struct(req); err != nil {
		validateErr := err.(validator.ValidationErrors)

		log.Info("invalid request", sl.Err(err))

		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, resp.ValidationError(validateErr))

		return false
	}

	return true
}

func serviceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	if prices.IsClientError(err) {
		badRequest(w, r, err.Error())
		return
	}

	log.Error("failed to load prices", sl.Err(err))

	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, resp.Error("internal error"))
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, resp.Error(msg))
}
