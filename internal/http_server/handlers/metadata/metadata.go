package metadata

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	resp "crop_price_api/internal/lib/api/response"
	sl "crop_price_api/internal/lib/logger"
	"crop_price_api/internal/metadata"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Response[T any] struct {
	resp.Response
	Payload T `json:"payload"`
}

type MetadataProvider interface {
	Metadata(ctx context.Context, q metadata.Query) ([]metadata.Item, error)
}

type FreshnessProvider interface {
	Freshness(ctx context.Context, tz string) (metadata.Freshness, error)
}

// NewMetadata serves GET /metadata?attribute=crop&language=en.
func NewMetadata(
	log *slog.Logger,
	validate *validator.Validate,
	provider MetadataProvider,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.metadata.NewMetadata"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		params := r.URL.Query()

		req := metadata.Query{
			Attribute: strings.TrimSpace(params.Get("attribute")),
			Language:  strings.TrimSpace(params.Get("language")),
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Info("invalid request", sl.Err(err))

			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		items, err := provider.Metadata(r.Context(), req)
		if err != nil {
			serviceError(w, r, log, err)
			return
		}

		render.JSON(w, r, Response[[]metadata.Item]{
			Response: resp.OK(),
			Payload:  items,
		})
	}
}

// NewFreshness serves GET /freshness?tz=Asia/Colombo.
func NewFreshness(log *slog.Logger, provider FreshnessProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.metadata.NewFreshness"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		freshness, err := provider.Freshness(r.Context(), strings.TrimSpace(r.URL.Query().Get("tz")))
		if err != nil {
			serviceError(w, r, log, err)
			return
		}

		render.JSON(w, r, Response[metadata.Freshness]{
			Response: resp.OK(),
			Payload:  freshness,
		})
	}
}

func serviceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	if metadata.IsClientError(err) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, resp.Error(err.Error()))
		return
	}

	log.Error("failed to load metadata", sl.Err(err))

	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, resp.Error("internal error"))
}
