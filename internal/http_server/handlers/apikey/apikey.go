package apikey

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"crop_price_api/internal/apikey"
	resp "crop_price_api/internal/lib/api/response"
	sl "crop_price_api/internal/lib/logger"
	"crop_price_api/internal/middleware/authn"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const serviceNameTag = "service_name"

type Request struct {
	ServiceName string `json:"service_name" validate:"required,service_name"`
}

type Response struct {
	resp.Response
	apikey.CreatedKey
}

type KeyCreator interface {
	ValidateServiceName(name string) error
	Create(ctx context.Context, serviceName string) (apikey.CreatedKey, error)
}

// RegisterValidation teaches validate the service_name tag used by Request.
func RegisterValidation(validate *validator.Validate, creator KeyCreator) error {
	return validate.RegisterValidation(serviceNameTag, func(fl validator.FieldLevel) bool {
		return creator.ValidateServiceName(fl.Field().String()) == nil
	})
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	creator KeyCreator,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.apikey.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if claims, ok := authn.ClaimsFromContext(r.Context()); ok {
			log = log.With(slog.String("user_id", claims.UserID))
		}

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Info("invalid request", sl.Err(err))

			out := resp.ValidationError(validateErr)
			if nameErr := creator.ValidateServiceName(req.ServiceName); nameErr != nil {
				out.Error = nameErr.Error()
			}

			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, out)

			return
		}

		key, err := creator.Create(r.Context(), req.ServiceName)
		if err != nil {
			switch {
			case errors.Is(err, apikey.ErrInvalidServiceName):
				render.Status(r, http.StatusUnprocessableEntity)
				render.JSON(w, r, resp.Error(err.Error()))
			case errors.Is(err, apikey.ErrServiceHasKey):
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, resp.Error(err.Error()))
			default:
				log.Error("failed to create api key", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("internal error"))
			}

			return
		}

		log.Info("api key issued", slog.String("service_name", key.ServiceName))

		ResponseOK(w, r, key)
	}
}

func ResponseOK(w http.ResponseWriter, r *http.Request, key apikey.CreatedKey) {
	w.Header().Set("Cache-Control", "no-store")

	render.JSON(w, r, Response{
		Response:   resp.OK(),
		CreatedKey: key,
	})
}
