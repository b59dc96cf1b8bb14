package authn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"crop_price_api/internal/apikey"
	"crop_price_api/internal/auth"
	resp "crop_price_api/internal/lib/api/response"
	"crop_price_api/internal/lib/jwt"
	sl "crop_price_api/internal/lib/logger"
	"crop_price_api/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

const bearerScheme = "Bearer"

type ctxKey int

const (
	claimsKey ctxKey = iota
	apiKeyKey
)

type AccessValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*jwt.Claims, jwt.Header, error)
}

type KeyVerifier interface {
	Verify(ctx context.Context, presented string) (models.APIKey, error)
}

// Bearer requires a valid access token in the Authorization header.
func Bearer(log *slog.Logger, validator AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.authn.Bearer"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			token, ok := bearerToken(r)
			if !ok {
				deny(w, r, http.StatusUnauthorized, "not authenticated")
				return
			}

			claims, _, err := validator.ValidateAccessToken(r.Context(), token)
			if err != nil {
				switch kind := auth.KindOf(err); kind {
				case auth.KindInternal:
					log.Error("failed to validate access token", sl.Err(err))

					render.Status(r, http.StatusInternalServerError)
					render.JSON(w, r, resp.Error("internal error"))
				case auth.KindBadRequest:
					log.Info("malformed access token", sl.Err(err))
					deny(w, r, http.StatusBadRequest, auth.Message(err))
				case auth.KindForbidden:
					deny(w, r, http.StatusForbidden, auth.Message(err))
				default:
					log.Info("access token rejected", sl.Err(err))
					deny(w, r, http.StatusUnauthorized, auth.Message(err))
				}

				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKey requires a known, active key in header.
func APIKey(log *slog.Logger, header string, verifier KeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.authn.APIKey"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			key, err := verifier.Verify(r.Context(), r.Header.Get(header))
			if err != nil {
				switch {
				case errors.Is(err, apikey.ErrMissingAPIKey),
					errors.Is(err, apikey.ErrInvalidAPIKey):
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, resp.Error(err.Error()))
				case errors.Is(err, apikey.ErrAPIKeyInactive):
					render.Status(r, http.StatusForbidden)
					render.JSON(w, r, resp.Error(err.Error()))
				default:
					log.Error("failed to verify api key", sl.Err(err))

					render.Status(r, http.StatusInternalServerError)
					render.JSON(w, r, resp.Error("internal error"))
				}

				return
			}

			log.Debug("api key accepted", slog.String("service_name", key.ServiceName))

			ctx := context.WithValue(r.Context(), apiKeyKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*jwt.Claims)
	return claims, ok && claims != nil
}

func APIKeyFromContext(ctx context.Context) (models.APIKey, bool) {
	key, ok := ctx.Value(apiKeyKey).(models.APIKey)
	return key, ok
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}

	token = strings.TrimSpace(token)

	return token, token != ""
}

func deny(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("WWW-Authenticate", bearerScheme)

	render.Status(r, status)
	render.JSON(w, r, resp.Error(msg))
}
