package token

import (
	"context"
	"log/slog"
	"net/http"

	"crop_price_api/internal/auth"
	resp "crop_price_api/internal/lib/api/response"
	"crop_price_api/internal/lib/jwt"
	sl "crop_price_api/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const tokenType = "bearer"

type Credentials struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type Request struct {
	GrantType    string       `json:"grant_type" validate:"required,oneof=password refresh_token"`
	Credentials  *Credentials `json:"credentials,omitempty" validate:"required_if=GrantType password"`
	RefreshToken string       `json:"refresh_token,omitempty" validate:"required_if=GrantType refresh_token"`
}

type Response struct {
	resp.Response
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type TokenIssuer interface {
	Token(ctx context.Context, req auth.TokenRequest) (jwt.TokenPair, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	issuer TokenIssuer,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.token.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

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

			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		tokenReq := auth.TokenRequest{
			GrantType:    req.GrantType,
			RefreshToken: req.RefreshToken,
		}
		if req.Credentials != nil {
			tokenReq.Credentials = &auth.Credentials{
				Identifier: req.Credentials.Identifier,
				Password:   req.Credentials.Password,
			}
		}

		pair, err := issuer.Token(r.Context(), tokenReq)
		if err != nil {
			kind := auth.KindOf(err)
			if kind == auth.KindInternal {
				log.Error("failed to issue tokens", sl.Err(err))
			} else {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}

			render.Status(r, kind.HTTPStatus())
			render.JSON(w, r, resp.Error(auth.Message(err)))

			return
		}

		log.Info("tokens issued", slog.String("grant_type", req.GrantType))

		ResponseOK(w, r, pair)
	}
}

func ResponseOK(w http.ResponseWriter, r *http.Request, pair jwt.TokenPair) {
	w.Header().Set("Cache-Control", "no-store")

	render.JSON(w, r, Response{
		Response:     resp.OK(),
		TokenType:    tokenType,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
	})
}
