package auth

import (
	"errors"
	"net/http"

	"crop_price_api/internal/lib/jwt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindConflict
)

func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// KindOf classifies an error returned by Auth so the transport layer can pick a status.
func KindOf(err error) Kind {
	var tokenErr *jwt.TokenError

	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &tokenErr),
		errors.Is(err, ErrInvalidTokenType),
		errors.Is(err, ErrUnsupportedGrant):
		return KindBadRequest
	case errors.Is(err, ErrInvalidIdentifier),
		errors.Is(err, ErrInvalidCredentials):
		return KindUnauthorized
	case errors.Is(err, ErrUserNotVerified),
		errors.Is(err, ErrUserInactive):
		return KindForbidden
	case errors.Is(err, ErrUserExists):
		return KindConflict
	default:
		return KindInternal
	}
}

var public = []error{
	ErrNotAccessToken,
	ErrNotRefreshToken,
	ErrInvalidTokenType,
	ErrUnsupportedGrant,
	ErrInvalidIdentifier,
	ErrInvalidCredentials,
	ErrUserNotVerified,
	ErrUserInactive,
	ErrUserExists,
}

// Message returns the client facing text for err. Internal errors never leak.
func Message(err error) string {
	var tokenErr *jwt.TokenError
	if errors.As(err, &tokenErr) {
		return tokenErr.Message
	}

	for _, e := range public {
		if errors.Is(err, e) {
			return e.Error()
		}
	}

	return "internal error"
}
