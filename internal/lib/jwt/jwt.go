package jwt

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"crop_price_api/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenType string

const (
	TypeAccess  TokenType = "access_token"
	TypeRefresh TokenType = "refresh_token"
)

// HeaderTokenType is the non-standard header field that carries the token purpose.
const HeaderTokenType = "ttyp"

// TokenError describes why a token was rejected. Callers surface Message to clients.
type TokenError struct {
	Message string
	Err     error
}

func (e *TokenError) Error() string {
	return e.Message
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

func tokenError(msg string, err error) *TokenError {
	return &TokenError{Message: msg, Err: err}
}

// Identity is what a token pair is issued for.
type Identity struct {
	ID    string
	Email string
}

type Claims struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type Header map[string]any

func (h Header) Type() TokenType {
	typ, _ := h[HeaderTokenType].(string)

	return TokenType(typ)
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime.
	ExpiresIn time.Duration
}

// Manager issues and verifies access and refresh tokens signed with an asymmetric key pair.
type Manager struct {
	method     jwt.SigningMethod
	privateKey any
	publicKey  any
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
	now        func() time.Time
}

func NewManager(cfg config.Tokens) (*Manager, error) {
	const op = "jwt.NewManager"

	method := jwt.GetSigningMethod(cfg.Algorithm)
	if method == nil {
		return nil, fmt.Errorf("%s: unknown signing algorithm %q", op, cfg.Algorithm)
	}

	privatePEM, err := decodeKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%s: private key: %w", op, err)
	}

	publicPEM, err := decodeKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%s: public key: %w", op, err)
	}

	var privateKey, publicKey any

	switch method.(type) {
	case *jwt.SigningMethodECDSA:
		if privateKey, err = jwt.ParseECPrivateKeyFromPEM(privatePEM); err == nil {
			publicKey, err = jwt.ParseECPublicKeyFromPEM(publicPEM)
		}
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		if privateKey, err = jwt.ParseRSAPrivateKeyFromPEM(privatePEM); err == nil {
			publicKey, err = jwt.ParseRSAPublicKeyFromPEM(publicPEM)
		}
	case *jwt.SigningMethodEd25519:
		if privateKey, err = jwt.ParseEdPrivateKeyFromPEM(privatePEM); err == nil {
			publicKey, err = jwt.ParseEdPublicKeyFromPEM(publicPEM)
		}
	default:
		return nil, fmt.Errorf("%s: algorithm %q is not asymmetric", op, cfg.Algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return nil, fmt.Errorf("%s: refresh token ttl must exceed access token ttl", op)
	}

	return &Manager{
		method:     method,
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		parser:     jwt.NewParser(),
		now:        time.Now,
	}, nil
}

// decodeKey accepts a base64 encoded PEM block or a raw PEM block.
func decodeKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("empty key")
	}

	if strings.HasPrefix(key, "-----BEGIN") {
		return []byte(key), nil
	}

	return base64.StdEncoding.DecodeString(key)
}

// NewTokenPair issues a fresh access and refresh token for identity.
func (m *Manager) NewTokenPair(identity Identity) (TokenPair, error) {
	const op = "jwt.NewTokenPair"

	access, err := m.newToken(identity, TypeAccess, m.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	refresh, err := m.newToken(identity, TypeRefresh, m.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    m.accessTTL,
	}, nil
}

func (m *Manager) newToken(identity Identity, typ TokenType, ttl time.Duration) (string, error) {
	now := m.now()

	claims := Claims{
		UserID: identity.ID,
		Email:  identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   identity.ID,
			Audience:  jwt.ClaimStrings{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		},
	}

	token := jwt.NewWithClaims(m.method, claims)
	token.Header[HeaderTokenType] = string(typ)

	return token.SignedString(m.privateKey)
}

// Header decodes the token header without verifying the signature.
func (m *Manager) Header(token string) (Header, error) {
	parsed, _, err := m.parser.ParseUnverified(token, &Claims{})
	if err != nil {
		return nil, tokenError("invalid jwt header", err)
	}

	return Header(parsed.Header), nil
}

// Verify checks the token signature, standard claims and purpose. A token whose
// ttyp header differs from want is rejected even when its signature is valid.
func (m *Manager) Verify(token string, want TokenType) (*Claims, Header, error) {
	header, err := m.Header(token)
	if err != nil {
		return nil, nil, err
	}
	if header.Type() != want {
		return nil, nil, tokenError(fmt.Sprintf("invalid token type, expected %s", want), jwt.ErrTokenInvalidClaims)
	}

	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.publicKey, nil
	},
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, nil, classify(err)
	}

	switch {
	case claims.IssuedAt == nil:
		return nil, nil, tokenError("missing required claim: iat", jwt.ErrTokenRequiredClaimMissing)
	case claims.NotBefore == nil:
		return nil, nil, tokenError("missing required claim: nbf", jwt.ErrTokenRequiredClaimMissing)
	case claims.RegisteredClaims.ID == "":
		return nil, nil, tokenError("missing required claim: jti", jwt.ErrTokenRequiredClaimMissing)
	case claims.UserID == "":
		return nil, nil, tokenError("missing required claim: id", jwt.ErrTokenRequiredClaimMissing)
	}

	verified := Header(parsed.Header)
	if verified.Type() != want {
		return nil, nil, tokenError(fmt.Sprintf("invalid token type, expected %s", want), jwt.ErrTokenInvalidClaims)
	}

	return claims, verified, nil
}

func classify(err error) *TokenError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return tokenError("token has expired", err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return tokenError("token is not valid yet", err)
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return tokenError("token used before issued", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return tokenError("invalid token issuer", err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return tokenError("invalid token audience", err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return tokenError("missing required claim", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return tokenError("invalid token signature", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return tokenError("malformed token", err)
	default:
		return tokenError("invalid token", err)
	}
}
