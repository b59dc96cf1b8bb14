package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"crop_price_api/internal/lib/jwt"
	sl "crop_price_api/internal/lib/logger"
	"crop_price_api/internal/models"
	"crop_price_api/internal/storage"
)

const (
	GrantPassword     = "password"
	GrantRefreshToken = "refresh_token"
)

var (
	ErrInvalidIdentifier  = errors.New("invalid authentication identifier")
	ErrInvalidCredentials = errors.New("invalid authentication credentials")
	ErrUserNotVerified    = errors.New("user account is not verified, please verify your account to proceed")
	ErrUserInactive       = errors.New("user account is inactive, please contact support")
	ErrInvalidTokenType   = errors.New("invalid token type")
	ErrNotAccessToken     = fmt.Errorf("%w, expected an access token", ErrInvalidTokenType)
	ErrNotRefreshToken    = fmt.Errorf("%w, expected a refresh token", ErrInvalidTokenType)
	ErrUnsupportedGrant   = errors.New("invalid grant type or token")
	ErrUserExists         = errors.New("user already exists")
)

const dummyPassword = "crop-price-api/no-such-user"

type Auth struct {
	log         *slog.Logger
	usrSaver    UserSaver
	usrProvider UserProvider
	hasher      PasswordHasher
	tokens      TokenManager

	dummyOnce sync.Once
	dummyHash string
}

type UserSaver interface {
	SaveUser(ctx context.Context, user models.User) (models.User, error)
}

type UserProvider interface {
	UserByIdentifier(ctx context.Context, identifier string) (models.User, error)
	UserByID(ctx context.Context, id string) (models.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, encoded string) (matched bool, rehash string, err error)
}

type TokenManager interface {
	NewTokenPair(identity jwt.Identity) (jwt.TokenPair, error)
	Header(token string) (jwt.Header, error)
	Verify(token string, want jwt.TokenType) (*jwt.Claims, jwt.Header, error)
}

type Credentials struct {
	Identifier string
	Password   string
}

// TokenRequest selects a grant. Credentials are required for the password
// grant, RefreshToken for the refresh grant.
type TokenRequest struct {
	GrantType    string
	Credentials  *Credentials
	RefreshToken string
}

func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	hasher PasswordHasher,
	tokens TokenManager,
) *Auth {
	return &Auth{
		log:         log,
		usrSaver:    userSaver,
		usrProvider: userProvider,
		hasher:      hasher,
		tokens:      tokens,
	}
}

// Token dispatches a token request to the matching grant.
func (a *Auth) Token(ctx context.Context, req TokenRequest) (jwt.TokenPair, error) {
	switch req.GrantType {
	case GrantPassword:
		if req.Credentials == nil {
			return jwt.TokenPair{}, ErrUnsupportedGrant
		}

		return a.Login(ctx, req.Credentials.Identifier, req.Credentials.Password)
	case GrantRefreshToken:
		if req.RefreshToken == "" {
			return jwt.TokenPair{}, ErrUnsupportedGrant
		}

		return a.Refresh(ctx, req.RefreshToken)
	default:
		return jwt.TokenPair{}, ErrUnsupportedGrant
	}
}

// * Login checks the credentials and issues an access and refresh token pair.
func (a *Auth) Login(ctx context.Context, identifier, password string) (jwt.TokenPair, error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.UserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")
			a.verifyDummy(ctx, password)
			return jwt.TokenPair{}, ErrInvalidCredentials
		}

		log.Error("failed to get user", sl.Err(err))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if user.IsDeleted {
		log.Warn("user is deleted", slog.String("uid", user.ID))
		a.verifyDummy(ctx, password)
		return jwt.TokenPair{}, ErrInvalidCredentials
	}

	matched, rehash, err := a.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		if ctx.Err() != nil {
			return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, err)
		}

		log.Error("stored password hash is unusable", slog.String("uid", user.ID), sl.Err(err))
		return jwt.TokenPair{}, ErrInvalidCredentials
	}

	if !matched {
		log.Info("invalid credentials", slog.String("uid", user.ID))
		return jwt.TokenPair{}, ErrInvalidCredentials
	}

	if rehash != "" {
		if err := a.usrProvider.UpdatePasswordHash(ctx, user.ID, rehash); err != nil {
			log.Warn("failed to persist upgraded password hash", slog.String("uid", user.ID), sl.Err(err))
		} else {
			log.Info("password hash upgraded", slog.String("uid", user.ID))
		}
	}

	if err := checkStatus(user); err != nil {
		log.Info("login rejected", slog.String("uid", user.ID), sl.Err(err))
		return jwt.TokenPair{}, err
	}

	pair, err := a.tokens.NewTokenPair(jwt.Identity{ID: user.ID, Email: user.Email})
	if err != nil {
		log.Error("failed to generate tokens", sl.Err(err))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in successfully", slog.String("uid", user.ID))

	return pair, nil
}

// Refresh exchanges a valid refresh token for a new token pair. The user must
// still exist and be allowed to log in.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (jwt.TokenPair, error) {
	const op = "auth.Refresh"

	log := a.log.With(slog.String("op", op))

	claims, _, err := a.verify(refreshToken, jwt.TypeRefresh)
	if err != nil {
		log.Info("refresh token rejected", sl.Err(err))
		return jwt.TokenPair{}, err
	}

	user, err := a.usrProvider.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", slog.String("uid", claims.UserID))
			return jwt.TokenPair{}, ErrInvalidIdentifier
		}

		log.Error("failed to load user", sl.Err(err))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := checkStatus(user); err != nil {
		log.Info("refresh rejected", slog.String("uid", user.ID), sl.Err(err))
		return jwt.TokenPair{}, err
	}

	pair, err := a.tokens.NewTokenPair(jwt.Identity{ID: claims.UserID, Email: claims.Email})
	if err != nil {
		log.Error("failed to generate tokens", sl.Err(err))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("refresh successful", slog.String("uid", user.ID))

	return pair, nil
}

// ValidateAccessToken authenticates a bearer token and returns its claims and header.
func (a *Auth) ValidateAccessToken(ctx context.Context, token string) (*jwt.Claims, jwt.Header, error) {
	const op = "auth.ValidateAccessToken"

	log := a.log.With(slog.String("op", op))

	claims, header, err := a.verify(token, jwt.TypeAccess)
	if err != nil {
		log.Debug("access token rejected", sl.Err(err))
		return nil, nil, err
	}

	user, err := a.usrProvider.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("token subject not found", slog.String("uid", claims.UserID))
			return nil, nil, ErrInvalidIdentifier
		}

		log.Error("failed to load user", sl.Err(err))
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if user.IsDeleted {
		return nil, nil, ErrInvalidIdentifier
	}

	return claims, header, nil
}

// verify checks the unverified header type before any signature work, then
// verifies the token for that type.
func (a *Auth) verify(token string, want jwt.TokenType) (*jwt.Claims, jwt.Header, error) {
	header, err := a.tokens.Header(token)
	if err != nil {
		return nil, nil, err
	}

	if header.Type() != want {
		if want == jwt.TypeAccess {
			return nil, nil, ErrNotAccessToken
		}

		return nil, nil, ErrNotRefreshToken
	}

	return a.tokens.Verify(token, want)
}

// verifyDummy spends the same hashing work as a real verification so that
// unknown and deleted users cost as much as a wrong password.
func (a *Auth) verifyDummy(ctx context.Context, password string) {
	a.dummyOnce.Do(func() {
		hash, err := a.hasher.Hash(context.WithoutCancel(ctx), dummyPassword)
		if err != nil {
			a.log.Error("failed to prepare dummy password hash", sl.Err(err))
			return
		}

		a.dummyHash = hash
	})

	if a.dummyHash == "" {
		return
	}

	_, _, _ = a.hasher.Verify(ctx, password, a.dummyHash)
}

func checkStatus(user models.User) error {
	switch {
	case user.CanLogin():
		return nil
	case user.IsDeleted:
		return ErrInvalidIdentifier
	case !user.IsVerified:
		return ErrUserNotVerified
	default:
		return ErrUserInactive
	}
}

// RegisterNewUser hashes the password and stores a new user. activate marks
// the account verified and active.
func (a *Auth) RegisterNewUser(
	ctx context.Context,
	email string,
	username string,
	pass string,
	activate bool,
) (string, error) {
	const op = "auth.RegisterNewUser"

	log := a.log.With(
		slog.String("op", op),
	)

	log.Info("registering new user")

	passHash, err := a.hasher.Hash(ctx, pass)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.usrSaver.SaveUser(ctx, models.User{
		Email:        email,
		Username:     username,
		PasswordHash: passHash,
		IsActive:     activate,
		IsVerified:   activate,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists")

			return "", fmt.Errorf("%s: %w", op, ErrUserExists)
		}

		log.Error("failed to save user", sl.Err(err))

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return user.ID, nil
}
