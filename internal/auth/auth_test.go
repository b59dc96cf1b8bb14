package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"crop_price_api/internal/lib/jwt"
	"crop_price_api/internal/lib/jwt/jwttest"
	"crop_price_api/internal/lib/passhash"
	"crop_price_api/internal/models"
	"crop_price_api/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastParams = passhash.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type fakeUsers struct {
	mu        sync.Mutex
	byID      map[string]models.User
	updateErr error
	updates   int
}

func newFakeUsers(users ...models.User) *fakeUsers {
	f := &fakeUsers{byID: map[string]models.User{}}
	for _, u := range users {
		f.byID[u.ID] = u
	}

	return f
}

func (f *fakeUsers) SaveUser(_ context.Context, user models.User) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.byID {
		if u.Email == user.Email || u.Username == user.Username {
			return models.User{}, storage.ErrUserExists
		}
	}

	user.ID = "01JBZ7Q4T2N9V6X8K3M5P1R0ZZ"
	f.byID[user.ID] = user

	return user, nil
}

func (f *fakeUsers) UserByIdentifier(_ context.Context, identifier string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.byID {
		if (u.Email == identifier || u.Username == identifier) && !u.IsDeleted {
			return u, nil
		}
	}

	return models.User{}, storage.ErrUserNotFound
}

func (f *fakeUsers) UserByID(_ context.Context, id string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.byID[id]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}

	return u, nil
}

func (f *fakeUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}

	u := f.byID[id]
	u.PasswordHash = hash
	f.byID[id] = u

	return nil
}

type fixture struct {
	auth   *Auth
	users  *fakeUsers
	tokens *jwt.Manager
	hasher *passhash.Hasher
}

func newFixture(t *testing.T, users ...models.User) fixture {
	t.Helper()

	cfg, _ := jwttest.Config(t)
	tokens, err := jwt.NewManager(cfg)
	require.NoError(t, err)

	hasher := passhash.New(fastParams, 2)
	repo := newFakeUsers(users...)

	return fixture{
		auth:   New(slog.New(slog.DiscardHandler), repo, repo, hasher, tokens),
		users:  repo,
		tokens: tokens,
		hasher: hasher,
	}
}

func mustHash(t *testing.T, h *passhash.Hasher, password string) string {
	t.Helper()

	hash, err := h.Hash(context.Background(), password)
	require.NoError(t, err)

	return hash
}

func testUser(t *testing.T, password string, active, verified bool) models.User {
	t.Helper()

	return models.User{
		ID:           "01JBZ7Q4T2N9V6X8K3M5P1R0SD",
		Email:        "jane@example.com",
		Username:     "jane",
		PasswordHash: mustHash(t, passhash.New(fastParams, 1), password),
		IsActive:     active,
		IsVerified:   verified,
	}
}

func TestLogin_ActiveVerifiedUser(t *testing.T) {
	f := newFixture(t, testUser(t, "s3cret", true, true))

	for _, identifier := range []string{"jane@example.com", "jane"} {
		pair, err := f.auth.Token(context.Background(), TokenRequest{
			GrantType:   GrantPassword,
			Credentials: &Credentials{Identifier: identifier, Password: "s3cret"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, pair.AccessToken)
		require.NotEmpty(t, pair.RefreshToken)

		header, err := f.tokens.Header(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, jwt.TypeAccess, header.Type())

		header, err = f.tokens.Header(pair.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, jwt.TypeRefresh, header.Type())

		claims, _, err := f.tokens.Verify(pair.AccessToken, jwt.TypeAccess)
		require.NoError(t, err)
		assert.Equal(t, "01JBZ7Q4T2N9V6X8K3M5P1R0SD", claims.UserID)
		assert.Equal(t, "jane@example.com", claims.Email)
	}
}

func TestLogin_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		user     models.User
		ident    string
		password string
		wantErr  error
		wantKind Kind
	}{
		{
			name:     "unknown user",
			user:     testUser(t, "s3cret", true, true),
			ident:    "nobody",
			password: "s3cret",
			wantErr:  ErrInvalidCredentials,
			wantKind: KindUnauthorized,
		},
		{
			name:     "wrong password",
			user:     testUser(t, "s3cret", true, true),
			ident:    "jane",
			password: "wrong",
			wantErr:  ErrInvalidCredentials,
			wantKind: KindUnauthorized,
		},
		{
			name:     "inactive user",
			user:     testUser(t, "s3cret", false, true),
			ident:    "jane",
			password: "s3cret",
			wantErr:  ErrUserInactive,
			wantKind: KindForbidden,
		},
		{
			name:     "unverified user",
			user:     testUser(t, "s3cret", true, false),
			ident:    "jane",
			password: "s3cret",
			wantErr:  ErrUserNotVerified,
			wantKind: KindForbidden,
		},
		{
			name: "deleted user",
			user: func() models.User {
				u := testUser(t, "s3cret", true, true)
				u.IsDeleted = true
				return u
			}(),
			ident:    "jane",
			password: "s3cret",
			wantErr:  ErrInvalidCredentials,
			wantKind: KindUnauthorized,
		},
		{
			name: "corrupt stored hash",
			user: func() models.User {
				u := testUser(t, "s3cret", true, true)
				u.PasswordHash = "plaintext"
				return u
			}(),
			ident:    "jane",
			password: "plaintext",
			wantErr:  ErrInvalidCredentials,
			wantKind: KindUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.user)

			pair, err := f.auth.Login(context.Background(), tt.ident, tt.password)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Equal(t, tt.wantErr.Error(), Message(err))
			assert.Empty(t, pair.AccessToken)
			assert.Empty(t, pair.RefreshToken)
		})
	}
}

type countingHasher struct {
	PasswordHasher

	mu       sync.Mutex
	verifies int
}

func (c *countingHasher) Verify(ctx context.Context, password, encoded string) (bool, string, error) {
	c.mu.Lock()
	c.verifies++
	c.mu.Unlock()

	return c.PasswordHasher.Verify(ctx, password, encoded)
}

func TestLogin_UnknownAndDeletedLookLikeWrongPassword(t *testing.T) {
	deleted := testUser(t, "s3cret", true, true)
	deleted.ID = "01JBZ7Q4T2N9V6X8K3M5P1R0DL"
	deleted.Email = "gone@example.com"
	deleted.Username = "gone"
	deleted.IsDeleted = true

	cfg, _ := jwttest.Config(t)
	tokens, err := jwt.NewManager(cfg)
	require.NoError(t, err)

	hasher := &countingHasher{PasswordHasher: passhash.New(fastParams, 2)}
	repo := newFakeUsers(testUser(t, "s3cret", true, true), deleted)
	a := New(slog.New(slog.DiscardHandler), repo, repo, hasher, tokens)

	attempts := []struct {
		name     string
		ident    string
		password string
	}{
		{"unknown user", "nobody", "s3cret"},
		{"deleted user", "gone", "s3cret"},
		{"wrong password", "jane", "whatever"},
	}

	messages := map[string]struct{}{}

	for _, at := range attempts {
		before := hasher.verifies

		_, err := a.Login(context.Background(), at.ident, at.password)
		require.Error(t, err, at.name)

		assert.Equal(t, KindUnauthorized, KindOf(err), at.name)
		assert.Equal(t, before+1, hasher.verifies, "%s: password hashing must run", at.name)

		messages[Message(err)] = struct{}{}
	}

	assert.Len(t, messages, 1, "client visible messages must not reveal whether the user exists")
	assert.Contains(t, messages, ErrInvalidCredentials.Error())
}

func TestLogin_PersistsRehash(t *testing.T) {
	old := fastParams
	old.Iterations = 2

	user := testUser(t, "s3cret", true, true)
	user.PasswordHash = mustHash(t, passhash.New(old, 1), "s3cret")

	f := newFixture(t, user)

	_, err := f.auth.Login(context.Background(), "jane", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, 1, f.users.updates)

	stored, err := f.users.UserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, user.PasswordHash, stored.PasswordHash)

	// the upgraded hash is current, so the next login does not rewrite it
	_, err = f.auth.Login(context.Background(), "jane", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, 1, f.users.updates)
}

func TestLogin_RehashFailureDoesNotBlockLogin(t *testing.T) {
	old := fastParams
	old.Memory = 2048

	user := testUser(t, "s3cret", true, true)
	user.PasswordHash = mustHash(t, passhash.New(old, 1), "s3cret")

	f := newFixture(t, user)
	f.users.updateErr = errors.New("connection reset")

	pair, err := f.auth.Login(context.Background(), "jane", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, 1, f.users.updates)
}

func TestRefresh(t *testing.T) {
	user := testUser(t, "s3cret", true, true)
	f := newFixture(t, user)

	pair, err := f.auth.Login(context.Background(), "jane", "s3cret")
	require.NoError(t, err)

	refreshed, err := f.auth.Token(context.Background(), TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: pair.RefreshToken,
	})
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, refreshed.AccessToken)

	claims, _, err := f.tokens.Verify(refreshed.AccessToken, jwt.TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
}

func TestRefresh_WithAccessTokenIsBadRequest(t *testing.T) {
	f := newFixture(t, testUser(t, "s3cret", true, true))

	pair, err := f.auth.Login(context.Background(), "jane", "s3cret")
	require.NoError(t, err)

	_, err = f.auth.Token(context.Background(), TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: pair.AccessToken,
	})
	require.ErrorIs(t, err, ErrInvalidTokenType)
	assert.Equal(t, KindBadRequest, KindOf(err))
	assert.Equal(t, "invalid token type, expected a refresh token", Message(err))
}

func TestRefresh_UserNoLongerAllowed(t *testing.T) {
	user := testUser(t, "s3cret", true, true)
	f := newFixture(t, user)

	pair, err := f.auth.Login(context.Background(), "jane", "s3cret")
	require.NoError(t, err)

	user.IsActive = false
	f.users.byID[user.ID] = user

	_, err = f.auth.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrUserInactive)

	delete(f.users.byID, user.ID)

	_, err = f.auth.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestRefresh_GarbageToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.Refresh(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, KindBadRequest, KindOf(err))
	assert.Equal(t, "invalid jwt header", Message(err))
}

func TestValidateAccessToken(t *testing.T) {
	user := testUser(t, "s3cret", true, true)
	f := newFixture(t, user)

	pair, err := f.auth.Login(context.Background(), "jane", "s3cret")
	require.NoError(t, err)

	claims, header, err := f.auth.ValidateAccessToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, jwt.TypeAccess, header.Type())

	_, _, err = f.auth.ValidateAccessToken(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrNotAccessToken)
	assert.Equal(t, KindBadRequest, KindOf(err))

	delete(f.users.byID, user.ID)

	_, _, err = f.auth.ValidateAccessToken(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidIdentifier)
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestToken_UnsupportedGrant(t *testing.T) {
	f := newFixture(t)

	for _, req := range []TokenRequest{
		{GrantType: "client_credentials"},
		{GrantType: GrantPassword},
		{GrantType: GrantRefreshToken},
	} {
		_, err := f.auth.Token(context.Background(), req)
		assert.ErrorIs(t, err, ErrUnsupportedGrant)
		assert.Equal(t, KindBadRequest, KindOf(err))
	}
}

func TestRegisterNewUser(t *testing.T) {
	f := newFixture(t)

	id, err := f.auth.RegisterNewUser(context.Background(), "admin@example.com", "admin", "pa55word", true)
	require.NoError(t, err)

	pair, err := f.auth.Login(context.Background(), "admin", "pa55word")
	require.NoError(t, err)

	claims, _, err := f.tokens.Verify(pair.AccessToken, jwt.TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)

	_, err = f.auth.RegisterNewUser(context.Background(), "admin@example.com", "admin", "pa55word", true)
	assert.ErrorIs(t, err, ErrUserExists)
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestMessage_HidesInternalErrors(t *testing.T) {
	err := errors.New("pq: password authentication failed for user postgres")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", Message(err))
}
