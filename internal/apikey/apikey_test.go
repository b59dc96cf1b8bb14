package apikey

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"crop_price_api/internal/lib/security"
	"crop_price_api/internal/models"
	"crop_price_api/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKeys struct {
	byHash   map[string]models.APIKey
	touched  []string
	saveErr  error
	touchErr error
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{byHash: map[string]models.APIKey{}}
}

func (f *fakeKeys) SaveAPIKey(_ context.Context, serviceName, keyHash string) (models.APIKey, error) {
	if f.saveErr != nil {
		return models.APIKey{}, f.saveErr
	}

	for _, k := range f.byHash {
		if k.ServiceName == serviceName {
			return models.APIKey{}, storage.ErrAPIKeyExists
		}
	}

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	k := models.APIKey{
		ID:          "key-" + serviceName,
		ServiceName: serviceName,
		KeyHash:     keyHash,
		IsActive:    true,
		Scopes:      []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.byHash[keyHash] = k

	return k, nil
}

func (f *fakeKeys) APIKeyByHash(_ context.Context, keyHash string) (models.APIKey, error) {
	k, ok := f.byHash[keyHash]
	if !ok {
		return models.APIKey{}, storage.ErrAPIKeyNotFound
	}

	return k, nil
}

func (f *fakeKeys) TouchAPIKeyLastUsed(_ context.Context, id string) error {
	f.touched = append(f.touched, id)

	return f.touchErr
}

type recordingPublisher struct {
	events []models.APIKeyEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event models.APIKeyEvent) error {
	p.events = append(p.events, event)

	return p.err
}

var allowed = []string{"frontend-svc", "backend-svc"}

func newService(repo KeyRepository, pub EventPublisher) *Service {
	return New(slog.New(slog.DiscardHandler), repo, pub, allowed)
}

func TestValidateServiceName(t *testing.T) {
	s := newService(newFakeKeys(), nil)

	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"allowed", "frontend-svc", ""},
		{"allowed with spaces", "  backend-svc ", ""},
		{"empty", "   ", "invalid service name: service_name cannot be empty"},
		{"bad suffix", "frontend", `invalid service name: service_name must end with "-svc"`},
		{"not in allow list", "billing-svc", "invalid service name: service_name must be one of: frontend-svc, backend-svc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ValidateServiceName(tt.input)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, ErrInvalidServiceName)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestCreate(t *testing.T) {
	repo := newFakeKeys()
	pub := &recordingPublisher{}
	s := newService(repo, pub)

	created, err := s.Create(context.Background(), " frontend-svc ")
	require.NoError(t, err)
	assert.Equal(t, "frontend-svc", created.ServiceName)
	assert.Len(t, created.APIKey, 43)

	// only the hash is stored
	stored, ok := repo.byHash[security.HashAPIKey(created.APIKey)]
	require.True(t, ok)
	assert.NotEqual(t, created.APIKey, stored.KeyHash)

	require.Len(t, pub.events, 1)
	assert.Equal(t, EventCreated, pub.events[0].Type)
	assert.Equal(t, stored.ID, pub.events[0].KeyID)
}

func TestCreate_Errors(t *testing.T) {
	repo := newFakeKeys()
	s := newService(repo, nil)

	_, err := s.Create(context.Background(), "billing-svc")
	assert.ErrorIs(t, err, ErrInvalidServiceName)

	_, err = s.Create(context.Background(), "backend-svc")
	require.NoError(t, err)

	_, err = s.Create(context.Background(), "backend-svc")
	assert.ErrorIs(t, err, ErrServiceHasKey)

	repo.saveErr = errors.New("db down")
	_, err = s.Create(context.Background(), "frontend-svc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrServiceHasKey)
}

func TestCreate_PublishFailureIsIgnored(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("channel closed")}
	s := newService(newFakeKeys(), pub)

	created, err := s.Create(context.Background(), "frontend-svc")
	require.NoError(t, err)
	assert.NotEmpty(t, created.APIKey)
	assert.Len(t, pub.events, 1)
}

func TestVerify(t *testing.T) {
	repo := newFakeKeys()
	s := newService(repo, nil)

	created, err := s.Create(context.Background(), "frontend-svc")
	require.NoError(t, err)

	rec, err := s.Verify(context.Background(), created.APIKey)
	require.NoError(t, err)
	assert.Equal(t, "frontend-svc", rec.ServiceName)
	assert.Equal(t, []string{rec.ID}, repo.touched)

	_, err = s.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = s.Verify(context.Background(), created.APIKey+"x")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	hash := security.HashAPIKey(created.APIKey)
	k := repo.byHash[hash]
	k.IsActive = false
	repo.byHash[hash] = k

	_, err = s.Verify(context.Background(), created.APIKey)
	assert.ErrorIs(t, err, ErrAPIKeyInactive)
}

func TestVerify_TouchFailureIsIgnored(t *testing.T) {
	repo := newFakeKeys()
	s := newService(repo, nil)

	created, err := s.Create(context.Background(), "frontend-svc")
	require.NoError(t, err)

	repo.touchErr = errors.New("timeout")

	_, err = s.Verify(context.Background(), created.APIKey)
	assert.NoError(t, err)
}
