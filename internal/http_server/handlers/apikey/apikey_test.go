package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crop_price_api/internal/apikey"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreator struct {
	called bool
	key    apikey.CreatedKey
	err    error
}

func (f *fakeCreator) ValidateServiceName(name string) error {
	if name != "frontend-svc" && name != "backend-svc" {
		return fmt.Errorf("%w: service_name must be one of: frontend-svc, backend-svc", apikey.ErrInvalidServiceName)
	}

	return nil
}

func (f *fakeCreator) Create(_ context.Context, serviceName string) (apikey.CreatedKey, error) {
	f.called = true
	if f.err != nil {
		return apikey.CreatedKey{}, f.err
	}

	key := f.key
	key.ServiceName = serviceName

	return key, nil
}

type body struct {
	Status      string   `json:"status"`
	Error       string   `json:"error"`
	Errors      []string `json:"errors"`
	APIKey      string   `json:"api_key"`
	ServiceName string   `json:"service_name"`
}

func do(t *testing.T, creator *fakeCreator, payload string) (*httptest.ResponseRecorder, body) {
	t.Helper()

	validate := validator.New()
	require.NoError(t, RegisterValidation(validate, creator))

	h := New(slog.New(slog.DiscardHandler), validate, creator)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/apikeys", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var b body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))

	return rec, b
}

func TestCreate_OK(t *testing.T) {
	creator := &fakeCreator{key: apikey.CreatedKey{
		APIKey:    "q2Vf3kY8mZ0xW1rT7uP4nL6sB9cD5eH2jK0aG3iF8oM",
		CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}}

	rec, b := do(t, creator, `{"service_name":"frontend-svc"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "ok", b.Status)
	assert.Equal(t, "frontend-svc", b.ServiceName)
	assert.Equal(t, creator.key.APIKey, b.APIKey)
}

func TestCreate_InvalidServiceName(t *testing.T) {
	for _, payload := range []string{`{}`, `{"service_name":"frontend"}`, `{"service_name":"billing-svc"}`} {
		t.Run(payload, func(t *testing.T) {
			creator := &fakeCreator{}

			rec, b := do(t, creator, payload)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, b.Error, "frontend-svc, backend-svc")
			assert.NotEmpty(t, b.Errors)
			assert.False(t, creator.called)
		})
	}
}

func TestCreate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"malformed", `{"service_name":`, nil, http.StatusBadRequest, "failed to decode request"},
		{"already has key", `{"service_name":"backend-svc"}`, apikey.ErrServiceHasKey, http.StatusConflict, apikey.ErrServiceHasKey.Error()},
		{"store down", `{"service_name":"backend-svc"}`, errors.New("apikey.Create: conn reset"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, b := do(t, &fakeCreator{err: tt.err}, tt.payload)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, b.Error)
			assert.Empty(t, b.APIKey)
		})
	}
}
