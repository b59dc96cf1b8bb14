package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
env: dev
postgres:
  user: crop_price
  password: secret
  dbname: crop_price
tokens:
  private_key: cHJpdg==
  public_key: cHVi
security:
  secret_key: hmac-secret
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestMustLoad_Defaults(t *testing.T) {
	cfg := MustLoad(writeConfig(t, minimalYAML))

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "localhost:8080", cfg.HTTPServer.Address)
	assert.Equal(t, 4*time.Second, cfg.HTTPServer.Timeout)

	assert.Equal(t, "ES256", cfg.Tokens.Algorithm)
	assert.Equal(t, "auth:appname", cfg.Tokens.Issuer)
	assert.Equal(t, "api:appname", cfg.Tokens.Audience)
	assert.Equal(t, 24*time.Hour, cfg.Tokens.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.Tokens.RefreshTokenTTL)

	assert.Equal(t, 24*time.Hour, cfg.Security.CursorTTL)
	assert.Equal(t, "X-API-KEY", cfg.APIKey.Header)
	assert.Equal(t, []string{"frontend-svc", "backend-svc"}, cfg.APIKey.AllowedServices)

	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, int32(10), cfg.Postgres.MaxConns)
	assert.True(t, cfg.Postgres.Migrate)

	assert.Empty(t, cfg.RabbitMQ.URL)
	assert.Equal(t, "api_key_events", cfg.RabbitMQ.QueueName)
}

func TestMustLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL", "15m")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("RABBITMQ_URL", "amqp://guest:guest@mq:5672/")

	cfg := MustLoad(writeConfig(t, minimalYAML))

	assert.Equal(t, 15*time.Minute, cfg.Tokens.AccessTokenTTL)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.RabbitMQ.URL)
}

func TestMustLoad_PathFromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, minimalYAML))

	cfg := MustLoad("")

	assert.Equal(t, "hmac-secret", cfg.Security.SecretKey)
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	})

	assert.Panics(t, func() {
		MustLoad(writeConfig(t, "env: dev\n"))
	}, "required secrets are missing")
}
