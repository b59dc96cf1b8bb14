package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const defaultConfigPath = "./config/config.yaml"

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local"`
	Tokens     `yaml:"tokens"`
	Security   `yaml:"security"`
	APIKey     `yaml:"api_key"`
	RabbitMQ   `yaml:"rabbitmq"`
	Postgres   `yaml:"postgres"`
	HTTPServer `yaml:"http_server"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"postgres"`
	Port     int    `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-required:"true"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-required:"true"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-required:"true"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSLMODE" env-default:"disable"`
	MaxConns int32  `yaml:"max_conns" env-default:"10"`
	Migrate  bool   `yaml:"migrate" env:"POSTGRES_MIGRATE" env-default:"true"`
}

// Tokens configures the asymmetric JWT pair. Keys are base64 encoded PEM blocks.
type Tokens struct {
	Algorithm       string        `yaml:"algorithm" env:"TOKEN_ALGORITHM" env-default:"ES256"`
	Issuer          string        `yaml:"issuer" env:"TOKEN_ISSUER" env-default:"auth:appname"`
	Audience        string        `yaml:"audience" env:"TOKEN_AUDIENCE" env-default:"api:appname"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"24h"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"720h"`
	PrivateKey      string        `yaml:"private_key" env:"PRIVATE_KEY" env-required:"true"`
	PublicKey       string        `yaml:"public_key" env:"PUBLIC_KEY" env-required:"true"`
}

type Security struct {
	SecretKey string        `yaml:"secret_key" env:"SECRET_KEY" env-required:"true"`
	CursorTTL time.Duration `yaml:"cursor_ttl" env:"CURSOR_TTL" env-default:"24h"`
	// HashConcurrency bounds parallel password hashing; zero means GOMAXPROCS.
	HashConcurrency int `yaml:"hash_concurrency" env:"HASH_CONCURRENCY" env-default:"0"`
}

type APIKey struct {
	Header          string   `yaml:"header" env:"API_KEY_NAME" env-default:"X-API-KEY"`
	AllowedServices []string `yaml:"allowed_services" env:"API_KEY_ALLOWED_SERVICES" env-default:"frontend-svc,backend-svc"`
}

// RabbitMQ is optional. An empty URL disables API key audit events.
type RabbitMQ struct {
	URL       string `yaml:"url" env:"RABBITMQ_URL"`
	QueueName string `yaml:"queue_name" env:"RABBITMQ_QUEUE" env-default:"api_key_events"`
}

func MustLoad(configPath string) *Config {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = defaultConfigPath
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("Config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return &cfg
}
