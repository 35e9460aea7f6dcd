package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	// OpsPort serves the local health and metrics endpoints.
	OpsPort string `env:"OPS_PORT, default=9090"`

	// APIBaseURL is the storefront REST backend, e.g. https://api.example.com.
	// The tracking channel scheme (ws/wss) follows this URL's transport
	// security.
	APIBaseURL string `env:"API_BASE_URL, default=https://localhost:8000" validate:"required,url"`

	SessionID string `env:"SESSION_ID" validate:"required"`
	AuthToken string `env:"AUTH_TOKEN"`

	Resolver ResolverConfig
	Tracking TrackingConfig
	Redis    RedisConfig
	GeoIP    GeoIPConfig
}

type ResolverConfig struct {
	Debounce       time.Duration `env:"RESOLVER_DEBOUNCE,        default=600ms" validate:"gt=0"`
	GeocodeTimeout time.Duration `env:"RESOLVER_GEOCODE_TIMEOUT, default=5s"    validate:"gt=0"`
}

type TrackingConfig struct {
	BackoffBase time.Duration `env:"TRACKING_BACKOFF_BASE, default=1s"  validate:"gt=0"`
	BackoffMax  time.Duration `env:"TRACKING_BACKOFF_MAX,  default=30s" validate:"gt=0"`
	MaxAttempts int           `env:"TRACKING_MAX_ATTEMPTS, default=8"   validate:"gt=0"`
	DialTimeout time.Duration `env:"TRACKING_DIAL_TIMEOUT, default=15s" validate:"gt=0"`
}

type RedisConfig struct {
	// Addr is optional; without it bindings are kept in process memory only.
	Addr string `env:"REDIS_ADDR"`
	DB   int    `env:"REDIS_DB, default=0"`
}

type GeoIPConfig struct {
	Endpoint string `env:"GEOIP_ENDPOINT, default=http://ip-api.com/json" validate:"required,url"`
}

// Load reads configuration from environment variables and validates it.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
