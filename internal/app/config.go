package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (MOTO_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage   StorageConfig
	Webhook   WebhookConfig
	Notify    NotifyConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// StorageConfig selects and configures the order store.
type StorageConfig struct {
	Driver      string `default:"postgres" usage:"Order store: postgres or memory" flag:"storage-driver"`
	DatabaseURL string `usage:"PostgreSQL connection URL (MOTO_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
}

// WebhookConfig configures the payment gateway webhook endpoint.
type WebhookConfig struct {
	Secret          string        `usage:"Gateway webhook signing secret (required)" flag:"webhook-secret"`
	SignatureHeader string        `default:"X-Square-Hmacsha256-Signature" usage:"Header carrying the webhook signature"`
	NotificationURL string        `usage:"Public webhook URL; prepended to the body when signing" flag:"webhook-url"`
	Timeout         time.Duration `default:"8s" usage:"Upper bound for one reconciliation round trip"`
	MaxBody         int64         `default:"1048576" usage:"Maximum accepted webhook body in bytes"`
}

// NotifyConfig bounds asynchronous order notifications.
type NotifyConfig struct {
	Timeout     time.Duration `default:"3s" usage:"Per-notification delivery timeout"`
	Concurrency int64         `default:"64" usage:"Maximum in-flight notifications"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Requests a client may burst"`
	Window time.Duration `default:"1m"  usage:"Time to refill the bucket completely"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:])
}

func loadConfig(args []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MOTO",
		Args:      args,
		Files:     []string{"config.yaml", "/etc/moto/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration the service cannot start with.
func (c *Config) Validate() error {
	if c.Webhook.Secret == "" {
		return errors.New("webhook signing secret is required: set MOTO_WEBHOOK_SECRET")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required: set MOTO_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's MOTO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		c.Storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
