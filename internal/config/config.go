package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/PortNumber53/dashmetrics/backend/internal/entitlement"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on.
	ServerAddress string `env:"BACKEND_ADDR" envDefault:":18111"`

	// DatabaseURL is the Postgres DSN used by database/sql. When empty the
	// service runs on the in-memory store.
	DatabaseURL string `env:"DATABASE_URL"`

	RazorpayKeyID     string `env:"RAZORPAY_KEY_ID,required"`
	RazorpayKeySecret string `env:"RAZORPAY_KEY_SECRET,required" json:"-"`
	RazorpayBaseURL   string `env:"RAZORPAY_BASE_URL" envDefault:"https://api.razorpay.com/v1"`

	// GatewayTimeout bounds every call to the payment gateway.
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`

	// RedisURL selects the shared order cache. Empty keeps the cache in process.
	RedisURL      string        `env:"REDIS_URL"`
	OrderCacheTTL time.Duration `env:"ORDER_CACHE_TTL" envDefault:"1h"`

	// FirebaseProjectID enables ID token verification. Empty means every
	// request is anonymous.
	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`

	EntitlementPolicy        string `env:"ENTITLEMENT_POLICY" envDefault:"overwrite"`
	EntitlementStackRenewals bool   `env:"ENTITLEMENT_STACK_RENEWALS" envDefault:"false"`

	CheckoutTTL  time.Duration `env:"CHECKOUT_TTL" envDefault:"30m"`
	SeedDemoData bool          `env:"SEED_DEMO_DATA" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from environment variables, applies defaults, and
// returns a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	cfg.RazorpayKeyID = strings.TrimSpace(cfg.RazorpayKeyID)
	cfg.RazorpayKeySecret = strings.TrimSpace(cfg.RazorpayKeySecret)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the env tags cannot express.
func (c Config) Validate() error {
	if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
		return errors.New("config: RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required")
	}
	if _, err := entitlement.ParseMode(c.EntitlementPolicy); err != nil {
		return fmt.Errorf("config: ENTITLEMENT_POLICY: %w", err)
	}
	if c.GatewayTimeout <= 0 {
		return errors.New("config: GATEWAY_TIMEOUT must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// Policy returns the entitlement policy selected by the environment.
func (c Config) Policy() entitlement.Policy {
	mode, _ := entitlement.ParseMode(c.EntitlementPolicy)
	return entitlement.Policy{Mode: mode, StackRenewals: c.EntitlementStackRenewals}
}

// UsesDatabase reports whether a Postgres DSN was configured.
func (c Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

// DatabaseConfig is the subset of Config the migration tool needs.
type DatabaseConfig struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadDatabase reads only the database settings, so migrations can run
// without gateway credentials.
func LoadDatabase() (DatabaseConfig, error) {
	cfg, err := env.ParseAs[DatabaseConfig]()
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("config: parse environment: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	return cfg, nil
}
