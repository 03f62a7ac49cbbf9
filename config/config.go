// Package config reads the API settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Environment names accepted in API_ENV
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	Environment string
	ListenAddr  string

	PostgresURI string
	RedisURI    string
	RedisPW     string
	AMQPURI     string // optional, alerts are dropped when empty

	JWTSigningKey string
	JWTAudience   string

	Provider        string
	ProviderToken   string
	ProviderTimeout time.Duration
	CatalogPath     string // optional, the catalog is fetched from the provider when empty

	GatewayURL       string
	GatewayAPIKey    string
	GatewayIPNSecret string
	PublicURL        string
	MinDeposit       decimal.Decimal
	PaymentExpiry    time.Duration

	RateLimitPerMinute int
	CORSOrigins        []string
	SentryDSN          string
}

// Production reports whether API_ENV selects production
func (c *Config) Production() bool {
	return c.Environment == EnvProduction
}

// DotFile returns the .env file matching API_ENV
func DotFile(env string) string {
	if env == EnvProduction {
		return ".env.production"
	}
	return ".env.development"
}

// LoadDotFile loads the .env file for env into the process environment.
// A missing file is not an error.
func LoadDotFile(env string) error {
	name := DotFile(env)
	if _, err := os.Stat(name); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(name); err != nil {
		return extErrors.Wrap(err, "Cannot load configurations from "+name)
	}
	return nil
}

// Load reads the process environment
func Load() (*Config, error) {
	return FromEnv(os.Getenv)
}

// CallbackURL is the webhook URL handed to the payment gateway
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/payments/webhook"
}

// FromEnv builds a Config from getenv and validates it
func FromEnv(getenv func(string) string) (*Config, error) {
	c := &Config{
		Environment:      getenv("API_ENV"),
		ListenAddr:       getenv("LISTEN_ADDR"),
		PostgresURI:      getenv("POSTGRES_URI"),
		RedisURI:         getenv("REDIS_URI"),
		RedisPW:          getenv("REDIS_PW"),
		AMQPURI:          getenv("AMQP_URI"),
		JWTSigningKey:    getenv("JWT_SIGNING_KEY"),
		JWTAudience:      getenv("JWT_AUDIENCE"),
		Provider:         strings.ToLower(getenv("PROVIDER")),
		ProviderToken:    getenv("PROVIDER_TOKEN"),
		CatalogPath:      getenv("CATALOG_PATH"),
		GatewayURL:       getenv("GATEWAY_URL"),
		GatewayAPIKey:    getenv("GATEWAY_API_KEY"),
		GatewayIPNSecret: getenv("GATEWAY_IPN_SECRET"),
		PublicURL:        getenv("PUBLIC_URL"),
		SentryDSN:        getenv("SENTRY_DSN"),
	}
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":42069"
	}
	if c.Provider == "" {
		c.Provider = "linode"
	}
	if c.JWTAudience == "" {
		c.JWTAudience = "authenticated"
	}
	if c.GatewayURL == "" {
		c.GatewayURL = "https://api.nowpayments.io"
	}

	var err error
	if c.ProviderTimeout, err = duration(getenv, "PROVIDER_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if c.PaymentExpiry, err = duration(getenv, "PAYMENT_EXPIRY", 0); err != nil {
		return nil, err
	}
	if c.RateLimitPerMinute, err = integer(getenv, "RATE_LIMIT_PER_MINUTE", 30); err != nil {
		return nil, err
	}
	c.MinDeposit = decimal.RequireFromString("20.00")
	if v := getenv("MIN_DEPOSIT"); v != "" {
		if c.MinDeposit, err = decimal.NewFromString(v); err != nil {
			return nil, fmt.Errorf("MIN_DEPOSIT: %w", err)
		}
	}
	for _, origin := range strings.Split(getenv("CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			c.CORSOrigins = append(c.CORSOrigins, origin)
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"POSTGRES_URI", c.PostgresURI},
		{"REDIS_URI", c.RedisURI},
		{"JWT_SIGNING_KEY", c.JWTSigningKey},
		{"PROVIDER_TOKEN", c.ProviderToken},
		{"GATEWAY_API_KEY", c.GatewayAPIKey},
		{"GATEWAY_IPN_SECRET", c.GatewayIPNSecret},
		{"PUBLIC_URL", c.PublicURL},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if !c.MinDeposit.IsPositive() {
		return fmt.Errorf("MIN_DEPOSIT must be positive")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	return nil
}

func duration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func integer(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
