package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName           = "BizLedger"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultProviderTimeout   = 30 * time.Second
	defaultProviderRetries   = 3
	defaultProviderBackoff   = 500 * time.Millisecond
	defaultProviderRPS       = 10
	defaultBankCacheTTL      = 6 * time.Hour
	defaultWebhookAttempts   = 3
	defaultReconcileEvery    = time.Hour
	defaultPayoutRateLimit   = 30
	defaultReferencePrefix   = "BZL"
	defaultDBMaxConns        = 10
	defaultFincraBaseURL     = "https://api.fincra.com"
	defaultPaystackBaseURL   = "https://api.paystack.co"
	defaultNotificationTopic = "bizledger.notifications"
)

// ProviderConfig is the explicit configuration handed to a payout provider constructor.
type ProviderConfig struct {
	Slug          string
	BaseURL       string
	APIKey        string
	BusinessID    string
	WebhookSecret string
	Currencies    []string
	Timeout       time.Duration
	Retries       int
	Backoff       time.Duration
	RPS           float64
}

// Enabled reports whether credentials were supplied for the provider.
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	DBMaxConns     int32
	RedisURL       string
	RunMigrations  bool
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	Fincra   ProviderConfig
	Paystack ProviderConfig

	ReferencePrefix    string
	ReferenceSalt      string
	BankCacheTTL       time.Duration
	WebhookMaxAttempts int
	ReconcileInterval  time.Duration
	PayoutRateLimit    int

	KafkaBrokers           []string
	KafkaNotificationTopic string
}

// Load reads configuration values from the environment (and an optional .env file)
// and populates a Config instance.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:                getEnv("APP_NAME", defaultAppName),
		AppEnv:                 getEnv("APP_ENV", defaultAppEnv),
		Port:                   getEnv("PORT", defaultPort),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisURL:               os.Getenv("REDIS_URL"),
		ReferencePrefix:        getEnv("REFERENCE_PREFIX", defaultReferencePrefix),
		ReferenceSalt:          getEnv("REFERENCE_SALT", defaultAppName),
		KafkaBrokers:           splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaNotificationTopic: getEnv("KAFKA_NOTIFICATION_TOPIC", defaultNotificationTopic),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.BankCacheTTL, err = durationEnv("BANK_CACHE_TTL", defaultBankCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = durationEnv("RECONCILE_INTERVAL", defaultReconcileEvery); err != nil {
		return Config{}, err
	}
	if cfg.WebhookMaxAttempts, err = intEnv("WEBHOOK_MAX_ATTEMPTS", defaultWebhookAttempts); err != nil {
		return Config{}, err
	}
	if cfg.PayoutRateLimit, err = intEnv("PAYOUT_RATE_LIMIT", defaultPayoutRateLimit); err != nil {
		return Config{}, err
	}
	maxConns, err := intEnv("DB_MAX_CONNS", defaultDBMaxConns)
	if err != nil {
		return Config{}, err
	}
	cfg.DBMaxConns = int32(maxConns)
	if cfg.RunMigrations, err = boolEnv("RUN_MIGRATIONS", true); err != nil {
		return Config{}, err
	}

	base, err := loadProviderDefaults()
	if err != nil {
		return Config{}, err
	}

	cfg.Fincra = base
	cfg.Fincra.Slug = "fincra"
	cfg.Fincra.BaseURL = getEnv("FINCRA_BASE_URL", defaultFincraBaseURL)
	cfg.Fincra.APIKey = os.Getenv("FINCRA_API_KEY")
	cfg.Fincra.BusinessID = os.Getenv("FINCRA_BUSINESS_ID")
	cfg.Fincra.WebhookSecret = os.Getenv("FINCRA_WEBHOOK_SECRET")
	cfg.Fincra.Currencies = upperList(getEnv("FINCRA_CURRENCIES", "NGN"))

	cfg.Paystack = base
	cfg.Paystack.Slug = "paystack"
	cfg.Paystack.BaseURL = getEnv("PAYSTACK_BASE_URL", defaultPaystackBaseURL)
	cfg.Paystack.APIKey = os.Getenv("PAYSTACK_SECRET_KEY")
	cfg.Paystack.WebhookSecret = cfg.Paystack.APIKey
	cfg.Paystack.Currencies = upperList(getEnv("PAYSTACK_CURRENCIES", "GHS,KES"))

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

func loadProviderDefaults() (ProviderConfig, error) {
	var (
		p   ProviderConfig
		err error
	)
	if p.Timeout, err = durationEnv("PROVIDER_TIMEOUT", defaultProviderTimeout); err != nil {
		return p, err
	}
	if p.Backoff, err = durationEnv("PROVIDER_BACKOFF", defaultProviderBackoff); err != nil {
		return p, err
	}
	if p.Retries, err = intEnv("PROVIDER_RETRIES", defaultProviderRetries); err != nil {
		return p, err
	}
	rps := getEnv("PROVIDER_RPS", strconv.Itoa(defaultProviderRPS))
	if p.RPS, err = strconv.ParseFloat(rps, 64); err != nil {
		return p, fmt.Errorf("invalid PROVIDER_RPS: %w", err)
	}
	return p, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDevelopment reports whether the process runs in a local/development environment.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationEnv reads KEY_SECONDS as an integer, falling back to KEY as a Go duration string.
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func upperList(v string) []string {
	out := splitList(v)
	for i := range out {
		out[i] = strings.ToUpper(out[i])
	}
	return out
}
