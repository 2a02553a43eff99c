// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// OAuthConfig holds the OAuth client registration with the ERP.
type OAuthConfig struct {
	TokenURL     string
	AuthorizeURL string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr  string
	DBPath      string
	Integration string

	APIBaseURL string
	OAuth      OAuthConfig

	// SecretKey is the AES-256 key for tokens at rest; nil disables
	// credential storage.
	SecretKey []byte

	PollInterval     time.Duration
	PollLookback     time.Duration
	PageSize         int
	ReconcileWorkers int

	MinRequestInterval time.Duration
	DailyRequestLimit  int
	RequestTimeout     time.Duration
	MaxRetries         int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration

	WebhookSecret  string
	AdminJWTSecret string
	SessionKey     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool
}

// HasERPCredentials returns true when everything needed to call the ERP API
// and its token endpoint is configured. Commands that only read local state
// run without it.
func (c *Config) HasERPCredentials() bool {
	return c.APIBaseURL != "" && c.OAuth.TokenURL != "" && c.OAuth.ClientID != "" && c.OAuth.ClientSecret != ""
}

// Load reads configuration from ERPSYNC_ environment variables and returns a
// validated Config. Unset variables take their defaults; malformed values
// fail fast.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  envString("ERPSYNC_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:      envString("ERPSYNC_DB_PATH", "erpsync.db"),
		Integration: envString("ERPSYNC_INTEGRATION", "erp"),
		APIBaseURL:  strings.TrimRight(os.Getenv("ERPSYNC_API_BASE_URL"), "/"),
		OAuth: OAuthConfig{
			TokenURL:     os.Getenv("ERPSYNC_OAUTH_TOKEN_URL"),
			AuthorizeURL: os.Getenv("ERPSYNC_OAUTH_AUTHORIZE_URL"),
			ClientID:     os.Getenv("ERPSYNC_CLIENT_ID"),
			ClientSecret: os.Getenv("ERPSYNC_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("ERPSYNC_REDIRECT_URI"),
		},
		WebhookSecret:  os.Getenv("ERPSYNC_WEBHOOK_SECRET"),
		AdminJWTSecret: os.Getenv("ERPSYNC_ADMIN_JWT_SECRET"),
		SessionKey:     os.Getenv("ERPSYNC_SESSION_KEY"),
		RedisAddr:      os.Getenv("ERPSYNC_REDIS_ADDR"),
		RedisPassword:  os.Getenv("ERPSYNC_REDIS_PASSWORD"),
	}

	var err error
	if cfg.SecretKey, err = secretKey(); err != nil {
		return nil, err
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"ERPSYNC_POLL_INTERVAL", 5 * time.Minute, &cfg.PollInterval},
		{"ERPSYNC_POLL_LOOKBACK", 24 * time.Hour, &cfg.PollLookback},
		{"ERPSYNC_MIN_REQUEST_INTERVAL", 334 * time.Millisecond, &cfg.MinRequestInterval},
		{"ERPSYNC_REQUEST_TIMEOUT", 30 * time.Second, &cfg.RequestTimeout},
		{"ERPSYNC_RETRY_BASE_DELAY", time.Second, &cfg.RetryBaseDelay},
		{"ERPSYNC_RETRY_MAX_DELAY", 10 * time.Second, &cfg.RetryMaxDelay},
	}
	for _, d := range durations {
		if *d.dest, err = envDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key  string
		def  int
		min  int
		dest *int
	}{
		{"ERPSYNC_DAILY_REQUEST_LIMIT", 120000, 0, &cfg.DailyRequestLimit},
		{"ERPSYNC_MAX_RETRIES", 3, 0, &cfg.MaxRetries},
		{"ERPSYNC_PAGE_SIZE", 100, 1, &cfg.PageSize},
		{"ERPSYNC_RECONCILE_WORKERS", 1, 1, &cfg.ReconcileWorkers},
		{"ERPSYNC_REDIS_DB", 0, 0, &cfg.RedisDB},
	}
	for _, n := range ints {
		if *n.dest, err = envInt(n.key, n.def, n.min); err != nil {
			return nil, err
		}
	}

	if v, ok := os.LookupEnv("ERPSYNC_REDIS_TLS"); ok && v != "" {
		if cfg.RedisTLS, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("ERPSYNC_REDIS_TLS has invalid boolean %q: %w", v, err)
		}
	}

	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		return nil, fmt.Errorf("ERPSYNC_RETRY_MAX_DELAY (%s) must not be below ERPSYNC_RETRY_BASE_DELAY (%s)",
			cfg.RetryMaxDelay, cfg.RetryBaseDelay)
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// envDuration parses a positive duration.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, parsed)
	}
	return parsed, nil
}

func envInt(key string, def, minValue int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if parsed < minValue {
		return 0, fmt.Errorf("%s must be at least %d, got %d", key, minValue, parsed)
	}
	return parsed, nil
}

// secretKey decodes ERPSYNC_SECRET_KEY, which must be 64 hex characters.
func secretKey() ([]byte, error) {
	v := os.Getenv("ERPSYNC_SECRET_KEY")
	if v == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("ERPSYNC_SECRET_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ERPSYNC_SECRET_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
