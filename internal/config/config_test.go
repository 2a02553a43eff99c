package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allConfigKeys lists every ERPSYNC_ env var that Load() reads.
var allConfigKeys = []string{
	"ERPSYNC_LISTEN_ADDR",
	"ERPSYNC_DB_PATH",
	"ERPSYNC_INTEGRATION",
	"ERPSYNC_API_BASE_URL",
	"ERPSYNC_OAUTH_TOKEN_URL",
	"ERPSYNC_OAUTH_AUTHORIZE_URL",
	"ERPSYNC_CLIENT_ID",
	"ERPSYNC_CLIENT_SECRET",
	"ERPSYNC_REDIRECT_URI",
	"ERPSYNC_SECRET_KEY",
	"ERPSYNC_POLL_INTERVAL",
	"ERPSYNC_POLL_LOOKBACK",
	"ERPSYNC_MIN_REQUEST_INTERVAL",
	"ERPSYNC_DAILY_REQUEST_LIMIT",
	"ERPSYNC_REQUEST_TIMEOUT",
	"ERPSYNC_MAX_RETRIES",
	"ERPSYNC_RETRY_BASE_DELAY",
	"ERPSYNC_RETRY_MAX_DELAY",
	"ERPSYNC_PAGE_SIZE",
	"ERPSYNC_RECONCILE_WORKERS",
	"ERPSYNC_WEBHOOK_SECRET",
	"ERPSYNC_ADMIN_JWT_SECRET",
	"ERPSYNC_SESSION_KEY",
	"ERPSYNC_REDIS_ADDR",
	"ERPSYNC_REDIS_PASSWORD",
	"ERPSYNC_REDIS_DB",
	"ERPSYNC_REDIS_TLS",
}

// isolateConfigEnv saves and unsets all ERPSYNC_ env vars so tests don't
// inherit values from the host environment.
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, "erpsync.db", cfg.DBPath)
	assert.Equal(t, "erp", cfg.Integration)
	assert.Nil(t, cfg.SecretKey)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval)
	assert.Equal(t, 24*time.Hour, cfg.PollLookback)
	assert.Equal(t, 334*time.Millisecond, cfg.MinRequestInterval)
	assert.Equal(t, 120000, cfg.DailyRequestLimit)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 10*time.Second, cfg.RetryMaxDelay)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, 1, cfg.ReconcileWorkers)
	assert.False(t, cfg.HasERPCredentials())
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("ERPSYNC_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("ERPSYNC_DB_PATH", "/tmp/test.db")
	t.Setenv("ERPSYNC_API_BASE_URL", "https://erp.example.com/api/v3/")
	t.Setenv("ERPSYNC_OAUTH_TOKEN_URL", "https://erp.example.com/oauth/token")
	t.Setenv("ERPSYNC_CLIENT_ID", "client")
	t.Setenv("ERPSYNC_CLIENT_SECRET", "secret")
	t.Setenv("ERPSYNC_SECRET_KEY", strings.Repeat("ab", 32))
	t.Setenv("ERPSYNC_POLL_INTERVAL", "10m")
	t.Setenv("ERPSYNC_DAILY_REQUEST_LIMIT", "0")
	t.Setenv("ERPSYNC_MAX_RETRIES", "5")
	t.Setenv("ERPSYNC_RECONCILE_WORKERS", "4")
	t.Setenv("ERPSYNC_REDIS_ADDR", "localhost:6379")
	t.Setenv("ERPSYNC_REDIS_TLS", "true")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, "https://erp.example.com/api/v3", cfg.APIBaseURL)
	assert.Len(t, cfg.SecretKey, 32)
	assert.Equal(t, 10*time.Minute, cfg.PollInterval)
	assert.Equal(t, 0, cfg.DailyRequestLimit)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 4, cfg.ReconcileWorkers)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.True(t, cfg.RedisTLS)
	assert.True(t, cfg.HasERPCredentials())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"ERPSYNC_POLL_INTERVAL", "not-a-duration", "ERPSYNC_POLL_INTERVAL"},
		{"ERPSYNC_POLL_LOOKBACK", "-1h", "must be positive"},
		{"ERPSYNC_MIN_REQUEST_INTERVAL", "0s", "must be positive"},
		{"ERPSYNC_DAILY_REQUEST_LIMIT", "lots", "invalid integer"},
		{"ERPSYNC_MAX_RETRIES", "-1", "at least 0"},
		{"ERPSYNC_PAGE_SIZE", "0", "at least 1"},
		{"ERPSYNC_RECONCILE_WORKERS", "0", "at least 1"},
		{"ERPSYNC_SECRET_KEY", "zz", "not valid hex"},
		{"ERPSYNC_SECRET_KEY", "abcd", "32 bytes"},
		{"ERPSYNC_REDIS_TLS", "maybe", "ERPSYNC_REDIS_TLS"},
		{"ERPSYNC_RETRY_MAX_DELAY", "500ms", "must not be below"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			isolateConfigEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
