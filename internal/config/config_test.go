package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/quizjourney/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		ServerPort:         "8080",
		GinMode:            "test",
		LogLevel:           "info",
		LogFormat:          "json",
		DatabaseURL:        "postgres://localhost/quizjourney",
		MaxDBConns:         4,
		RedisURL:           "redis://localhost:6379/0",
		JWTSecret:          "0123456789abcdef0123",
		JWTExpiry:          time.Hour,
		AnonJWTExpiry:      time.Hour,
		BcryptCost:         10,
		FlushInterval:      30 * time.Second,
		IdleTimeout:        30 * time.Minute,
		FallbackTTL:        time.Hour,
		RemoteWriteTimeout: 5 * time.Second,
		AuthRateLimit:      30,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"empty port", func(c *config.Config) { c.ServerPort = "" }, "SERVER_PORT"},
		{"bad log level", func(c *config.Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"no database", func(c *config.Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"no connections", func(c *config.Config) { c.MaxDBConns = 0 }, "MAX_DB_CONNS"},
		{"no redis", func(c *config.Config) { c.RedisURL = "" }, "REDIS_URL"},
		{"short secret", func(c *config.Config) { c.JWTSecret = "short" }, "JWT_SECRET"},
		{"bcrypt too low", func(c *config.Config) { c.BcryptCost = 2 }, "BCRYPT_COST"},
		{"zero flush interval", func(c *config.Config) { c.FlushInterval = 0 }, "PROGRESS_FLUSH_INTERVAL_SECONDS"},
		{"idle shorter than flush", func(c *config.Config) { c.IdleTimeout = time.Second }, "PROGRESS_IDLE_TIMEOUT_MINUTES"},
		{"negative ttl", func(c *config.Config) { c.FallbackTTL = -time.Second }, "FALLBACK_TTL_HOURS"},
		{"no rate limit", func(c *config.Config) { c.AuthRateLimit = 0 }, "AUTH_RATE_LIMIT_PER_MINUTE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("PROGRESS_FLUSH_INTERVAL_SECONDS", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 30*time.Second, cfg.FlushInterval)
	assert.Nil(t, cfg.AllowedOrigins)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("PROGRESS_FLUSH_INTERVAL_SECONDS", "10")
	t.Setenv("PROGRESS_IDLE_TIMEOUT_MINUTES", "5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("MAX_DB_CONNS", "not-a-number")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 10*time.Second, cfg.FlushInterval)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int32(16), cfg.MaxDBConns, "unparsable ints fall back to the default")
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "progress_u-1_A1", config.CacheKey.ProgressFallbackKey("u-1", "A1"))
	assert.Equal(t, "assignment:A1:monitor", config.CacheKey.AssignmentMonitorChannel("A1"))
}
