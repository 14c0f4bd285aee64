package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"DB_PATH", "LISTEN_ADDR", "LOG_LEVEL", "ENV",
		"SWEEP_INTERVAL", "TICKET_RETENTION",
		"PLATFORM_BASE_URL", "PLATFORM_TOKEN", "PLATFORM_TIMEOUT",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "roleledger.sqlite", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.TicketRetention)
	assert.Equal(t, 10*time.Second, cfg.PlatformTimeout)
	assert.Equal(t, float64(100), cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.IsProduction())
	assert.NotEmpty(t, cfg.Warnings)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/ledger.sqlite")
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("ENV", "production")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("TICKET_RETENTION", "48h")
	t.Setenv("PLATFORM_BASE_URL", "https://platform.example")
	t.Setenv("PLATFORM_TOKEN", "secret")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ledger.sqlite", cfg.DBPath)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 48*time.Hour, cfg.TicketRetention)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_InvalidDuration(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "soon")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SWEEP_INTERVAL")
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "debug"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "WARN"}).SlogLevel())
	assert.Equal(t, slog.LevelError, (&Config{LogLevel: "error"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: "anything"}).SlogLevel())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"# comment\n\nDOTENV_A=hello\nDOTENV_B=\"quoted\"\nnot-a-pair\n"), 0o600))

	t.Setenv("DOTENV_A", "")
	os.Unsetenv("DOTENV_A")
	t.Setenv("DOTENV_B", "preset")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "hello", os.Getenv("DOTENV_A"))
	// Already-set keys are not overwritten.
	assert.Equal(t, "preset", os.Getenv("DOTENV_B"))

	// A missing file is fine.
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
