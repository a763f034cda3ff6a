package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POKER_ADDR", ":9090")
	t.Setenv("POKER_STORE", "postgres")
	t.Setenv("POKER_DATABASE_URL", "postgres://poker@localhost/poker")
	t.Setenv("POKER_SWEEP_INTERVAL", "0s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Zero(t, cfg.SweepInterval)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("POKER_LOG_FORMAT=console\nPOKER_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("POKER_LOG_LEVEL", "warn")
	// godotenv sets variables in the process; make sure they go away
	t.Setenv("POKER_LOG_FORMAT", "")
	require.NoError(t, os.Unsetenv("POKER_LOG_FORMAT"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "warn", cfg.LogLevel, "real environment wins over the file")
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("POKER_SHUTDOWN_TIMEOUT", "soon")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	base := Config{Store: StoreMemory, ShutdownTimeout: time.Second}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"memory ok", func(*Config) {}, nil},
		{"postgres without url", func(c *Config) { c.Store = StorePostgres }, ErrMissingDatabaseURL},
		{"unknown store", func(c *Config) { c.Store = "redis" }, ErrUnknownStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	cfg := base
	cfg.ShutdownTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadClient_Defaults(t *testing.T) {
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Empty(t, cfg.StateDir)
	assert.Equal(t, "console", cfg.LogFormat)
}
