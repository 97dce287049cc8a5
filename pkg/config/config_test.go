package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "ERNEST_KEY", "PORT", "WATCHER_INTERVAL", "LOG_LEVEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/ernest")
	t.Setenv("ERNEST_KEY", "ab000000000000000000000000000000000000000000000000000000000000cd")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultWatcherInterval, cfg.WatcherInterval)
	require.Equal(t, "info", cfg.Logger.LogLevel)
}

func TestLoadRejectsMissingDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("ERNEST_KEY", "ab000000000000000000000000000000000000000000000000000000000000cd")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsMalformedKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/ernest")
	t.Setenv("ERNEST_KEY", "not-hex")
	_, err := Load("")
	require.Error(t, err)
}

func TestLoadEnvOverridesYAMLOverlay(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("Port: 9999\nWatcherInterval: 30s\n"), 0o644))

	t.Setenv("DATABASE_URL", "postgres://localhost/ernest")
	t.Setenv("ERNEST_KEY", "ab000000000000000000000000000000000000000000000000000000000000cd")
	t.Setenv("PORT", "4000")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.Port) // env wins over YAML overlay
	require.Equal(t, 30*time.Second, cfg.WatcherInterval)
}

func TestLoadRejectsUnknownYAMLFields(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("Bogus: true\n"), 0o644))

	t.Setenv("DATABASE_URL", "postgres://localhost/ernest")
	t.Setenv("ERNEST_KEY", "ab000000000000000000000000000000000000000000000000000000000000cd")

	_, err := Load(path)
	require.Error(t, err)
}
