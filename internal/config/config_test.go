package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"PORT", "DATA_DIR", "INSTANCE_ID", "COMPANION_URL", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_WritesDefaults(t *testing.T) {
	clearEnv(t)
	for _, name := range []string{"board.config", "board.toml"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, name)

			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, 8000, cfg.Server.Port)
			assert.Equal(t, filepath.Join(dir, "data"), cfg.GetDataDir())
			assert.FileExists(t, path)

			again, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Storage, again.Storage)
			assert.Equal(t, cfg.Companion, again.Companion)
			assert.Equal(t, cfg.Advanced, again.Advanced)
		})
	}
}

func TestLoadConfig_PartialFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	xmlPath := filepath.Join(dir, "board.config")
	require.NoError(t, os.WriteFile(xmlPath, []byte(`<CompanionBoard><Server><Port>9100</Port></Server></CompanionBoard>`), 0644))
	cfg, err := LoadConfig(xmlPath)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "board", cfg.Storage.InstanceID, "missing sections keep their defaults")

	tomlPath := filepath.Join(dir, "board.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("[storage]\nbackend = \"sqlite\"\ndata_directory = \"/srv/board\"\n"), 0644))
	cfg, err = LoadConfig(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/srv/board", cfg.GetDataDir())
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout())
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9200")
	t.Setenv("DATA_DIR", "/var/lib/board")
	t.Setenv("INSTANCE_ID", "studio-b")
	t.Setenv("COMPANION_URL", "http://companion:8000")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "board.config"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9200", cfg.GetServerAddr())
	assert.Equal(t, "/var/lib/board", cfg.GetDataDir())
	assert.Equal(t, "studio-b", cfg.Storage.InstanceID)
	assert.Equal(t, "http://companion:8000", cfg.Companion.DefaultURL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"malformed xml", "<CompanionBoard><Server>"},
		{"bad port", "<CompanionBoard><Server><Port>70000</Port></Server></CompanionBoard>"},
		{"namespace separator", "<CompanionBoard><Storage><InstanceID>a:b</InstanceID></Storage></CompanionBoard>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".config")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Companion.FallbackIntervalMs = 0
	cfg.Sync.RetryIntervalMs = 250
	assert.Equal(t, 5*time.Second, cfg.FallbackInterval())
	assert.Equal(t, 250*time.Millisecond, cfg.RetryInterval())
}
