package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-krawl-offline/internal/tiles"
)

func TestInitializeDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.toml")
	cfg, err := Initialize(CliFlags{ConfigFilePath: &missing})
	require.NoError(t, err)

	assert.Equal(t, DefaultDataPath, cfg.DataPath)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultConcurrency, cfg.Download.Concurrency)
	assert.Equal(t, DefaultQuotaLowRatio, cfg.Quota.LowRatio)
	assert.Empty(t, cfg.Download.TileURL, "map tiles are opt-in")
	assert.Equal(t, tiles.DefaultZoomMin, cfg.Download.TileZoomMin)
	assert.Equal(t, tiles.DefaultZoomMax, cfg.Download.TileZoomMax)
}

func TestInitializeReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `DataPath = "/var/cache/krawl"
LogLevel = "debug"

[Download]
Concurrency = 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Initialize(CliFlags{ConfigFilePath: &path})
	require.NoError(t, err)

	assert.Equal(t, "/var/cache/krawl", cfg.DataPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Download.Concurrency)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`LogLevel = "debug"`), 0600))

	level := "warn"
	dataPath := filepath.Join(t.TempDir(), "cache")
	cfg, err := Initialize(CliFlags{
		ConfigFilePath: &path,
		LogLevel:       &level,
		DataPath:       &dataPath,
	})
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, dataPath, cfg.DataPath)
}

func TestWriteDefaultRefusesToClobber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, WriteDefault(path))
	assert.Error(t, WriteDefault(path))

	// The generated file round-trips through Initialize.
	cfg, err := Initialize(CliFlags{ConfigFilePath: &path})
	require.NoError(t, err)
	assert.Equal(t, DefaultDataPath, cfg.DataPath)
	assert.Equal(t, DefaultSyncIntervalSec, cfg.Sync.IntervalSec)
}
