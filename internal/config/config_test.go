package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecord(t *testing.T, path string) Record {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

func TestLoad_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallsync", "config.json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, NewClientID, cfg.Identity())
	assert.Equal(t, "localhost", cfg.Server)
	assert.Equal(t, "8080", cfg.WSPort)
	assert.Equal(t, "3000", cfg.RestPort)
	assert.Equal(t, "feh --bg-fill $WALL", cfg.Command)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "cache"), cfg.CacheDir)
	assert.Equal(t, DefaultMaxCacheSize, cfg.MaxCacheSize)
	assert.NotEmpty(t, cfg.Name)
	assert.Equal(t, "ws://localhost:8080", cfg.WSURL())
	assert.Equal(t, "http://localhost:3000", cfg.RestURL())

	assert.Equal(t, NewClientID, readRecord(t, path).ID)
}

func TestLoad_FillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"abc","server":"relay.lan","sync":["/pics"]}`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.Identity())
	assert.Equal(t, "relay.lan", cfg.Server)
	assert.Equal(t, "8080", cfg.WSPort)
	assert.Equal(t, []string{"/pics"}, cfg.Sync)
}

func TestLoad_ZeroCacheSizeMeansUnlimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"abc","max_cache_size":0}`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cfg.MaxCacheSize)

	require.NoError(t, cfg.SetID("def"))
	assert.Equal(t, int64(0), readRecord(t, path).MaxCacheSize)
}

func TestLoad_MissingCacheSizeTakesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"abc"}`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxCacheSize, cfg.MaxCacheSize)
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSetID_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, cfg.SetID("11111111-2222-3333-4444-555555555555"))
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", readRecord(t, path).ID)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", reloaded.Identity())

	require.NoError(t, cfg.SetID(NewClientID))
	assert.Equal(t, NewClientID, readRecord(t, path).ID)
}

func TestEnvOverrides_AreNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":"file.lan"}`), 0600))
	t.Setenv("WALLSYNC_SERVER", "env.lan")
	t.Setenv("WALLSYNC_MAX_CACHE_SIZE", "2048")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env.lan", cfg.Server)
	assert.Equal(t, int64(2048), cfg.MaxCacheSize)

	require.NoError(t, cfg.SetID("assigned"))

	rec := readRecord(t, path)
	assert.Equal(t, "assigned", rec.ID)
	assert.Equal(t, "file.lan", rec.Server)
	assert.Equal(t, DefaultMaxCacheSize, rec.MaxCacheSize)
}

func TestEnvOverrides_BadNumber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("WALLSYNC_MAX_CACHE_SIZE", "lots")

	_, err := Load(path)
	assert.ErrorContains(t, err, "WALLSYNC_MAX_CACHE_SIZE")
}
