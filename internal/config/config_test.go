package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 15, cfg.CheckpointMinItems)
	assert.Equal(t, 50, cfg.SplitCellCount)
	assert.Equal(t, 8000, cfg.SplitByteSize)
	assert.Equal(t, 3, cfg.SplitMinSize)
	assert.Equal(t, 100, cfg.SplitClientMaxRetries)
	assert.Equal(t, 3000*time.Millisecond, cfg.StaleGCInterval)
	assert.Equal(t, 1000*time.Millisecond, cfg.AvoidDuplicateInterval)
	assert.Equal(t, "kv.dat", cfg.DumpFile)
}

func TestLoadOfMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvVar, filepath.Join(dir, "does-not-exist.txt"))

	cfg, err := Load("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", cfg.ServerID)
	assert.Equal(t, Default().SplitCellCount, cfg.SplitCellCount)
}

func TestLoadParsesKeyValueFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	contents := "# comment\n" +
		"listen_addr = :9999\n" +
		"workers = 4\n" +
		"occ = true\n" +
		"split_size = 100\n" +
		"avoid_duplicate_interval_ms = 500\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	t.Setenv(EnvVar, path)

	cfg, err := Load("s1")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.OCC)
	assert.Equal(t, 100, cfg.SplitCellCount)
	assert.Equal(t, 500*time.Millisecond, cfg.AvoidDuplicateInterval)
}

func TestLoadRejectsUnknownOption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(path, []byte("not_a_real_option = 1\n"), 0o644))
	t.Setenv(EnvVar, path)

	_, err := Load("s1")
	assert.Error(t, err)
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a key value line\n"), 0o644))
	t.Setenv(EnvVar, path)

	_, err := Load("s1")
	assert.Error(t, err)
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr = :1111\n"), 0o644))
	t.Setenv(EnvVar, path)
	t.Setenv("YESQUEL_LISTEN_ADDR", ":2222")

	cfg, err := Load("s1")
	require.NoError(t, err)
	assert.Equal(t, ":2222", cfg.ListenAddr)
}
