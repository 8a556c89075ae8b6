package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp isolates the test from any .env in the package directory.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, IndexFlat, cfg.Index)
	assert.Equal(t, "Asia/Kolkata", cfg.Memory.TimeZone)

	mc, err := cfg.MemoryService()
	require.NoError(t, err)
	assert.Equal(t, 384, mc.Dimensions)
	assert.Equal(t, 10*time.Second, mc.GenerateTimeout)
	assert.Equal(t, 3, mc.DefaultTopK)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "nim-recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":7000"
index: chromem
snapshot_path: /var/lib/nim-recall/memory.snap
generator:
  model: claude-test
  timeout: 3s
memory:
  prompt_window: 4
`), 0o600))

	t.Setenv("NIM_RECALL_SNAPSHOT_PATH", "/tmp/override.snap")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTPAddr)
	assert.Equal(t, IndexChromem, cfg.Index)
	assert.Equal(t, "/tmp/override.snap", cfg.SnapshotPath)
	assert.Equal(t, "claude-test", cfg.Generator.Model)
	assert.Equal(t, "sk-test", cfg.Generator.APIKey)

	mc, err := cfg.MemoryService()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, mc.GenerateTimeout)
	assert.Equal(t, 4, mc.PromptWindow)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=9999\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PORT") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
}

func TestLoad_Invalid(t *testing.T) {
	dir := chdirTemp(t)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("index: faiss\n"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "unknown index")

	require.NoError(t, os.WriteFile(bad, []byte("generator:\n  timeout: soon\n"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "generator timeout")

	t.Setenv("NIM_RECALL_CACHE_ENTRIES", "lots")
	_, err = Load("")
	assert.Error(t, err)
}
