package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", s.Redis.Addr)
	assert.Equal(t, 10, s.Cache.MaxBuilds)
	assert.Equal(t, "/opt/cstar", s.Remote.Root)
	assert.Equal(t, 15, s.Ensure.Retries)
	assert.Equal(t, 10*time.Second, s.Ensure.Wait)
	assert.Equal(t, 15*time.Second, s.Ensure.Settle)
	assert.Equal(t, 0, s.Concurrency)
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, []string{"9042", "7199"}, s.Fleet.Ports)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cstar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis:
  addr: redis:6379
cache:
  max_builds: 3
ensure:
  retries: 5
  wait: 2s
log:
  format: text
`), 0644))

	t.Setenv("CSTAR_ENSURE_RETRIES", "7")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", s.Redis.Addr)
	assert.Equal(t, 3, s.Cache.MaxBuilds)
	assert.Equal(t, 7, s.Ensure.Retries)
	assert.Equal(t, 2*time.Second, s.Ensure.Wait)
	assert.Equal(t, "text", s.Log.Format)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load("/nonexistent/cstar.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read settings file")
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cstar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  max_builds: 0\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.max_builds")
}
