package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("RATE_LIMIT_RPS", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "standard", cfg.Profile)
	assert.Equal(t, 20, cfg.RateLimitRPS)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://pay@localhost/stablepay")
	t.Setenv("EXECUTION_PROFILE", "conservative")
	t.Setenv("RATE_LIMIT_RPS", "5")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://pay@localhost/stablepay", cfg.DatabaseURL)
	assert.Equal(t, "conservative", cfg.Profile)
	assert.Equal(t, 5, cfg.RateLimitRPS)
	assert.Equal(t, 0, cfg.RedisDB, "unparseable ints fall back to the default")
}

func TestLoadProfileFromYAML(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
name: conservative
retry:
  max_attempts: 2
  base_ms: 5000
  max_ms: 60000
  max_jitter_ms: 1000
poll_interval_ms: 5000
poll_timeout_ms: 300000
concurrency: 2
fees:
  gas_limit: 401000
  buffer_percent: 35
  bump_percent: 25
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_conservative.yaml"), content, 0o600))

	profile, err := LoadProfile(dir, "Conservative")
	require.NoError(t, err)
	assert.Equal(t, "conservative", profile.Name)
	assert.Equal(t, 2, profile.Retry.MaxAttempts)
	assert.Equal(t, int64(5000), profile.Retry.BaseMs)
	assert.Equal(t, uint64(401000), profile.Fees.GasLimit)

	opts := profile.EngineOptions()
	assert.Equal(t, 5*time.Second, opts.PollInterval)
	assert.Equal(t, 2, opts.Concurrency)
}

func TestLoadProfileMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadProfile(dir, "exotic")
	assert.Error(t, err, "an existing profiles dir with a missing profile is a config mistake")
}

func TestLoadProfileMissingDirFallsBack(t *testing.T) {
	profile, err := LoadProfile(filepath.Join(t.TempDir(), "nope"), "standard")
	require.NoError(t, err)
	assert.Equal(t, "standard", profile.Name)
	assert.Equal(t, 3, profile.Retry.MaxAttempts)
}

func TestLoadProfileRejectsZeroAttempts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_broken.yaml"), []byte("name: broken\n"), 0o600))
	_, err := LoadProfile(dir, "broken")
	assert.ErrorContains(t, err, "max_attempts")
}
