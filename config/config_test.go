package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	assert.Empty(t, Default().Validate())
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/outreach
isolation:
  mode: thread
  workers: 3
pacing:
  min_delay: 1s
  max_delay: 2s
limits:
  honor_limit_cooldown: true
  limit_cooldown: 48h
`), 0o600))
	t.Setenv("OUTREACH_SERVER_ADDR", ":9000")
	t.Setenv("OUTREACH_LIMITS_DAILY_CONNECTIONS", "10")

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/outreach", cfg.DataDir)
	assert.Equal(t, ModeThread, cfg.Isolation.Mode)
	assert.Equal(t, 3, cfg.Isolation.Workers)
	assert.Equal(t, time.Second, cfg.Pacing.MinDelay)
	assert.Equal(t, 2*time.Second, cfg.Pacing.MaxDelay)
	assert.True(t, cfg.Limits.HonorLimitCooldown)
	assert.Equal(t, 48*time.Hour, cfg.Limits.LimitCooldown)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Limits.DailyConnections)
	assert.Equal(t, 40, cfg.Limits.DailyMessages, "untouched keys keep defaults")
}

func TestLoadPicksUpDefaultFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(DefaultFile, []byte("base_url: https://site.test\n"), 0o600))
	require.NoError(t, os.WriteFile(".env", []byte("OUTREACH_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("OUTREACH_LOG_LEVEL") })

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "https://site.test", cfg.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(New(), "nope.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OUTREACH_ISOLATION_MODE", "fork")

	_, err := Load(New(), "")
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, "isolation.mode", verrs[0].Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty data dir", func(c *Config) { c.DataDir = " " }, "data_dir"},
		{"unknown mode", func(c *Config) { c.Isolation.Mode = "fork" }, "isolation.mode"},
		{"negative workers", func(c *Config) { c.Isolation.Workers = -1 }, "isolation.workers"},
		{"zero connections", func(c *Config) { c.Limits.DailyConnections = 0 }, "limits.daily_connections"},
		{"negative messages", func(c *Config) { c.Limits.DailyMessages = -2 }, "limits.daily_messages"},
		{"reversed delays", func(c *Config) { c.Pacing.MinDelay = time.Minute }, "pacing.max_delay"},
		{"cooldown without duration", func(c *Config) {
			c.Limits.HonorLimitCooldown = true
			c.Limits.LimitCooldown = 0
		}, "limits.limit_cooldown"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			errs := cfg.Validate()
			require.Len(t, errs, 1, errs.Error())
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	cfg := Default()
	cfg.DataDir = ""
	cfg.Log.Level = "loud"
	errs := cfg.Validate()
	require.Len(t, errs, 2)
	assert.Contains(t, errs.Error(), "2 validation errors")
	assert.Contains(t, errs.Error(), "log.level: must be one of debug, info, warn, error (got: loud)")
}
