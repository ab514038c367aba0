package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "bracket-trader/internal/errors"
)

func TestLoad_CreatesTemplateWhenMissing(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created template")
	assert.FileExists(t, filepath.Join(dir, "config.toml"))

	// Second load reads the template back.
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Trading.DryRun)
	assert.Equal(t, "paper", cfg.Trading.Broker)
	assert.Equal(t, 0.01, cfg.Risk.RiskFraction)
	assert.Equal(t, 30*time.Second, cfg.Verification.Timeout)
	assert.Equal(t, filepath.Join(dir, "plans.json"), cfg.Store.PlanPath)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(configTemplate), 0600))

	t.Setenv("DRY_RUN", "false")
	t.Setenv("RISK_OF_CAPITAL", "0.02")
	t.Setenv("APCA_API_KEY_ID", "key-from-env")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, cfg.Trading.DryRun)
	assert.Equal(t, 0.02, cfg.Risk.RiskFraction)
	assert.Equal(t, "key-from-env", cfg.Broker.Alpaca.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"risk fraction zero", func(c *Config) { c.Risk.RiskFraction = 0 }, false},
		{"risk fraction above one", func(c *Config) { c.Risk.RiskFraction = 1.5 }, false},
		{"profit ratio below one", func(c *Config) { c.Risk.ProfitToLossRatio = 0.5 }, false},
		{"available ratio zero", func(c *Config) { c.Risk.AvailableQuantityRatio = 0 }, false},
		{"daily limit too high", func(c *Config) { c.Risk.DailyLossLimitPercent = 6 }, false},
		{"weekly limit too high", func(c *Config) { c.Risk.WeeklyLossLimitPercent = 11 }, false},
		{"monthly limit zero", func(c *Config) { c.Risk.MonthlyLossLimitPercent = 0 }, false},
		{"close buffer too long", func(c *Config) { c.Trading.CloseBufferMinutes = 45 }, false},
		{"unknown broker", func(c *Config) { c.Trading.Broker = "ib" }, false},
		{"bad timezone", func(c *Config) { c.Trading.Timezone = "Mars/Olympus" }, false},
		{"no verification attempts", func(c *Config) { c.Verification.MaxAttempts = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
		})
	}
}
