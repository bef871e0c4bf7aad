package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NIGHTSCOUT_URL", "https://cgm.example.com")
	t.Setenv("NIGHTSCOUT_API_SECRET", "hunter2hunter2")
	t.Setenv("DATA_DIR", t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://cgm.example.com", cfg.NightscoutURL)
	assert.Equal(t, 7, cfg.WindowDays)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 8*time.Second, cfg.RetryMaxDelay)
	assert.Equal(t, "/usr/local/bin/oref0-autotune", cfg.AutotunePath)
	assert.Equal(t, 300*time.Second, cfg.AutotuneTimeout)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "0 3 * * *", cfg.SyncSchedule)
	assert.False(t, cfg.DryRun)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WINDOW_DAYS", "14")
	t.Setenv("NIGHTSCOUT_PROFILE", "Vacation")
	t.Setenv("AUTOTUNE_TIMEOUT_SECONDS", "60")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.WindowDays)
	assert.Equal(t, "Vacation", cfg.ProfileName)
	assert.Equal(t, time.Minute, cfg.AutotuneTimeout)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 9000, cfg.Port)
}

func TestLoadRequiresURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("NIGHTSCOUT_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NIGHTSCOUT_URL")
}

func TestLoadRejectsPlainHTTP(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("NIGHTSCOUT_URL", "http://cgm.example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https")
}

func TestLoadRequiresSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("NIGHTSCOUT_API_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NIGHTSCOUT_API_SECRET")
}

func TestLoadRejectsWindowOutOfRange(t *testing.T) {
	for _, days := range []string{"0", "31", "-1"} {
		t.Run(days, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv("WINDOW_DAYS", days)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "WINDOW_DAYS")
		})
	}
}
