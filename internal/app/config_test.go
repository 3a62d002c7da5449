package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("IP_LOOKUP_URL", "https://ip.example.com/json")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	assert.Equal(t, time.Minute, cfg.SessionSweepInterval)
	assert.Equal(t, 5, cfg.LoginMaxAttempts)
	assert.True(t, cfg.AuditAsync)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigLookupDisabledByDefault(t *testing.T) {
	t.Setenv("IP_LOOKUP_URL", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.IPLookupURL)
}

func TestValidateRejectsInconsistentTimers(t *testing.T) {
	t.Setenv("IP_LOOKUP_URL", "ftp://ip.example.com")
	t.Setenv("SESSION_SWEEP_INTERVAL", "45m")
	t.Setenv("SESSION_TTL", "10m")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IP_LOOKUP_URL")
	assert.Contains(t, err.Error(), "SESSION_SWEEP_INTERVAL")
	assert.Contains(t, err.Error(), "SESSION_TTL")
}
