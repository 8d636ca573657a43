package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionvault/bastion/vault"
)

func TestParse_Defaults(t *testing.T) {
	p, err := Parse([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, vault.DefaultPolicy(), p)
}

func TestParse_Overrides(t *testing.T) {
	p, err := Parse([]byte(`
session_timeout_seconds: 60
auto_lock_on_background: false
device_binding_enabled: false
max_failed_attempts: 3
totp_clock_skew_steps: 2
kdf_profile: interactive
`))
	require.NoError(t, err)

	assert.Equal(t, uint(60), p.SessionTimeoutSeconds)
	assert.False(t, p.AutoLockOnBackground)
	assert.False(t, p.DeviceBindingEnabled)
	assert.Equal(t, uint(3), p.MaxFailedAttempts)
	assert.Equal(t, uint(2), p.TOTPClockSkewSteps)
	assert.Equal(t, "interactive", p.KDFProfile)
}

func TestParse_ExplicitFalseSurvives(t *testing.T) {
	p, err := Parse([]byte("auto_lock_on_background: false"))
	require.NoError(t, err)
	assert.False(t, p.AutoLockOnBackground)
	// Untouched keys keep their defaults.
	assert.True(t, p.DeviceBindingEnabled)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(":\n  - not yaml"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bastion.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_failed_attempts: 7"), 0600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint(7), p.MaxFailedAttempts)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
