package vault

import (
	"time"

	"github.com/bastionvault/bastion/crypto"
)

// Policy is the security configuration consumed by the vault.
type Policy struct {
	SessionTimeoutSeconds uint   `yaml:"session_timeout_seconds" json:"session_timeout_seconds"`
	AutoLockOnBackground  bool   `yaml:"auto_lock_on_background" json:"auto_lock_on_background"`
	DeviceBindingEnabled  bool   `yaml:"device_binding_enabled" json:"device_binding_enabled"`
	MaxFailedAttempts     uint   `yaml:"max_failed_attempts" json:"max_failed_attempts"`
	TOTPClockSkewSteps    uint   `yaml:"totp_clock_skew_steps" json:"totp_clock_skew_steps"`
	KDFProfile            string `yaml:"kdf_profile" json:"kdf_profile"`
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		SessionTimeoutSeconds: 300,
		AutoLockOnBackground:  true,
		DeviceBindingEnabled:  true,
		MaxFailedAttempts:     5,
		TOTPClockSkewSteps:    1,
		KDFProfile:            crypto.KDFProfileModerate,
	}
}

func (p Policy) sessionTimeout() time.Duration {
	return time.Duration(p.SessionTimeoutSeconds) * time.Second
}

func (p Policy) kdfParams() (crypto.Argon2idParams, error) {
	if p.KDFProfile == "" {
		return crypto.DefaultArgon2idParams(), nil
	}
	return crypto.Argon2idProfile(p.KDFProfile)
}
