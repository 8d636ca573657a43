// Package config loads the vault policy from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/bastionvault/bastion/vault"
)

// File is the on-disk configuration. Zero values fall back to the
// policy defaults, except booleans, which carry explicit defaults via
// pointers so "false" is expressible.
type File struct {
	SessionTimeoutSeconds *uint  `yaml:"session_timeout_seconds"`
	AutoLockOnBackground  *bool  `yaml:"auto_lock_on_background"`
	DeviceBindingEnabled  *bool  `yaml:"device_binding_enabled"`
	MaxFailedAttempts     *uint  `yaml:"max_failed_attempts"`
	TOTPClockSkewSteps    *uint  `yaml:"totp_clock_skew_steps"`
	KDFProfile            string `yaml:"kdf_profile"`
}

// Load reads a policy from path, applying defaults for absent keys.
func Load(path string) (vault.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vault.Policy{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML into a policy, applying defaults for absent keys.
func Parse(data []byte) (vault.Policy, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return vault.Policy{}, fmt.Errorf("parsing config: %w", err)
	}

	p := vault.DefaultPolicy()
	if f.SessionTimeoutSeconds != nil {
		p.SessionTimeoutSeconds = *f.SessionTimeoutSeconds
	}
	if f.AutoLockOnBackground != nil {
		p.AutoLockOnBackground = *f.AutoLockOnBackground
	}
	if f.DeviceBindingEnabled != nil {
		p.DeviceBindingEnabled = *f.DeviceBindingEnabled
	}
	if f.MaxFailedAttempts != nil {
		p.MaxFailedAttempts = *f.MaxFailedAttempts
	}
	if f.TOTPClockSkewSteps != nil {
		p.TOTPClockSkewSteps = *f.TOTPClockSkewSteps
	}
	if f.KDFProfile != "" {
		p.KDFProfile = f.KDFProfile
	}
	return p, nil
}
