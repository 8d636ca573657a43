// Package crypto derives the vault's master key and its purpose-scoped
// subkeys. The master key derivation is memory-hard by design; nothing
// else in the module is allowed to be.
package crypto

import (
	"errors"

	"github.com/bastionvault/bastion/internal/util"
)

const (
	// MasterKeyLength is the length of derived master key material.
	MasterKeyLength = 32
	// SaltLength is the required KDF salt length.
	SaltLength = 32
)

// ErrInvalidSaltLength is returned when the KDF salt is not SaltLength bytes.
var ErrInvalidSaltLength = errors.New("salt must be 32 bytes")

var masterKeyInfo = []byte("bastion:master:v1")

// Argon2idParams configures Argon2id key derivation.
type Argon2idParams = util.Argon2idParams

// Named KDF profiles for different deployment scenarios.
const (
	KDFProfileInteractive = util.KDFProfileInteractive // sub-second, dev/testing
	KDFProfileModerate    = util.KDFProfileModerate    // production default
	KDFProfileSensitive   = util.KDFProfileSensitive   // high-value secrets
)

// DefaultArgon2idParams returns the default Argon2id parameters (moderate profile).
func DefaultArgon2idParams() Argon2idParams {
	return util.DefaultArgon2idParams()
}

// Argon2idProfile returns the Argon2idParams for a named profile.
func Argon2idProfile(name string) (Argon2idParams, error) {
	return util.Argon2idProfile(name)
}

// ValidateArgon2idParams checks that the given parameters meet the minimum
// acceptable thresholds.
func ValidateArgon2idParams(p Argon2idParams) error {
	return util.ValidateArgon2idParams(p)
}

// DeriveMasterKeyOption is a functional option for DeriveMasterKey.
type DeriveMasterKeyOption func(*deriveMasterKeyOptions)

type deriveMasterKeyOptions struct {
	params  Argon2idParams
	binding []byte
}

// WithArgonParams sets the Argon2id parameters.
func WithArgonParams(params Argon2idParams) DeriveMasterKeyOption {
	return func(o *deriveMasterKeyOptions) {
		o.params = params
	}
}

// WithDeviceBinding mixes the device fingerprint into the derivation as
// a second key lane, so the same passphrase on a different machine
// yields a different master key.
func WithDeviceBinding(fingerprint []byte) DeriveMasterKeyOption {
	return func(o *deriveMasterKeyOptions) {
		o.binding = util.CopyBytes(fingerprint)
	}
}

// DeriveMasterKey derives the vault master key from a passphrase and a
// 32-byte salt. The passphrase lane is Argon2id over the NFKD-normalized
// passphrase; with device binding, it is XORed with an HKDF lane over
// the device fingerprint. Deterministic for fixed inputs.
func DeriveMasterKey(passphrase string, salt []byte, opts ...DeriveMasterKeyOption) ([]byte, error) {
	options := deriveMasterKeyOptions{
		params: DefaultArgon2idParams(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	if len(salt) != SaltLength {
		return nil, ErrInvalidSaltLength
	}

	kPass, err := util.DeriveArgon2idKey(util.Normalize(passphrase), salt, options.params)
	if err != nil {
		return nil, err
	}
	if options.binding == nil {
		return kPass, nil
	}
	defer util.WipeBytes(kPass)

	kDevice, err := util.HKDF(options.binding, salt, masterKeyInfo)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(kDevice)
	defer util.WipeBytes(options.binding)

	return util.Xor(kPass, kDevice)
}
