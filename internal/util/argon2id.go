package util

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2idParams configures Argon2id key derivation.
type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

// Named KDF profiles. The moderate profile is the production default;
// interactive is for tests and low-value data, sensitive for vaults
// expected to sit on disk for years.
const (
	KDFProfileInteractive = "interactive"
	KDFProfileModerate    = "moderate"
	KDFProfileSensitive   = "sensitive"
)

// Minimum acceptable cost thresholds. Deriving below these is refused
// rather than silently downgraded.
const (
	minArgon2idTime      = 1
	minArgon2idMemoryKiB = 19 * 1024
)

func DefaultArgon2idParams() Argon2idParams {
	p, _ := Argon2idProfile(KDFProfileModerate)
	return p
}

// Argon2idProfile returns the parameters for a named profile.
func Argon2idProfile(name string) (Argon2idParams, error) {
	switch name {
	case KDFProfileInteractive:
		return Argon2idParams{Time: 2, MemoryKiB: 19 * 1024, Parallelism: 1, KeyLen: 32}, nil
	case KDFProfileModerate:
		return Argon2idParams{Time: 3, MemoryKiB: 64 * 1024, Parallelism: 4, KeyLen: 32}, nil
	case KDFProfileSensitive:
		return Argon2idParams{Time: 4, MemoryKiB: 128 * 1024, Parallelism: 4, KeyLen: 32}, nil
	default:
		return Argon2idParams{}, fmt.Errorf("unknown KDF profile %q", name)
	}
}

// ValidateArgon2idParams checks that the given parameters meet the
// minimum acceptable thresholds.
func ValidateArgon2idParams(p Argon2idParams) error {
	if p.Time < minArgon2idTime {
		return fmt.Errorf("argon2id time cost %d below minimum %d", p.Time, minArgon2idTime)
	}
	if p.MemoryKiB < minArgon2idMemoryKiB {
		return fmt.Errorf("argon2id memory cost %d KiB below minimum %d KiB", p.MemoryKiB, minArgon2idMemoryKiB)
	}
	if p.Parallelism == 0 {
		return fmt.Errorf("argon2id parallelism must be at least 1")
	}
	if p.KeyLen != 32 {
		return fmt.Errorf("argon2id key length must be 32 bytes")
	}
	return nil
}

// DeriveArgon2idKey derives a key from the passphrase and salt. The
// passphrase should already be normalized (see Normalize).
func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if err := ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}
