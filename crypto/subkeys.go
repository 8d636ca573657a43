package crypto

import (
	"fmt"

	"github.com/bastionvault/bastion/internal/util"
)

// SubkeyPurpose selects one branch of the key hierarchy. Subkeys for
// different purposes are computationally independent: compromise of one
// reveals neither the master key nor its siblings.
type SubkeyPurpose int

const (
	EntryEncryption SubkeyPurpose = iota
	SettingsEncryption
	IntegrityHMAC
	SecondFactor
)

const subkeyInfoPrefix = "bastion:subkey:v1:"

// Label returns the stable protocol label for the purpose. It feeds the
// HKDF info string and the AAD of records sealed under the subkey.
func (p SubkeyPurpose) Label() string {
	switch p {
	case EntryEncryption:
		return "entry-encryption"
	case SettingsEncryption:
		return "settings-encryption"
	case IntegrityHMAC:
		return "integrity-hmac"
	case SecondFactor:
		return "second-factor"
	default:
		return ""
	}
}

func (p SubkeyPurpose) String() string {
	if l := p.Label(); l != "" {
		return l
	}
	return fmt.Sprintf("SubkeyPurpose(%d)", int(p))
}

// DeriveSubkey expands the master key into the purpose-scoped subkey.
// Subkeys are never cached here; they live exactly as long as the
// container handle backing the master key.
func DeriveSubkey(master []byte, purpose SubkeyPurpose) ([]byte, error) {
	if len(master) != MasterKeyLength {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeyLength, len(master))
	}
	label := purpose.Label()
	if label == "" {
		return nil, fmt.Errorf("unknown subkey purpose %d", int(purpose))
	}
	return util.HKDF(master, nil, []byte(subkeyInfoPrefix+label))
}
