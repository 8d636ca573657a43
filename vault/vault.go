// Package vault ties the key derivation engine, the key hierarchy, the
// entry cipher and the device binding oracle together under a session
// and lockout state machine.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bastionvault/bastion/audit"
	"github.com/bastionvault/bastion/crypto"
	"github.com/bastionvault/bastion/device"
	"github.com/bastionvault/bastion/internal/util"
	"github.com/bastionvault/bastion/storage"
)

const (
	metaVersion       = 1
	recordIDCurrent   = "current"
	keycheckContext   = "keycheck-v1"
	keycheckPlaintext = "bastion-keycheck-v1"
)

// metadata is the only plaintext record: everything needed to re-derive
// the master key, none of it secret.
type metadata struct {
	Ver         int                   `json:"ver"`
	Salt        []byte                `json:"salt"`
	KDFParams   crypto.Argon2idParams `json:"kdf_params"`
	DeviceBound bool                  `json:"device_bound"`
	CreatedAt   time.Time             `json:"created_at"`
}

// Vault owns a store and the policy governing it. It is an explicit
// context object; nothing here is process-global, so tests can run many
// vaults side by side.
type Vault struct {
	store  storage.Store
	policy Policy
	oracle *device.Oracle
	audit  audit.Logger
	clock  Clock
}

// Option configures a Vault.
type Option func(*Vault)

// WithAudit sets the audit sink. Default: discard.
func WithAudit(l audit.Logger) Option {
	return func(v *Vault) { v.audit = l }
}

// WithClock sets the time source. Default: system clock.
func WithClock(c Clock) Option {
	return func(v *Vault) { v.clock = c }
}

// WithOracle sets the device binding oracle. Default: NewOracle().
func WithOracle(o *device.Oracle) Option {
	return func(v *Vault) { v.oracle = o }
}

// New returns a Vault over the given store and policy.
func New(store storage.Store, policy Policy, opts ...Option) *Vault {
	v := &Vault{
		store:  store,
		policy: policy,
		oracle: device.NewOracle(),
		audit:  audit.NoOp{},
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Policy returns the vault's policy.
func (v *Vault) Policy() Policy {
	return v.policy
}

// Initialized reports whether the store holds a vault.
func (v *Vault) Initialized() (bool, error) {
	_, err := v.store.Get(storage.RecordTypeMeta, recordIDCurrent)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Initialize creates the vault: it generates the KDF salt, derives the
// master key once and seals a keycheck record that later unlocks verify
// against. Device binding follows the policy; an unbindable host fails
// loudly rather than degrading.
func (v *Vault) Initialize(passphrase string) error {
	initialized, err := v.Initialized()
	if err != nil {
		return err
	}
	if initialized {
		return ErrAlreadyInitialized
	}

	params, err := v.policy.kdfParams()
	if err != nil {
		return err
	}

	salt, err := util.RandomBytes(crypto.SaltLength)
	if err != nil {
		return err
	}

	fp, err := v.fingerprint()
	if err != nil {
		return err
	}

	master, err := v.deriveMaster(passphrase, salt, params, fp)
	if err != nil {
		return err
	}
	defer util.WipeBytes(master)

	keycheck, err := sealKeycheck(master, fp)
	if err != nil {
		return err
	}

	meta := metadata{
		Ver:         metaVersion,
		Salt:        salt,
		KDFParams:   params,
		DeviceBound: v.policy.DeviceBindingEnabled,
		CreatedAt:   v.clock.Now().UTC(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling vault metadata: %w", err)
	}

	if err := v.store.Put(storage.RecordTypeMeta, recordIDCurrent, metaBytes); err != nil {
		return err
	}
	return v.store.Put(storage.RecordTypeKeycheck, recordIDCurrent, keycheck.Encode())
}

func (v *Vault) loadMetadata() (*metadata, error) {
	data, err := v.store.Get(storage.RecordTypeMeta, recordIDCurrent)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshaling vault metadata: %w", err)
	}
	if meta.Ver != metaVersion {
		return nil, fmt.Errorf("unsupported vault metadata version: %d", meta.Ver)
	}
	return &meta, nil
}

// fingerprint resolves the device fingerprint when the policy binds to
// the device, nil otherwise. ErrUnbound propagates: the caller decides,
// never a silent downgrade.
func (v *Vault) fingerprint() ([]byte, error) {
	if !v.policy.DeviceBindingEnabled {
		return nil, nil
	}
	fp, err := v.oracle.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("device binding required by policy: %w", err)
	}
	return fp.Bytes, nil
}

func (v *Vault) deriveMaster(passphrase string, salt []byte, params crypto.Argon2idParams, fp []byte) ([]byte, error) {
	opts := []crypto.DeriveMasterKeyOption{crypto.WithArgonParams(params)}
	if fp != nil {
		opts = append(opts, crypto.WithDeviceBinding(fp))
	}
	return crypto.DeriveMasterKey(passphrase, salt, opts...)
}

func sealKeycheck(master, fp []byte) (*storage.SealedRecord, error) {
	subkey, err := crypto.DeriveSubkey(master, crypto.IntegrityHMAC)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(subkey)
	return storage.Seal(subkey, []byte(keycheckPlaintext), entryAAD(crypto.IntegrityHMAC, fp, keycheckContext))
}

func openKeycheck(rec *storage.SealedRecord, master, fp []byte) error {
	subkey, err := crypto.DeriveSubkey(master, crypto.IntegrityHMAC)
	if err != nil {
		return err
	}
	defer util.WipeBytes(subkey)

	plaintext, err := rec.Open(subkey, entryAAD(crypto.IntegrityHMAC, fp, keycheckContext))
	if err != nil {
		return err
	}
	util.WipeBytes(plaintext)
	return nil
}
