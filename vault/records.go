package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/bastionvault/bastion/crypto"
	bcrypto "github.com/bastionvault/bastion/internal/crypto"
	"github.com/bastionvault/bastion/internal/util"
	"github.com/bastionvault/bastion/secmem"
	"github.com/bastionvault/bastion/storage"
)

func entryAAD(purpose crypto.SubkeyPurpose, fp []byte, context string) []byte {
	return bcrypto.AADEntry(purpose.Label(), fp, context)
}

// subkeyHandle returns the live handle for the purpose, enforcing the
// unlocked state and refreshing the idle deadline.
func (s *Session) subkeyHandle(purpose crypto.SubkeyPurpose) (secmem.Handle, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	if s.state != StateUnlocked {
		return 0, nil, ErrLocked
	}
	h, ok := s.subkeys[purpose]
	if !ok {
		return 0, nil, fmt.Errorf("no subkey for purpose %s", purpose)
	}
	s.lastActivity = s.vault.clock.Now()
	return h, util.CopyBytes(s.fingerprint), nil
}

// Seal encrypts plaintext under the purpose's subkey, bound to the
// session's device fingerprint and the given context string.
func (s *Session) Seal(purpose crypto.SubkeyPurpose, contextStr string, plaintext []byte) (*storage.SealedRecord, error) {
	h, fp, err := s.subkeyHandle(purpose)
	if err != nil {
		return nil, err
	}

	var rec *storage.SealedRecord
	err = s.container.WithBytes(h, func(subkey []byte) error {
		var sealErr error
		rec, sealErr = storage.Seal(subkey, plaintext, entryAAD(purpose, fp, contextStr))
		return sealErr
	})
	if errors.Is(err, secmem.ErrDoubleRelease) {
		// The session locked between the handle lookup and the read.
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Open decrypts a sealed record. The purpose, fingerprint and context
// must match the seal exactly; any mismatch returns
// ErrAuthenticationFailed with no further detail.
//
// Returned plaintext is owned by the caller, who should wipe it as soon
// as it has been consumed.
func (s *Session) Open(purpose crypto.SubkeyPurpose, contextStr string, rec *storage.SealedRecord) ([]byte, error) {
	h, fp, err := s.subkeyHandle(purpose)
	if err != nil {
		return nil, err
	}

	var plaintext []byte
	err = s.container.WithBytes(h, func(subkey []byte) error {
		var openErr error
		plaintext, openErr = rec.Open(subkey, entryAAD(purpose, fp, contextStr))
		return openErr
	})
	if errors.Is(err, storage.ErrAuthenticationFailed) {
		return nil, ErrAuthenticationFailed
	}
	if errors.Is(err, secmem.ErrDoubleRelease) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// PutEntry seals and stores a secret record. Existing entries are
// superseded by the new sealed record, never mutated.
func (s *Session) PutEntry(ctx context.Context, entryID string, plaintext []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(entryID, "entry ID"); err != nil {
		return err
	}
	rec, err := s.Seal(crypto.EntryEncryption, "entry:"+entryID, plaintext)
	if err != nil {
		return err
	}
	return s.vault.store.Put(storage.RecordTypeEntry, entryID, rec.Encode())
}

// GetEntry retrieves and opens a secret record.
func (s *Session) GetEntry(ctx context.Context, entryID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(entryID, "entry ID"); err != nil {
		return nil, err
	}
	// Gate on the session state before consulting the store, so a locked
	// session answers identically for present and absent IDs.
	if _, _, err := s.subkeyHandle(crypto.EntryEncryption); err != nil {
		return nil, err
	}
	data, err := s.vault.store.Get(storage.RecordTypeEntry, entryID)
	if err != nil {
		return nil, err
	}
	rec, err := storage.DecodeRecord(data)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return s.Open(crypto.EntryEncryption, "entry:"+entryID, rec)
}

// DeleteEntry removes a secret record.
func (s *Session) DeleteEntry(ctx context.Context, entryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(entryID, "entry ID"); err != nil {
		return err
	}
	if _, _, err := s.subkeyHandle(crypto.EntryEncryption); err != nil {
		return err
	}
	return s.vault.store.Delete(storage.RecordTypeEntry, entryID)
}

// ListEntries lists stored entry IDs.
func (s *Session) ListEntries(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, _, err := s.subkeyHandle(crypto.EntryEncryption); err != nil {
		return nil, err
	}
	return s.vault.store.List(storage.RecordTypeEntry)
}

// PutSetting seals and stores a settings value under the settings subkey.
func (s *Session) PutSetting(ctx context.Context, name string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(name, "setting name"); err != nil {
		return err
	}
	rec, err := s.Seal(crypto.SettingsEncryption, "setting:"+name, value)
	if err != nil {
		return err
	}
	return s.vault.store.Put(storage.RecordTypeSetting, name, rec.Encode())
}

// GetSetting retrieves and opens a settings value.
func (s *Session) GetSetting(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(name, "setting name"); err != nil {
		return nil, err
	}
	if _, _, err := s.subkeyHandle(crypto.SettingsEncryption); err != nil {
		return nil, err
	}
	data, err := s.vault.store.Get(storage.RecordTypeSetting, name)
	if err != nil {
		return nil, err
	}
	rec, err := storage.DecodeRecord(data)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return s.Open(crypto.SettingsEncryption, "setting:"+name, rec)
}
