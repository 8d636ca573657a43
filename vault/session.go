package vault

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bastionvault/bastion/audit"
	"github.com/bastionvault/bastion/crypto"
	"github.com/bastionvault/bastion/internal/util"
	"github.com/bastionvault/bastion/secmem"
	"github.com/bastionvault/bastion/storage"
)

// SessionState is the unlock state of a session.
type SessionState int

const (
	StateLocked SessionState = iota
	StateUnlocking
	StateUnlocked
	StateAutoLocking
)

func (s SessionState) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateUnlocking:
		return "unlocking"
	case StateUnlocked:
		return "unlocked"
	case StateAutoLocking:
		return "auto-locking"
	default:
		return "unknown"
	}
}

const (
	backoffBase = time.Second
	backoffMax  = time.Hour
)

// backoff returns the lockout window after the n-th consecutive failure:
// 1s after the first, doubling per attempt, capped. Monotonically
// non-decreasing in n.
func backoff(n uint) time.Duration {
	if n == 0 {
		return 0
	}
	d := backoffBase
	for i := uint(1); i < n; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}

// Session is the vault's session and lockout state machine. All state
// transitions are serialized under one mutex; the expensive key
// derivation runs outside it, with the Unlocking state standing guard
// against interleaved attempts.
//
// Idle-timeout and lockout expiry are wall-clock-driven and re-evaluated
// lazily on every state query and operation; no background timer is
// required for correctness.
type Session struct {
	vault     *Vault
	container *secmem.Container

	mu             sync.Mutex
	state          SessionState
	failedAttempts uint
	lastActivity   time.Time
	lockoutUntil   time.Time
	subkeys        map[crypto.SubkeyPurpose]secmem.Handle
	fingerprint    []byte
}

// NewSession returns a locked session over the vault.
func (v *Vault) NewSession() *Session {
	return &Session{
		vault:     v,
		container: secmem.NewContainer(),
		state:     StateLocked,
	}
}

// State returns the current state, applying any elapsed auto-lock
// deadline first.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return s.state
}

// FailedAttempts returns the consecutive failed unlock count.
func (s *Session) FailedAttempts() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedAttempts
}

// HardwareProtected reports whether the session's key material sits in
// page-locked memory.
func (s *Session) HardwareProtected() bool {
	return s.container.HardwareProtected()
}

// Policy returns the policy of the owning vault.
func (s *Session) Policy() Policy {
	return s.vault.policy
}

// Clock returns the time source of the owning vault.
func (s *Session) Clock() Clock {
	return s.vault.clock
}

// Submit attempts to unlock the session with the passphrase.
//
// An active lockout window rejects the attempt before any key
// derivation, regardless of passphrase correctness, so timing cannot
// distinguish "wrong password" from "right password, still locked out".
// Reaching the policy's failed-attempt limit destroys every record in
// the store and returns ErrWipeTriggered.
func (s *Session) Submit(ctx context.Context, passphrase string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.refreshLocked()
	switch s.state {
	case StateUnlocking:
		s.mu.Unlock()
		return ErrUnlockInProgress
	case StateUnlocked:
		s.lastActivity = s.vault.clock.Now()
		s.mu.Unlock()
		return nil
	}
	if retry, active := s.lockoutRemainingLocked(); active {
		s.mu.Unlock()
		s.vault.audit.Log(audit.ActionLockout, false, map[string]interface{}{
			"retry_after_seconds": retry.Seconds(),
		})
		return &LockedOutError{RetryAfter: retry}
	}

	meta, err := s.vault.loadMetadata()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = StateUnlocking
	s.mu.Unlock()

	master, fp, deriveErr := s.deriveAndVerify(ctx, passphrase, meta)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnlocking {
		// Explicitly locked or wiped while deriving; discard the result.
		util.WipeBytes(master)
		return ErrLocked
	}

	if deriveErr != nil {
		s.state = StateLocked
		// Only authentication failures count against the wipe limit;
		// cancellation and environment errors (unbindable device,
		// missing store) are not unlock attempts.
		if errors.Is(deriveErr, ErrAuthenticationFailed) {
			return s.recordFailureLocked(deriveErr)
		}
		return deriveErr
	}

	if err := s.adoptKeysLocked(master, fp); err != nil {
		s.state = StateLocked
		return err
	}

	now := s.vault.clock.Now()
	s.state = StateUnlocked
	s.failedAttempts = 0
	s.lockoutUntil = time.Time{}
	s.lastActivity = now
	s.fingerprint = fp
	s.vault.audit.Log(audit.ActionUnlock, true, nil)
	return nil
}

// deriveAndVerify runs the memory-hard derivation off the session lock
// and verifies the result against the keycheck record. The derivation
// itself is not interruptible; cancellation discards the result.
func (s *Session) deriveAndVerify(ctx context.Context, passphrase string, meta *metadata) (master, fp []byte, err error) {
	if meta.DeviceBound {
		fpResult, ferr := s.vault.oracle.Fingerprint()
		if ferr != nil {
			return nil, nil, ferr
		}
		fp = fpResult.Bytes
	}

	master, err = s.vault.deriveMaster(passphrase, meta.Salt, meta.KDFParams, fp)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		util.WipeBytes(master)
		return nil, nil, err
	}

	data, err := s.vault.store.Get(storage.RecordTypeKeycheck, recordIDCurrent)
	if err != nil {
		util.WipeBytes(master)
		return nil, nil, ErrAuthenticationFailed
	}
	keycheck, err := storage.DecodeRecord(data)
	if err != nil {
		util.WipeBytes(master)
		return nil, nil, ErrAuthenticationFailed
	}
	if err := openKeycheck(keycheck, master, fp); err != nil {
		util.WipeBytes(master)
		return nil, nil, ErrAuthenticationFailed
	}
	return master, fp, nil
}

// recordFailureLocked applies the lockout/wipe policy after a failed
// attempt. Caller holds the mutex.
func (s *Session) recordFailureLocked(cause error) error {
	s.failedAttempts++
	attempts := s.failedAttempts

	if attempts >= s.vault.policy.MaxFailedAttempts && s.vault.policy.MaxFailedAttempts > 0 {
		// Irreversible: destroy the records, not just the key. Logged
		// unconditionally, never retried.
		wipeErr := s.vault.store.WipeAll()
		s.vault.audit.Log(audit.ActionWipe, wipeErr == nil, map[string]interface{}{
			"failed_attempts": attempts,
		})
		s.failedAttempts = 0
		s.lockoutUntil = time.Time{}
		s.container.ReleaseAll()
		s.subkeys = nil
		return ErrWipeTriggered
	}

	window := backoff(attempts)
	s.lockoutUntil = s.vault.clock.Now().Add(window)
	s.vault.audit.Log(audit.ActionUnlockFailed, false, map[string]interface{}{
		"failed_attempts": attempts,
		"lockout_seconds": window.Seconds(),
	})
	return cause
}

func (s *Session) lockoutRemainingLocked() (time.Duration, bool) {
	if s.lockoutUntil.IsZero() {
		return 0, false
	}
	remaining := s.lockoutUntil.Sub(s.vault.clock.Now())
	if remaining <= 0 {
		s.lockoutUntil = time.Time{}
		return 0, false
	}
	return remaining, true
}

// adoptKeysLocked moves the master key and its four subkeys into the
// secure container. The plaintext copies are wiped on every path.
func (s *Session) adoptKeysLocked(master, fp []byte) error {
	purposes := []crypto.SubkeyPurpose{
		crypto.EntryEncryption,
		crypto.SettingsEncryption,
		crypto.IntegrityHMAC,
		crypto.SecondFactor,
	}

	subkeys := make(map[crypto.SubkeyPurpose]secmem.Handle, len(purposes))
	for _, p := range purposes {
		sub, err := crypto.DeriveSubkey(master, p)
		if err != nil {
			util.WipeBytes(master)
			s.container.ReleaseAll()
			return err
		}
		h, err := s.container.Acquire(sub) // wipes sub
		if err != nil {
			util.WipeBytes(master)
			s.container.ReleaseAll()
			return err
		}
		subkeys[p] = h
	}
	util.WipeBytes(master)
	s.subkeys = subkeys
	return nil
}

// Lock releases all key material and locks the session.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked(audit.ActionLock)
}

// OnBackground arms auto-lock when the host reports the app moved to
// the background, per policy.
func (s *Session) OnBackground() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.vault.policy.AutoLockOnBackground || s.state != StateUnlocked {
		return
	}
	s.autoLockLocked()
}

// OnMemoryPressure releases every live secret immediately and locks.
// Hosts register this with their memory-pressure notifier.
func (s *Session) OnMemoryPressure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked(audit.ActionLock)
}

// Touch records user activity, postponing the idle deadline.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	if s.state == StateUnlocked {
		s.lastActivity = s.vault.clock.Now()
	}
}

// refreshLocked applies an elapsed idle deadline. Caller holds the mutex.
func (s *Session) refreshLocked() {
	if s.state != StateUnlocked {
		return
	}
	timeout := s.vault.policy.sessionTimeout()
	if timeout <= 0 {
		return
	}
	if s.vault.clock.Now().Sub(s.lastActivity) >= timeout {
		s.autoLockLocked()
	}
}

// autoLockLocked transitions Unlocked -> AutoLocking -> Locked. The
// container release happens before the state flips back to Locked.
func (s *Session) autoLockLocked() {
	s.state = StateAutoLocking
	s.releaseKeysLocked()
	s.state = StateLocked
	s.vault.audit.Log(audit.ActionAutoLock, true, nil)
}

func (s *Session) lockLocked(action string) {
	if s.state == StateLocked {
		return
	}
	s.releaseKeysLocked()
	s.state = StateLocked
	s.vault.audit.Log(action, true, nil)
}

func (s *Session) releaseKeysLocked() {
	s.container.ReleaseAll()
	s.subkeys = nil
	s.fingerprint = nil
}
