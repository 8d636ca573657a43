package vault

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotInitialized indicates no vault exists in the store.
	ErrNotInitialized = errors.New("vault not initialized")
	// ErrAlreadyInitialized indicates the store already holds a vault.
	ErrAlreadyInitialized = errors.New("vault already initialized")
	// ErrAuthenticationFailed covers wrong passphrase and corrupted or
	// tampered data alike. Deliberately indistinguishable.
	ErrAuthenticationFailed = errors.New("incorrect passphrase or corrupted data")
	// ErrWipeTriggered indicates the failed-attempt limit was reached and
	// every record has been destroyed.
	ErrWipeTriggered = errors.New("vault wiped after repeated failed unlock attempts")
	// ErrLocked indicates an operation that needs an unlocked session.
	ErrLocked = errors.New("session is locked")
	// ErrUnlockInProgress indicates a concurrent Submit was rejected.
	ErrUnlockInProgress = errors.New("unlock already in progress")
)

// LockedOutError rejects transitions while a lockout window is active,
// regardless of passphrase correctness.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("locked out, retry in %s", e.RetryAfter.Round(time.Millisecond))
}
