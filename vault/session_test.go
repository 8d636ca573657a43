package vault

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionvault/bastion/audit"
	"github.com/bastionvault/bastion/storage"
	"github.com/bastionvault/bastion/storage/memory"
)

// recordingLogger captures audit actions for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	actions []string
}

func (l *recordingLogger) Log(action string, success bool, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.actions = append(l.actions, action)
}

func (l *recordingLogger) count(action string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, a := range l.actions {
		if a == action {
			n++
		}
	}
	return n
}

// gatedStore blocks keycheck reads until the gate opens, holding a
// Submit in the unlocking state.
type gatedStore struct {
	storage.Store
	entered chan struct{}
	gate    chan struct{}
}

func newGatedStore(inner storage.Store) *gatedStore {
	return &gatedStore{
		Store:   inner,
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
}

func (g *gatedStore) Get(recordType, recordID string) ([]byte, error) {
	if recordType == storage.RecordTypeKeycheck {
		g.entered <- struct{}{}
		<-g.gate
	}
	return g.Store.Get(recordType, recordID)
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempts uint
		want     time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{11, 1024 * time.Second},
		{64, time.Hour},
		{1000, time.Hour},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, backoff(c.attempts), "attempts=%d", c.attempts)
	}
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "locked", StateLocked.String())
	assert.Equal(t, "unlocking", StateUnlocking.String())
	assert.Equal(t, "unlocked", StateUnlocked.String())
	assert.Equal(t, "auto-locking", StateAutoLocking.String())
}

func TestSession_WrongPassphraseStartsLockout(t *testing.T) {
	v, clock := testVault(t, memory.NewStore(), testPolicy())
	require.NoError(t, v.Initialize("right"))
	s := v.NewSession()
	ctx := context.Background()

	assert.ErrorIs(t, s.Submit(ctx, "wrong"), ErrAuthenticationFailed)
	assert.Equal(t, uint(1), s.FailedAttempts())

	// Inside the window even the correct passphrase is rejected, and the
	// rejection happens before key derivation.
	var locked *LockedOutError
	err := s.Submit(ctx, "right")
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, time.Second, locked.RetryAfter)
	assert.Equal(t, uint(1), s.FailedAttempts(), "lockout rejections are not attempts")

	clock.Advance(time.Second + time.Millisecond)
	require.NoError(t, s.Submit(ctx, "right"))
	assert.Equal(t, StateUnlocked, s.State())
	assert.Equal(t, uint(0), s.FailedAttempts())
	s.Lock()
}

func TestSession_BackoffDoublesPerFailure(t *testing.T) {
	policy := testPolicy()
	policy.MaxFailedAttempts = 10
	v, clock := testVault(t, memory.NewStore(), policy)
	require.NoError(t, v.Initialize("right"))
	s := v.NewSession()
	ctx := context.Background()

	for attempt := uint(1); attempt <= 4; attempt++ {
		assert.ErrorIs(t, s.Submit(ctx, "wrong"), ErrAuthenticationFailed)

		var locked *LockedOutError
		require.ErrorAs(t, s.Submit(ctx, "wrong"), &locked)
		assert.Equal(t, backoff(attempt), locked.RetryAfter)

		clock.Advance(backoff(attempt) + time.Millisecond)
	}
}

func TestSession_ConcurrentSubmitRejected(t *testing.T) {
	gated := newGatedStore(memory.NewStore())
	v := New(gated, testPolicy(),
		WithOracle(testOracle("machine-a")),
		WithClock(newFakeClock()),
	)
	require.NoError(t, v.Initialize("pass"))

	s := v.NewSession()
	done := make(chan error, 1)
	go func() {
		done <- s.Submit(context.Background(), "pass")
	}()

	// The first Submit is now parked on the keycheck read.
	<-gated.entered
	assert.Equal(t, StateUnlocking, s.State())
	assert.ErrorIs(t, s.Submit(context.Background(), "whatever"), ErrUnlockInProgress)

	close(gated.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateUnlocked, s.State())
	assert.Equal(t, uint(0), s.FailedAttempts(), "the rejected attempt does not count")
	s.Lock()
}

func TestSession_WipeAfterMaxFailures(t *testing.T) {
	store := memory.NewStore()
	clock := newFakeClock()
	log := &recordingLogger{}
	v := New(store, testPolicy(),
		WithOracle(testOracle("machine-a")),
		WithClock(clock),
		WithAudit(log),
	)
	require.NoError(t, v.Initialize("right"))
	s := v.NewSession()
	ctx := context.Background()

	limit := v.Policy().MaxFailedAttempts
	require.Equal(t, uint(5), limit)

	for attempt := uint(1); attempt < limit; attempt++ {
		assert.ErrorIs(t, s.Submit(ctx, "wrong"), ErrAuthenticationFailed)
		clock.Advance(backoff(attempt) + time.Millisecond)
	}

	assert.ErrorIs(t, s.Submit(ctx, "wrong"), ErrWipeTriggered)
	assert.Equal(t, uint(0), s.FailedAttempts(), "counter resets after wipe")
	assert.Equal(t, 1, log.count(audit.ActionWipe), "the wipe is logged")
	assert.Equal(t, int(limit-1), log.count(audit.ActionUnlockFailed))

	initialized, err := v.Initialized()
	require.NoError(t, err)
	assert.False(t, initialized, "wipe destroys every record")

	// Even the correct passphrase has nothing to open now.
	assert.ErrorIs(t, s.Submit(ctx, "right"), ErrNotInitialized)

	// The wiped store accepts a fresh vault, and failures start a fresh
	// count from the base window.
	require.NoError(t, v.Initialize("new-pass"))
	assert.ErrorIs(t, s.Submit(ctx, "wrong"), ErrAuthenticationFailed)
	assert.Equal(t, uint(1), s.FailedAttempts())
	clock.Advance(backoff(1) + time.Millisecond)
	require.NoError(t, s.Submit(ctx, "new-pass"))
	s.Lock()
}

func TestSession_SuccessResetsBackoff(t *testing.T) {
	v, clock := testVault(t, memory.NewStore(), testPolicy())
	require.NoError(t, v.Initialize("right"))
	s := v.NewSession()
	ctx := context.Background()

	for attempt := uint(1); attempt <= 3; attempt++ {
		assert.ErrorIs(t, s.Submit(ctx, "wrong"), ErrAuthenticationFailed)
		clock.Advance(backoff(attempt) + time.Millisecond)
	}
	require.NoError(t, s.Submit(ctx, "right"))
	s.Lock()

	// The next failure starts over at the base window.
	assert.ErrorIs(t, s.Submit(ctx, "wrong"), ErrAuthenticationFailed)
	var locked *LockedOutError
	require.ErrorAs(t, s.Submit(ctx, "wrong"), &locked)
	assert.Equal(t, time.Second, locked.RetryAfter)
}

func TestSession_IdleTimeout(t *testing.T) {
	s, _, clock := unlockedSession(t)
	timeout := time.Duration(s.Policy().SessionTimeoutSeconds) * time.Second

	clock.Advance(timeout - time.Second)
	assert.Equal(t, StateUnlocked, s.State())

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateLocked, s.State())

	_, err := s.GetEntry(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrLocked)
}

func TestSession_TouchPostponesTimeout(t *testing.T) {
	s, _, clock := unlockedSession(t)
	timeout := time.Duration(s.Policy().SessionTimeoutSeconds) * time.Second

	clock.Advance(timeout - time.Second)
	s.Touch()
	clock.Advance(timeout - time.Second)
	assert.Equal(t, StateUnlocked, s.State())

	clock.Advance(timeout)
	assert.Equal(t, StateLocked, s.State())
}

func TestSession_OperationsCountAsActivity(t *testing.T) {
	s, _, clock := unlockedSession(t)
	timeout := time.Duration(s.Policy().SessionTimeoutSeconds) * time.Second
	ctx := context.Background()

	require.NoError(t, s.PutEntry(ctx, "mail", []byte("v")))
	clock.Advance(timeout - time.Second)
	_, err := s.GetEntry(ctx, "mail")
	require.NoError(t, err)

	clock.Advance(timeout - time.Second)
	assert.Equal(t, StateUnlocked, s.State(), "the read postponed the deadline")
}

func TestSession_OnBackground(t *testing.T) {
	s, _, _ := unlockedSession(t)
	s.OnBackground()
	assert.Equal(t, StateLocked, s.State())
}

func TestSession_OnBackgroundDisabledByPolicy(t *testing.T) {
	policy := testPolicy()
	policy.AutoLockOnBackground = false
	v, _ := testVault(t, memory.NewStore(), policy)
	require.NoError(t, v.Initialize("pass"))

	s := v.NewSession()
	require.NoError(t, s.Submit(context.Background(), "pass"))
	defer s.Lock()

	s.OnBackground()
	assert.Equal(t, StateUnlocked, s.State())
}

func TestSession_OnMemoryPressure(t *testing.T) {
	s, _, _ := unlockedSession(t)
	s.OnMemoryPressure()
	assert.Equal(t, StateLocked, s.State())
}

func TestSession_SubmitCancelledContext(t *testing.T) {
	v, _ := testVault(t, memory.NewStore(), testPolicy())
	require.NoError(t, v.Initialize("right"))
	s := v.NewSession()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Submit(ctx, "right"), context.Canceled)
	assert.Equal(t, uint(0), s.FailedAttempts(), "cancellation is not a failed attempt")
	assert.Equal(t, StateLocked, s.State())
}

func TestSession_SubmitWhileUnlocked(t *testing.T) {
	s, _, _ := unlockedSession(t)
	require.NoError(t, s.Submit(context.Background(), "ignored"))
	assert.Equal(t, StateUnlocked, s.State())
}

func TestSession_LockIsIdempotent(t *testing.T) {
	s, _, _ := unlockedSession(t)
	s.Lock()
	s.Lock()
	assert.Equal(t, StateLocked, s.State())
}
