// Package totp implements the vault's second factor: time-based
// one-time codes plus single-use backup codes. The shared secret and
// the backup codes exist at rest only as sealed records under the
// second-factor subkey.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bastionvault/bastion/crypto"
	"github.com/bastionvault/bastion/internal/util"
	"github.com/bastionvault/bastion/storage"
	"github.com/bastionvault/bastion/vault"
)

const (
	secretBytes     = 20 // 160 bits per RFC 4226
	digits          = 6
	period          = 30
	backupCodeCount = 10
	issuer          = "Bastion"

	stateRecordID = "state"
	secretAAD     = "2fa-auth-v1"
	backupAAD     = "2fa-backup-v1"
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrNotEnabled indicates an operation that requires an enabled second factor.
var ErrNotEnabled = errors.New("second factor not enabled")

// state is the persisted TOTP state. The sealed fields are encoded
// SealedRecords; enabled is the only plaintext bit.
type state struct {
	Enabled           bool   `json:"enabled"`
	SealedSecret      []byte `json:"sealed_secret"`
	SealedBackupCodes []byte `json:"sealed_backup_codes"`
}

// Manager drives the second-factor subsystem over an unlocked session.
type Manager struct {
	session *vault.Session
	store   storage.Store
	clock   vault.Clock
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the wall-clock source. Default: the session's.
func WithClock(c vault.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// New returns a Manager bound to the session and store, sharing the
// session's time source unless overridden.
func New(session *vault.Session, store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		session: session,
		store:   store,
		clock:   session.Clock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Setup generates a fresh shared secret, its otpauth URI and a set of
// backup codes. Nothing is persisted until Enable.
func (m *Manager) Setup(accountLabel string) (secret, otpauthURI string, backupCodes []string, err error) {
	raw, err := util.RandomBytes(secretBytes)
	if err != nil {
		return "", "", nil, err
	}
	secret = b32.EncodeToString(raw)

	backupCodes, err = newBackupCodes()
	if err != nil {
		return "", "", nil, err
	}
	return secret, otpAuthURL(secret, accountLabel), backupCodes, nil
}

// Enable seals the secret and backup codes and turns the second factor
// on. It requires an unlocked session; a locked one fails with the
// session's error.
func (m *Manager) Enable(secret string, backupCodes []string) error {
	if _, err := b32.DecodeString(strings.ToUpper(secret)); err != nil {
		return fmt.Errorf("invalid secret encoding: %w", err)
	}
	if len(backupCodes) == 0 {
		return fmt.Errorf("backup codes must not be empty")
	}

	sealedSecret, err := m.session.Seal(crypto.SecondFactor, secretAAD, []byte(secret))
	if err != nil {
		return err
	}
	sealedCodes, err := m.sealBackupCodes(backupCodes)
	if err != nil {
		return err
	}

	return m.putState(state{
		Enabled:           true,
		SealedSecret:      sealedSecret.Encode(),
		SealedBackupCodes: sealedCodes,
	})
}

// Enabled reports whether the second factor is on.
func (m *Manager) Enabled() (bool, error) {
	st, err := m.getState()
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Enabled, nil
}

// Verify checks a TOTP code or a backup code. When the subsystem is not
// enabled it succeeds as a no-op; whether that is acceptable is the
// caller's policy. A matching backup code is consumed: it is removed
// from the set and the remainder re-sealed.
func (m *Manager) Verify(code string) (bool, error) {
	st, err := m.getState()
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if !st.Enabled {
		return true, nil
	}

	code = normalizeCode(code)

	secretRec, err := storage.DecodeRecord(st.SealedSecret)
	if err != nil {
		return false, vault.ErrAuthenticationFailed
	}
	secret, err := m.session.Open(crypto.SecondFactor, secretAAD, secretRec)
	if err != nil {
		return false, err
	}
	defer util.WipeBytes(secret)

	if validTOTPCode(code) && m.verifyTOTP(string(secret), code) {
		return true, nil
	}

	return m.verifyBackupCode(st, code)
}

// RegenerateBackupCodes replaces the backup code set with a fresh one.
func (m *Manager) RegenerateBackupCodes() ([]string, error) {
	st, err := m.getState()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotEnabled
	}
	if err != nil {
		return nil, err
	}
	if !st.Enabled {
		return nil, ErrNotEnabled
	}

	codes, err := newBackupCodes()
	if err != nil {
		return nil, err
	}
	sealed, err := m.sealBackupCodes(codes)
	if err != nil {
		return nil, err
	}
	st.SealedBackupCodes = sealed
	if err := m.putState(*st); err != nil {
		return nil, err
	}
	return codes, nil
}

// Disable turns the second factor off and deletes its sealed state.
func (m *Manager) Disable() error {
	err := m.store.Delete(storage.RecordTypeTOTP, stateRecordID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (m *Manager) verifyTOTP(secret, code string) bool {
	skew := int(m.session.Policy().TOTPClockSkewSteps)
	now := m.clock.Now()
	for i := -skew; i <= skew; i++ {
		at := now.Add(time.Duration(i*period) * time.Second)
		expected, err := codeAt(secret, at)
		if err != nil {
			return false
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return true
		}
	}
	return false
}

func (m *Manager) verifyBackupCode(st *state, code string) (bool, error) {
	rec, err := storage.DecodeRecord(st.SealedBackupCodes)
	if err != nil {
		return false, vault.ErrAuthenticationFailed
	}
	plaintext, err := m.session.Open(crypto.SecondFactor, backupAAD, rec)
	if err != nil {
		return false, err
	}
	defer util.WipeBytes(plaintext)

	var codes []string
	if err := json.Unmarshal(plaintext, &codes); err != nil {
		return false, fmt.Errorf("unmarshaling backup codes: %w", err)
	}

	match := -1
	for i, c := range codes {
		// Compare every candidate; no early exit on match.
		if subtle.ConstantTimeCompare([]byte(normalizeCode(c)), []byte(code)) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return false, nil
	}

	// Single use: drop the matched code and re-seal the remainder.
	remaining := append(append([]string{}, codes[:match]...), codes[match+1:]...)
	sealed, err := m.sealBackupCodes(remaining)
	if err != nil {
		return false, err
	}
	st.SealedBackupCodes = sealed
	if err := m.putState(*st); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) sealBackupCodes(codes []string) ([]byte, error) {
	plaintext, err := json.Marshal(codes)
	if err != nil {
		return nil, fmt.Errorf("marshaling backup codes: %w", err)
	}
	defer util.WipeBytes(plaintext)

	rec, err := m.session.Seal(crypto.SecondFactor, backupAAD, plaintext)
	if err != nil {
		return nil, err
	}
	return rec.Encode(), nil
}

func (m *Manager) getState() (*state, error) {
	data, err := m.store.Get(storage.RecordTypeTOTP, stateRecordID)
	if err != nil {
		return nil, err
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshaling totp state: %w", err)
	}
	return &st, nil
}

func (m *Manager) putState(st state) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling totp state: %w", err)
	}
	return m.store.Put(storage.RecordTypeTOTP, stateRecordID, data)
}

func newBackupCodes() ([]string, error) {
	codes := make([]string, backupCodeCount)
	for i := range codes {
		chars, err := util.RandomChars(8)
		if err != nil {
			return nil, err
		}
		codes[i] = chars[:4] + "-" + chars[4:]
	}
	return codes, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(code, " ", "")))
}

func validTOTPCode(code string) bool {
	if len(code) != digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// codeAt computes the RFC 6238 code for the secret at the given time.
func codeAt(secret string, at time.Time) (string, error) {
	decoded, err := b32.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", err
	}

	counter := uint64(at.Unix() / period)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, decoded)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	binCode := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)
	otp := binCode % 1000000
	return fmt.Sprintf("%06d", otp), nil
}

func otpAuthURL(secret, accountLabel string) string {
	label := url.PathEscape(issuer + ":" + accountLabel)
	values := url.Values{}
	values.Set("secret", secret)
	values.Set("issuer", issuer)
	values.Set("algorithm", "SHA1")
	values.Set("digits", strconv.Itoa(digits))
	values.Set("period", strconv.Itoa(period))
	return "otpauth://totp/" + label + "?" + values.Encode()
}
