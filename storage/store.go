package storage

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Record types persisted by the vault.
const (
	RecordTypeMeta     = "META"
	RecordTypeKeycheck = "KEYCHECK"
	RecordTypeEntry    = "ENTRY"
	RecordTypeSetting  = "SETTING"
	RecordTypeTOTP     = "TOTP"
)

// Store is the opaque blob store the vault persists into. Values are
// opaque to the store; sealed records arrive already encoded.
type Store interface {
	Put(recordType, recordID string, data []byte) error
	Get(recordType, recordID string) ([]byte, error)
	Delete(recordType, recordID string) error
	List(recordType string) ([]string, error)
	// WipeAll irreversibly destroys every record. Backs the
	// failed-attempt wipe policy.
	WipeAll() error
}
