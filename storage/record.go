// Package storage defines the sealed record format and the opaque blob
// store the vault persists into.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bastionvault/bastion/internal/util"
)

// SaltLength is the per-record salt length.
const SaltLength = 32

// ErrAuthenticationFailed is returned whenever a record cannot be
// opened: wrong key, wrong AAD, or tampered bytes. Deliberately carries
// no further detail.
var ErrAuthenticationFailed = errors.New("authentication failed")

var sealInfo = []byte("bastion:seal:v1")

// SealedRecord is an immutable AES-256-GCM sealed payload. Records are
// superseded by re-encryption, never mutated in place.
type SealedRecord struct {
	Salt       []byte `json:"salt"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}

// deriveRecordKey expands (subkey, salt) into a one-shot AES key and
// GCM nonce. A fresh 32-byte salt per seal makes nonce reuse under the
// long-lived subkey statistically precluded, across restarts included.
func deriveRecordKey(subkey, salt []byte) (key, nonce []byte, err error) {
	okm, err := util.HKDFBytes(subkey, salt, sealInfo, util.AESKeySize+util.GCMNonceSize)
	if err != nil {
		return nil, nil, err
	}
	return okm[:util.AESKeySize], okm[util.AESKeySize:], nil
}

// Seal encrypts plaintext under the subkey, bound to aad.
func Seal(subkey, plaintext, aad []byte) (*SealedRecord, error) {
	if len(subkey) != util.AESKeySize {
		return nil, fmt.Errorf("subkey must be %d bytes, got %d", util.AESKeySize, len(subkey))
	}

	salt, err := util.RandomBytes(SaltLength)
	if err != nil {
		return nil, err
	}
	key, nonce, err := deriveRecordKey(subkey, salt)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	ciphertext, tag, err := util.EncryptAESGCM(key, nonce, plaintext, aad)
	if err != nil {
		return nil, err
	}

	return &SealedRecord{Salt: salt, Ciphertext: ciphertext, Tag: tag}, nil
}

// Open decrypts the record. The aad must match the seal exactly; any
// mismatch or tampering fails closed with ErrAuthenticationFailed and
// no partial plaintext.
func (r *SealedRecord) Open(subkey, aad []byte) ([]byte, error) {
	if len(subkey) != util.AESKeySize {
		return nil, fmt.Errorf("subkey must be %d bytes, got %d", util.AESKeySize, len(subkey))
	}
	if len(r.Salt) != SaltLength || len(r.Tag) != util.GCMTagSize {
		return nil, ErrAuthenticationFailed
	}

	key, nonce, err := deriveRecordKey(subkey, r.Salt)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	plaintext, err := util.DecryptAESGCM(key, nonce, r.Ciphertext, r.Tag, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Encode serializes the record as
//
//	salt length (4 bytes, big endian) || salt || ciphertext || tag
//
// matching the opaque-blob contract of the Store.
func (r *SealedRecord) Encode() []byte {
	out := make([]byte, 0, 4+len(r.Salt)+len(r.Ciphertext)+len(r.Tag))
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(r.Salt)))
	out = append(out, l[:]...)
	out = append(out, r.Salt...)
	out = append(out, r.Ciphertext...)
	out = append(out, r.Tag...)
	return out
}

// DecodeRecord parses the Encode framing.
func DecodeRecord(data []byte) (*SealedRecord, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("record too short")
	}
	saltLen := binary.BigEndian.Uint32(data[:4])
	if saltLen != SaltLength {
		return nil, fmt.Errorf("unexpected salt length %d", saltLen)
	}
	rest := data[4:]
	if len(rest) < int(saltLen)+util.GCMTagSize {
		return nil, fmt.Errorf("record too short")
	}

	salt := util.CopyBytes(rest[:saltLen])
	rest = rest[saltLen:]
	tag := util.CopyBytes(rest[len(rest)-util.GCMTagSize:])
	ciphertext := util.CopyBytes(rest[:len(rest)-util.GCMTagSize])

	return &SealedRecord{Salt: salt, Ciphertext: ciphertext, Tag: tag}, nil
}
