package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFKeyLength is the output length for single-key derivations.
const HKDFKeyLength = 32

// HKDF derives a 32-byte key via HKDF-SHA256.
func HKDF(seed, salt, info []byte) ([]byte, error) {
	return HKDFBytes(seed, salt, info, HKDFKeyLength)
}

// HKDFBytes derives n bytes via HKDF-SHA256. Used where a single
// expansion must yield both a key and a nonce.
func HKDFBytes(seed, salt, info []byte, n int) ([]byte, error) {
	h := hkdf.New(sha256.New, seed, salt, info)
	k := make([]byte, n)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}
