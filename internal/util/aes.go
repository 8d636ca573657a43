package util

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const (
	// AESKeySize is the key size for AES-256-GCM.
	AESKeySize = 32
	// GCMNonceSize is the standard GCM nonce size.
	GCMNonceSize = 12
	// GCMTagSize is the GCM authentication tag size.
	GCMTagSize = 16
)

// EncryptAESGCM encrypts plaintext under AES-256-GCM with an explicit
// nonce and returns ciphertext and tag separately. The nonce must never
// repeat under the same key; callers derive it from per-call salts.
func EncryptAESGCM(rawKey, nonce, plainText, aad []byte) (cipherText, tag []byte, err error) {
	gcm, err := newGCM(rawKey, nonce)
	if err != nil {
		return nil, nil, err
	}

	sealed := gcm.Seal(nil, nonce, plainText, aad)
	split := len(sealed) - GCMTagSize
	return sealed[:split], sealed[split:], nil
}

// DecryptAESGCM reverses EncryptAESGCM. Any mismatch of key, nonce, tag
// or AAD fails without returning partial plaintext.
func DecryptAESGCM(rawKey, nonce, cipherText, tag, aad []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey, nonce)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(cipherText)+len(tag))
	sealed = append(sealed, cipherText...)
	sealed = append(sealed, tag...)

	plainText, err := gcm.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plainText, nil
}

func newGCM(rawKey, nonce []byte) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}
	if len(nonce) != GCMNonceSize {
		return nil, fmt.Errorf("invalid GCM nonce size: got %d, want %d", len(nonce), GCMNonceSize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
