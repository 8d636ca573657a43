// Package bcrypto builds the associated-data strings that bind
// ciphertexts to their purpose, device and usage context.
package bcrypto

import (
	"encoding/binary"
)

const aadVersion = 1

// AADEntry binds a sealed record to its subkey purpose, the device
// fingerprint in force when it was sealed, and a free-form context
// string (record ID, "2fa-auth-v1", ...). All three must match exactly
// on open. An empty fingerprint means the record was sealed unbound.
func AADEntry(purpose string, fingerprint []byte, context string) []byte {
	return buildAAD(purpose, fingerprint, context, aadVersion)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, v)
			res = append(res, b...)
		case int:
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, uint32(v))
			res = append(res, b...)
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(data)))
	b = append(b, l...)
	b = append(b, data...)
	return b
}
