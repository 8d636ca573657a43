package bcrypto

import (
	"bytes"
	"testing"
)

func TestAADEntry(t *testing.T) {
	fp := []byte{0xAA, 0xBB}

	a := AADEntry("entry-encryption", fp, "entry:mail")
	b := AADEntry("entry-encryption", fp, "entry:mail")
	if !bytes.Equal(a, b) {
		t.Error("AAD construction should be deterministic")
	}

	if bytes.Equal(a, AADEntry("settings-encryption", fp, "entry:mail")) {
		t.Error("different purpose should change the AAD")
	}
	if bytes.Equal(a, AADEntry("entry-encryption", []byte{0xAA, 0xBC}, "entry:mail")) {
		t.Error("different fingerprint should change the AAD")
	}
	if bytes.Equal(a, AADEntry("entry-encryption", fp, "entry:bank")) {
		t.Error("different context should change the AAD")
	}
}

func TestAADEntry_LengthPrefixPreventsConfusion(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide.
	a := AADEntry("ab", nil, "c")
	b := AADEntry("a", nil, "bc")
	if bytes.Equal(a, b) {
		t.Error("length prefixing should prevent boundary confusion")
	}
}
