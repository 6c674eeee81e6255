package vault

import (
	"bytes"
	"errors"
	"testing"
)

func TestCipher_RoundTrip(t *testing.T) {
	c := CipherFromSessionID("session-1")

	for _, plain := range [][]byte{
		[]byte("a"),
		[]byte("exactly sixteen!"),
		[]byte(`{"auth_code":"123456","session_id":"1","saved_at":"2024-01-01 00:00:00"}`),
		{},
	} {
		enc := c.Encrypt(plain)
		got, err := c.Decrypt(enc)
		if err != nil {
			t.Fatalf("Decrypt(Encrypt(%q)) error = %v", plain, err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("Decrypt(Encrypt(%q)) = %q", plain, got)
		}
	}
}

func TestCipher_Deterministic(t *testing.T) {
	a := CipherFromSessionID("42").Encrypt([]byte("same"))
	b := CipherFromSessionID("42").Encrypt([]byte("same"))
	if a != b {
		t.Errorf("same session id produced different ciphertexts: %q vs %q", a, b)
	}

	c := CipherFromSessionID("43").Encrypt([]byte("same"))
	if a == c {
		t.Error("different session ids produced the same ciphertext")
	}
}

func TestPKCS7(t *testing.T) {
	padded := pkcs7Pad([]byte("abc"), 16)
	if len(padded) != 16 || padded[15] != 13 {
		t.Errorf("pkcs7Pad() = %v", padded)
	}

	full := pkcs7Pad(bytes.Repeat([]byte{1}, 16), 16)
	if len(full) != 32 || full[31] != 16 {
		t.Errorf("pkcs7Pad(full block) length = %d, last = %d", len(full), full[31])
	}

	bad := [][]byte{
		nil,
		make([]byte, 15),
		append(bytes.Repeat([]byte{0}, 15), 0),
		append(bytes.Repeat([]byte{0}, 15), 17),
		append(bytes.Repeat([]byte{0}, 14), 3, 2),
	}
	for _, b := range bad {
		if _, err := pkcs7Unpad(b, 16); !errors.Is(err, ErrBadPadding) {
			t.Errorf("pkcs7Unpad(%v) error = %v, want ErrBadPadding", b, err)
		}
	}
}
