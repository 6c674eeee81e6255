// Package crypto seals screen frames end to end between a client and its
// agent so the relay only ever forwards ciphertext.
//
// Both ends derive the same key from values they already share: the auth
// code the client joined with and the client id the relay assigned.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of the frame key in bytes.
	KeySize = chacha20poly1305.KeySize

	// NonceSize is the size of the XChaCha20-Poly1305 nonce.
	NonceSize = chacha20poly1305.NonceSizeX

	// TagSize is the size of the Poly1305 authentication tag.
	TagSize = chacha20poly1305.Overhead

	// Overhead is added to every sealed frame: nonce prepended, tag appended.
	Overhead = NonceSize + TagSize

	hkdfInfo = "deskrelay-frame-v1"
)

var (
	// ErrMissingSecret is returned when the auth code or client id is empty.
	ErrMissingSecret = errors.New("auth code and client id are required")

	// ErrCiphertextTooShort is returned for input shorter than Overhead.
	ErrCiphertextTooShort = errors.New("ciphertext too short")

	// ErrDecryptionFailed is returned when authentication fails.
	ErrDecryptionFailed = errors.New("frame decryption failed")
)

// FrameKey seals and opens frames. It is safe for concurrent use.
type FrameKey struct {
	aead cipher.AEAD
}

// DeriveFrameKey derives the key for one client session with HKDF-SHA256.
func DeriveFrameKey(authCode, clientID string) (*FrameKey, error) {
	if authCode == "" || clientID == "" {
		return nil, ErrMissingSecret
	}

	var key [KeySize]byte
	reader := hkdf.New(sha256.New, []byte(authCode), []byte(clientID), []byte(hkdfInfo))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return nil, fmt.Errorf("derive frame key: %w", err)
	}
	defer zeroKey(&key)

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &FrameKey{aead: aead}, nil
}

// Seal encrypts plaintext under a random nonce. Output is
// nonce || ciphertext || tag.
func (k *FrameKey) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return k.aead.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// Open decrypts the output of Seal.
func (k *FrameKey) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextTooShort, len(sealed))
	}
	plain, err := k.aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

// SealString seals plaintext and base64 encodes the result for a JSON field.
func (k *FrameKey) SealString(plaintext []byte) (string, error) {
	sealed, err := k.Seal(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenString reverses SealString.
func (k *FrameKey) OpenString(s string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode sealed frame: %w", err)
	}
	return k.Open(sealed)
}

func zeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}
