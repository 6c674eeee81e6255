package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrBadPadding is returned when decrypted data is not PKCS#7 padded.
var ErrBadPadding = errors.New("invalid padding")

// Cipher is AES-256-CBC with PKCS#7 padding. Ciphertext travels as
// standard base64.
type Cipher struct {
	block cipher.Block
	iv    []byte
}

// CipherFromSessionID derives a Cipher from a session identifier. The
// SHA-256 of the identifier is base64 encoded; its first 32 characters
// form the key and its first 16 the IV. Files written by earlier
// deployments use the same derivation.
func CipherFromSessionID(sessionID string) *Cipher {
	sum := sha256.Sum256([]byte(sessionID))
	enc := base64.StdEncoding.EncodeToString(sum[:])

	// enc is always 44 characters, so the key is always 32 bytes.
	block, err := aes.NewCipher([]byte(enc[:32]))
	if err != nil {
		panic(fmt.Sprintf("vault: aes key: %v", err))
	}

	return &Cipher{
		block: block,
		iv:    []byte(enc[:aes.BlockSize]),
	}
}

// Encrypt seals plain and returns base64 ciphertext.
func (c *Cipher) Encrypt(plain []byte) string {
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out)
}

// Decrypt opens base64 ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(raw))
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, raw)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, ErrBadPadding
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-n], nil
}
