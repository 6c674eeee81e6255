package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveFrameKey_RequiresSecrets(t *testing.T) {
	if _, err := DeriveFrameKey("", "c-1"); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("DeriveFrameKey(empty code) error = %v", err)
	}
	if _, err := DeriveFrameKey("123456", ""); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("DeriveFrameKey(empty id) error = %v", err)
	}
}

func TestFrameKey_SealOpen(t *testing.T) {
	client, err := DeriveFrameKey("123456", "c-1")
	if err != nil {
		t.Fatalf("DeriveFrameKey() error = %v", err)
	}
	agent, err := DeriveFrameKey("123456", "c-1")
	if err != nil {
		t.Fatalf("DeriveFrameKey() error = %v", err)
	}

	frame := bytes.Repeat([]byte{0xff, 0xd8, 0x42}, 1000)
	sealed, err := client.Seal(frame)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if len(sealed) != len(frame)+Overhead {
		t.Errorf("len(sealed) = %d, want %d", len(sealed), len(frame)+Overhead)
	}

	got, err := agent.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Error("Open() did not return the original frame")
	}
}

func TestFrameKey_NoncesDiffer(t *testing.T) {
	k, _ := DeriveFrameKey("123456", "c-1")
	a, _ := k.Seal([]byte("same"))
	b, _ := k.Seal([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("two seals of the same frame are identical")
	}
}

func TestFrameKey_WrongKey(t *testing.T) {
	k1, _ := DeriveFrameKey("123456", "c-1")
	k2, _ := DeriveFrameKey("123456", "c-2")
	k3, _ := DeriveFrameKey("654321", "c-1")

	sealed, _ := k1.Seal([]byte("frame"))
	for _, other := range []*FrameKey{k2, k3} {
		if _, err := other.Open(sealed); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("Open() with wrong key error = %v, want ErrDecryptionFailed", err)
		}
	}
}

func TestFrameKey_Tampered(t *testing.T) {
	k, _ := DeriveFrameKey("123456", "c-1")
	sealed, _ := k.Seal([]byte("frame payload"))
	sealed[len(sealed)-1] ^= 0x01

	if _, err := k.Open(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Open(tampered) error = %v, want ErrDecryptionFailed", err)
	}
	if _, err := k.Open(sealed[:Overhead-1]); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("Open(short) error = %v, want ErrCiphertextTooShort", err)
	}
}

func TestFrameKey_Strings(t *testing.T) {
	k, _ := DeriveFrameKey("123456", "c-1")

	s, err := k.SealString([]byte("jpeg bytes"))
	if err != nil {
		t.Fatalf("SealString() error = %v", err)
	}
	got, err := k.OpenString(s)
	if err != nil {
		t.Fatalf("OpenString() error = %v", err)
	}
	if string(got) != "jpeg bytes" {
		t.Errorf("OpenString() = %q", got)
	}

	if _, err := k.OpenString("%%%"); err == nil {
		t.Error("OpenString(invalid base64) succeeded")
	}
}
