package vault

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/postalsys/deskrelay/internal/logging"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v := New(t.TempDir(), logging.NopLogger())
	v.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	return v
}

func TestVault_SaveLoad(t *testing.T) {
	v := newTestVault(t)

	if err := v.Save("123456", "42"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	code, session, ok := v.Load()
	if !ok {
		t.Fatal("Load() ok = false after Save()")
	}
	if code != "123456" || session != "42" {
		t.Errorf("Load() = (%q, %q), want (123456, 42)", code, session)
	}

	cred, ok := v.Credential()
	if !ok {
		t.Fatal("Credential() ok = false")
	}
	if cred.SavedAt != "2024-03-01 09:30:00" {
		t.Errorf("SavedAt = %q, want 2024-03-01 09:30:00", cred.SavedAt)
	}
}

func TestVault_FileIsEncrypted(t *testing.T) {
	v := newTestVault(t)
	if err := v.Save("987654", "7"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(v.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(data), "987654") {
		t.Errorf("vault file contains the plaintext auth code: %s", data)
	}

	info, err := os.Stat(v.Path())
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("vault file permissions = %o, want owner only", perm)
	}
}

func TestVault_SaveOverwrites(t *testing.T) {
	v := newTestVault(t)
	_ = v.Save("111111", "1")
	_ = v.Save("222222", "2")

	code, session, ok := v.Load()
	if !ok || code != "222222" || session != "2" {
		t.Errorf("Load() = (%q, %q, %v), want (222222, 2, true)", code, session, ok)
	}
}

func TestVault_SaveRequiresFields(t *testing.T) {
	v := newTestVault(t)
	if err := v.Save("", "1"); err == nil {
		t.Error("Save() with empty auth code succeeded")
	}
	if err := v.Save("123456", ""); err == nil {
		t.Error("Save() with empty session id succeeded")
	}
}

func TestVault_LoadMissing(t *testing.T) {
	v := newTestVault(t)
	code, session, ok := v.Load()
	if ok || code != "" || session != "" {
		t.Errorf("Load() = (%q, %q, %v), want absent", code, session, ok)
	}
}

func TestVault_LoadCorrupted(t *testing.T) {
	other := CipherFromSessionID("99")

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "garbage"},
		{"empty object", "{}"},
		{"bad base64", `{"session_id":"5","data":"!!!"}`},
		{"short ciphertext", `{"session_id":"5","data":"AAAA"}`},
		{"encrypted non-json", `{"session_id":"5","data":"` + CipherFromSessionID("5").Encrypt([]byte("hello")) + `"}`},
		{"wrong key", `{"session_id":"5","data":"` + other.Encrypt([]byte(`{"auth_code":"1","session_id":"5"}`)) + `"}`},
		{"mismatched session", `{"session_id":"5","data":"` + CipherFromSessionID("5").Encrypt([]byte(`{"auth_code":"1","session_id":"6"}`)) + `"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestVault(t)
			if err := os.WriteFile(v.Path(), []byte(tc.content), 0600); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if _, _, ok := v.Load(); ok {
				t.Error("Load() ok = true for corrupted file")
			}
		})
	}
}

func TestVault_Clear(t *testing.T) {
	v := newTestVault(t)
	_ = v.Save("123456", "3")

	v.Clear()
	if _, err := os.Stat(v.Path()); !os.IsNotExist(err) {
		t.Errorf("expected file to be removed, Stat() error = %v", err)
	}

	// Clearing again is harmless.
	v.Clear()
}

func TestVault_SealedLayout(t *testing.T) {
	v := newTestVault(t)
	_ = v.Save("123456", "8")

	data, _ := os.ReadFile(v.Path())
	var s sealed
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s.SessionID != "8" {
		t.Errorf("SessionID = %q, want 8", s.SessionID)
	}

	plain, err := CipherFromSessionID("8").Decrypt(s.Data)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !strings.Contains(string(plain), `"auth_code":"123456"`) {
		t.Errorf("decrypted record = %s", plain)
	}
}

func TestDefaultDir(t *testing.T) {
	dir, err := DefaultDir()
	if err != nil {
		t.Skipf("no user config dir: %v", err)
	}
	if filepath.Base(dir) != DirName {
		t.Errorf("DefaultDir() = %q, want suffix %q", dir, DirName)
	}
}
