// Package vault persists the credential a client needs to rejoin its
// agent after a restart. The record is encrypted with a key derived from
// the session id; any failure to read it back is reported as absence.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/postalsys/deskrelay/internal/logging"
)

const (
	// DirName is the per-user application directory.
	DirName = "deskrelay"

	// FileName is the credential file inside the directory.
	FileName = "reconnect.dat"

	savedAtLayout = "2006-01-02 15:04:05"
)

// Credential is the decrypted record.
type Credential struct {
	AuthCode  string `json:"auth_code"`
	SessionID string `json:"session_id"`
	SavedAt   string `json:"saved_at"`
}

// sealed is the on-disk form. The session id stays readable because the
// key is derived from it.
type sealed struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

// Vault stores one Credential at a fixed path.
type Vault struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// DefaultDir returns the per-user application data directory.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(base, DirName), nil
}

// New creates a Vault storing its file in dir.
func New(dir string, logger *slog.Logger) *Vault {
	return &Vault{
		path:   filepath.Join(dir, FileName),
		logger: logging.Component(logger, "vault"),
		now:    time.Now,
	}
}

// Path returns the credential file location.
func (v *Vault) Path() string {
	return v.path
}

// Save encrypts and writes the credential, replacing any previous one.
func (v *Vault) Save(authCode, sessionID string) error {
	if authCode == "" || sessionID == "" {
		return errors.New("auth code and session id are required")
	}

	plain, err := json.Marshal(Credential{
		AuthCode:  authCode,
		SessionID: sessionID,
		SavedAt:   v.now().Format(savedAtLayout),
	})
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	data, err := json.MarshalIndent(sealed{
		SessionID: sessionID,
		Data:      CipherFromSessionID(sessionID).Encrypt(plain),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vault file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0700); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}

	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write vault file: %w", err)
	}
	if err := os.Rename(tmp, v.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persist vault file: %w", err)
	}

	v.logger.Debug("credential saved", logging.KeySessionID, sessionID)
	return nil
}

// Load returns the saved auth code and session id. ok is false when the
// file is missing, unreadable, tampered with or inconsistent.
func (v *Vault) Load() (authCode, sessionID string, ok bool) {
	cred, err := v.read()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			v.logger.Warn("ignoring unreadable credential", logging.KeyError, err)
		}
		return "", "", false
	}
	return cred.AuthCode, cred.SessionID, true
}

// Credential returns the full saved record.
func (v *Vault) Credential() (Credential, bool) {
	cred, err := v.read()
	if err != nil {
		return Credential{}, false
	}
	return cred, true
}

func (v *Vault) read() (Credential, error) {
	data, err := os.ReadFile(v.path)
	if err != nil {
		return Credential{}, err
	}

	var s sealed
	if err := json.Unmarshal(data, &s); err != nil {
		return Credential{}, fmt.Errorf("parse vault file: %w", err)
	}
	if s.SessionID == "" || s.Data == "" {
		return Credential{}, errors.New("vault file is incomplete")
	}

	plain, err := CipherFromSessionID(s.SessionID).Decrypt(s.Data)
	if err != nil {
		return Credential{}, fmt.Errorf("decrypt credential: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(plain, &cred); err != nil {
		return Credential{}, fmt.Errorf("parse credential: %w", err)
	}
	if cred.SessionID != s.SessionID || cred.AuthCode == "" {
		return Credential{}, errors.New("credential does not match its envelope")
	}
	return cred, nil
}

// Clear removes the credential file. Failures are logged and ignored.
func (v *Vault) Clear() {
	if err := os.Remove(v.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		v.logger.Debug("failed to remove credential", logging.KeyError, err)
	}
}
