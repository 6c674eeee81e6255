// Package identity persists the agent id so the relay sees the same agent
// across restarts.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// idFileName is the name of the file storing the agent ID
const idFileName = "agent_id"

var (
	// ErrNotFound is returned by Load when no id has been stored.
	ErrNotFound = errors.New("agent ID not found")

	// ErrInvalidID is returned for a stored value that is not a UUID.
	ErrInvalidID = errors.New("invalid agent ID")
)

// AgentID identifies an agent. It is a random (version 4) UUID.
type AgentID uuid.UUID

// ZeroID represents an uninitialized agent ID.
var ZeroID = AgentID(uuid.Nil)

// NewAgentID generates a new random AgentID.
func NewAgentID() (AgentID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return ZeroID, fmt.Errorf("failed to generate agent ID: %w", err)
	}
	return AgentID(id), nil
}

// ParseAgentID parses the canonical or compact UUID form.
func ParseAgentID(s string) (AgentID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return ZeroID, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return AgentID(id), nil
}

// String returns the canonical UUID form.
func (id AgentID) String() string {
	return uuid.UUID(id).String()
}

// ShortString returns the first 8 characters, for logs and banners.
func (id AgentID) ShortString() string {
	return id.String()[:8]
}

// IsZero returns true if the AgentID is uninitialized.
func (id AgentID) IsZero() bool {
	return id == ZeroID
}

// Store persists the AgentID to dataDir.
func (id AgentID) Store(dataDir string) error {
	if id.IsZero() {
		return errors.New("cannot store zero agent ID")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	filePath := filepath.Join(dataDir, idFileName)

	// Write to a temp file first so a crash never leaves a partial id.
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, []byte(id.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write agent ID: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to persist agent ID: %w", err)
	}

	return nil
}

// Load reads the AgentID stored in dataDir.
func Load(dataDir string) (AgentID, error) {
	filePath := filepath.Join(dataDir, idFileName)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ZeroID, fmt.Errorf("%w at %s", ErrNotFound, filePath)
		}
		return ZeroID, fmt.Errorf("failed to read agent ID: %w", err)
	}

	return ParseAgentID(string(data))
}

// LoadOrCreate loads the AgentID from dataDir, or creates and persists a
// new one. created reports whether a new id was generated.
func LoadOrCreate(dataDir string) (id AgentID, created bool, err error) {
	id, err = Load(dataDir)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ZeroID, false, err
	}

	id, err = NewAgentID()
	if err != nil {
		return ZeroID, false, err
	}
	if err := id.Store(dataDir); err != nil {
		return ZeroID, false, err
	}

	return id, true, nil
}
