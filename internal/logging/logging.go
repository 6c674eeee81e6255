// Package logging builds the structured loggers used by every deskrelay role.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
)

// NewLogger creates a structured logger writing to stderr.
// Supported levels: debug, info, warn, error
// Supported formats: text, json
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a structured logger writing to w.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return NopLogger()
	}
	return l
}

// Component returns a child logger tagged with the component name.
func Component(l *slog.Logger, name string) *slog.Logger {
	return OrNop(l).With(KeyComponent, name)
}

// Bytes renders a byte count as a human readable attribute (e.g. "41 KiB").
func Bytes(n int) slog.Attr {
	if n < 0 {
		n = 0
	}
	return slog.String(KeyBytes, humanize.IBytes(uint64(n)))
}

// Common attribute keys for consistent logging.
const (
	KeyComponent = "component"
	KeyClientID  = "client_id"
	KeySessionID = "session_id"
	KeyAgentID   = "agent_id"
	KeyType      = "type"
	KeyFrame     = "frame"
	KeyBytes     = "bytes"
	KeyURL       = "url"
	KeyState     = "state"
	KeyError     = "error"
	KeyCount     = "count"
	KeyAttempt   = "attempt"
	KeyDelay     = "delay"
	KeyRemote    = "remote_addr"
)
