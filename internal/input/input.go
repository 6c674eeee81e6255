// Package input applies remote mouse and keyboard events to the local
// desktop and runs the fixed set of system commands an agent may request.
//
// The synthesis primitives themselves live outside this module: the
// injectors here either record events (Tracker) or hand them to a
// platform helper binary (Xdotool).
package input

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"

	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/protocol"
)

// ErrUnsupported is returned when an injector cannot express an event.
var ErrUnsupported = errors.New("input: unsupported event")

// Injector applies input events whose coordinates are already in local
// screen pixels.
type Injector interface {
	Mouse(ctx context.Context, ev protocol.MouseEvent) error
	Key(ctx context.Context, ev protocol.KeyboardEvent) error
}

// Tracker remembers the last pointer position and forwards events to an
// optional next Injector. Its Cursor method feeds the streamer's cursor
// overlay.
type Tracker struct {
	next   Injector
	logger *slog.Logger

	mu     sync.Mutex
	pos    image.Point
	seen   bool
	mouse  int64
	keys   int64
	pushed map[int]bool
}

// NewTracker creates a tracker. next may be nil, in which case events are
// only logged.
func NewTracker(next Injector, logger *slog.Logger) *Tracker {
	return &Tracker{
		next:   next,
		logger: logging.Component(logging.OrNop(logger), "input"),
		pushed: make(map[int]bool),
	}
}

// Mouse records the pointer position and forwards the event.
func (t *Tracker) Mouse(ctx context.Context, ev protocol.MouseEvent) error {
	t.mu.Lock()
	t.pos = image.Pt(ev.X, ev.Y)
	t.seen = true
	t.mouse++
	t.mu.Unlock()

	if ev.Action != protocol.MouseMove {
		t.logger.Debug("mouse event", "action", ev.Action, "x", ev.X, "y", ev.Y, "delta", ev.Delta)
	}
	if t.next == nil {
		return nil
	}
	return t.next.Mouse(ctx, ev)
}

// Key records which keys are held and forwards the event.
func (t *Tracker) Key(ctx context.Context, ev protocol.KeyboardEvent) error {
	t.mu.Lock()
	t.keys++
	switch ev.Action {
	case protocol.KeyDown:
		t.pushed[ev.KeyCode] = true
	case protocol.KeyUp:
		delete(t.pushed, ev.KeyCode)
	}
	t.mu.Unlock()

	t.logger.Debug("keyboard event", "action", ev.Action, "key_code", ev.KeyCode, "key", ev.Key)
	if t.next == nil {
		return nil
	}
	return t.next.Key(ctx, ev)
}

// Cursor returns the last known pointer position. ok is false until the
// first mouse event arrives.
func (t *Tracker) Cursor() (image.Point, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos, t.seen
}

// Held reports whether keyCode is currently pressed.
func (t *Tracker) Held(keyCode int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pushed[keyCode]
}

// Release sends key_up for every held key, used when a session ends so
// no modifier stays stuck.
func (t *Tracker) Release(ctx context.Context) {
	t.mu.Lock()
	codes := make([]int, 0, len(t.pushed))
	for code := range t.pushed {
		codes = append(codes, code)
	}
	t.mu.Unlock()

	for _, code := range codes {
		if err := t.Key(ctx, protocol.KeyboardEvent{Action: protocol.KeyUp, KeyCode: code}); err != nil {
			t.logger.Debug("release key failed", "key_code", code, logging.KeyError, err)
		}
	}
}

// Counts returns how many mouse and keyboard events were applied.
func (t *Tracker) Counts() (mouse, keys int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mouse, t.keys
}
