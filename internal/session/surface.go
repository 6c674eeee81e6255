package session

import (
	"sync"
	"time"
)

// Frame is the latest image shown on a surface.
type Frame struct {
	Data       []byte // encoded image
	Width      int
	Height     int
	Number     int64
	ReceivedAt time.Time
}

// Surface is the headless display area of one session. It keeps the most
// recent frame and the rectangle the session occupies in the layout.
type Surface struct {
	mu       sync.RWMutex
	bounds   Rect
	frame    Frame
	frames   int64
	released bool
}

func newSurface() *Surface {
	return &Surface{}
}

// Present replaces the shown frame. Frames are shown in arrival order;
// the number is recorded but not used to reorder. Returns false once the
// surface has been released.
func (s *Surface) Present(f Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return false
	}
	s.frame = f
	s.frames++
	return true
}

// Frame returns the frame currently shown.
func (s *Surface) Frame() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// Frames returns how many frames have been presented.
func (s *Surface) Frames() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// Bounds returns the surface's rectangle in the agent layout.
func (s *Surface) Bounds() Rect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bounds
}

func (s *Surface) setBounds(r Rect) {
	s.mu.Lock()
	s.bounds = r
	s.mu.Unlock()
}

// Released reports whether the owning session has been unbound.
func (s *Surface) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}

func (s *Surface) release() {
	s.mu.Lock()
	s.released = true
	s.frame = Frame{}
	s.mu.Unlock()
}
