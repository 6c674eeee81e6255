package session

import (
	"sync"
	"time"
)

// FPSTracker counts frames over one-second windows. The rate is updated
// when a window closes; between closes FPS returns the last full window.
type FPSTracker struct {
	mu     sync.Mutex
	start  time.Time
	count  int
	fps    float64
	window time.Duration
}

// NewFPSTracker creates a tracker with a one-second window.
func NewFPSTracker() *FPSTracker {
	return &FPSTracker{window: time.Second}
}

// Record counts one frame received at now.
func (f *FPSTracker) Record(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.start.IsZero() {
		f.start = now
	}
	f.count++

	if elapsed := now.Sub(f.start); elapsed >= f.window {
		f.fps = float64(f.count) / elapsed.Seconds()
		f.count = 0
		f.start = now
	}
}

// FPS returns the rate measured over the last completed window.
func (f *FPSTracker) FPS() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fps
}
