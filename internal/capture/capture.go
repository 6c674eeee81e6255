// Package capture produces screen images for the streamer: live displays
// through kbinani/screenshot, a synthetic test pattern for headless hosts,
// plus cursor overlay, color-depth reduction and JPEG encoding.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"

	"github.com/kbinani/screenshot"

	"github.com/postalsys/deskrelay/internal/logging"
	"github.com/postalsys/deskrelay/internal/protocol"
)

// ErrNoDisplay is returned when no active display can be captured.
var ErrNoDisplay = errors.New("no active display")

// Source captures one monitor at a time.
type Source interface {
	// Capture grabs the current contents of monitor. Out of range
	// monitors fall back to the primary one.
	Capture(monitor int) (*image.RGBA, error)

	// Displays returns the number of capturable monitors.
	Displays() int

	// Bounds returns the size of monitor.
	Bounds(monitor int) image.Rectangle
}

// ScreenSource captures the real displays of this machine.
type ScreenSource struct{}

// Displays returns the number of active displays.
func (ScreenSource) Displays() int {
	return screenshot.NumActiveDisplays()
}

// Bounds returns the bounds of monitor, or the primary display.
func (s ScreenSource) Bounds(monitor int) image.Rectangle {
	n := s.Displays()
	if n <= 0 {
		return image.Rectangle{}
	}
	return screenshot.GetDisplayBounds(clampMonitor(monitor, n))
}

// Capture grabs monitor.
func (s ScreenSource) Capture(monitor int) (*image.RGBA, error) {
	n := s.Displays()
	if n <= 0 {
		return nil, ErrNoDisplay
	}

	bounds := screenshot.GetDisplayBounds(clampMonitor(monitor, n))
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", monitor, err)
	}
	return img, nil
}

func clampMonitor(monitor, n int) int {
	if monitor < 0 || monitor >= n {
		return 0
	}
	return monitor
}

// NewSource returns a ScreenSource when a display is available and a test
// pattern otherwise.
func NewSource(logger *slog.Logger) Source {
	logger = logging.OrNop(logger)

	if n := (ScreenSource{}).Displays(); n > 0 {
		logger.Debug("using screen capture", logging.KeyCount, n)
		return ScreenSource{}
	}

	logger.Warn("no active display, streaming a test pattern")
	return NewTestPattern(DefaultPatternWidth, DefaultPatternHeight)
}

// ClampQuality limits a JPEG quality to 1..100. Zero selects the default.
func ClampQuality(q int) int {
	switch {
	case q == 0:
		return protocol.DefaultQuality
	case q < 1:
		return 1
	case q > 100:
		return 100
	default:
		return q
	}
}

// EncodeJPEG encodes img at quality, clamped to 1..100.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: ClampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
