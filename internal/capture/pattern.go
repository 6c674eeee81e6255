package capture

import (
	"image"
	"sync/atomic"
)

// Test pattern size used when no display is present.
const (
	DefaultPatternWidth  = 800
	DefaultPatternHeight = 600
)

// TestPattern is a synthetic single-monitor Source: a gradient with a
// grid and a dot that advances on every capture, so consecutive frames
// differ.
type TestPattern struct {
	width, height int
	tick          atomic.Int64
}

// NewTestPattern creates a test pattern of the given size.
func NewTestPattern(width, height int) *TestPattern {
	if width <= 0 {
		width = DefaultPatternWidth
	}
	if height <= 0 {
		height = DefaultPatternHeight
	}
	return &TestPattern{width: width, height: height}
}

// Displays always reports one monitor.
func (p *TestPattern) Displays() int { return 1 }

// Bounds returns the pattern size.
func (p *TestPattern) Bounds(int) image.Rectangle {
	return image.Rect(0, 0, p.width, p.height)
}

// Capture renders the next pattern frame.
func (p *TestPattern) Capture(int) (*image.RGBA, error) {
	width, height := p.width, p.height
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	pix := img.Pix
	stride := img.Stride

	for y := 0; y < height; y++ {
		g := uint8(50 + (y * 100 / height))
		off := y * stride
		for x := 0; x < width; x++ {
			i := off + x*4
			pix[i+0] = uint8(50 + (x * 100 / width))
			pix[i+1] = g
			pix[i+2] = 100
			pix[i+3] = 255
		}
	}

	for x := 0; x < width; x += 50 {
		for y := 0; y < height; y++ {
			i := y*stride + x*4
			pix[i], pix[i+1], pix[i+2] = 255, 255, 255
		}
	}
	for y := 0; y < height; y += 50 {
		off := y * stride
		for x := 0; x < width; x++ {
			i := off + x*4
			pix[i], pix[i+1], pix[i+2] = 255, 255, 255
		}
	}

	// Moving dot
	t := int(p.tick.Add(1))
	cx := (t * 8) % width
	cy := height / 2
	for dy := -5; dy <= 5; dy++ {
		for dx := -5; dx <= 5; dx++ {
			if dx*dx+dy*dy > 25 {
				continue
			}
			px, py := cx+dx, cy+dy
			if px < 0 || px >= width || py < 0 || py >= height {
				continue
			}
			i := py*stride + px*4
			pix[i], pix[i+1], pix[i+2] = 255, 60, 60
		}
	}

	return img, nil
}
