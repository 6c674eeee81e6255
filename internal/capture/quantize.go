package capture

import (
	"image"

	"github.com/postalsys/deskrelay/internal/protocol"
)

// ValidColorDepth reports whether depth is a known color depth tag.
func ValidColorDepth(depth string) bool {
	switch depth {
	case protocol.ColorDepth64, protocol.ColorDepth256, protocol.ColorDepthTrue:
		return true
	}
	return false
}

// Quantize reduces the color depth of img in place. "64" keeps 2 bits per
// channel, "256" packs to 3-3-2 bits, "true" and unknown tags leave the
// image untouched.
func Quantize(img *image.RGBA, depth string) {
	var r, g, b uint8
	switch depth {
	case protocol.ColorDepth64:
		r, g, b = 2, 2, 2
	case protocol.ColorDepth256:
		r, g, b = 3, 3, 2
	default:
		return
	}

	lr, lg, lb := levels(r), levels(g), levels(b)
	pix := img.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i] = lr[pix[i]]
		pix[i+1] = lg[pix[i+1]]
		pix[i+2] = lb[pix[i+2]]
	}
}

// levels builds a lookup table mapping 8-bit values to the nearest of
// 2^bits evenly spaced levels, expanded back to 0..255.
func levels(bits uint8) *[256]uint8 {
	var t [256]uint8
	n := (1 << bits) - 1
	for v := 0; v < 256; v++ {
		level := (v*n + 127) / 255
		t[v] = uint8(level * 255 / n)
	}
	return &t
}
