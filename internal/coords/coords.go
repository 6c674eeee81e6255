// Package coords translates points between a letterboxed display surface
// and the native pixel space of the remote screen it shows.
package coords

import (
	"fmt"
	"math"
	"sync"
)

// Point is an integer pixel position.
type Point struct {
	X, Y int
}

// Size is a pixel extent.
type Size struct {
	W, H int
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.W > 0 && s.H > 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.W, s.H)
}

// Placement is where a uniformly scaled image sits inside a box.
type Placement struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
	Width   float64 // displayed image width
	Height  float64 // displayed image height
}

// Fit computes the placement of img inside box. Images wider than the box
// fill its width and are centered vertically; all others fill its height
// and are centered horizontally. ok is false when either size is empty.
func Fit(box, img Size) (p Placement, ok bool) {
	if !box.Valid() || !img.Valid() {
		return Placement{}, false
	}

	imgRatio := float64(img.W) / float64(img.H)
	boxRatio := float64(box.W) / float64(box.H)

	if imgRatio > boxRatio {
		p.Scale = float64(box.W) / float64(img.W)
		p.OffsetY = (float64(box.H) - float64(img.H)*p.Scale) / 2
	} else {
		p.Scale = float64(box.H) / float64(img.H)
		p.OffsetX = (float64(box.W) - float64(img.W)*p.Scale) / 2
	}
	p.Width = float64(img.W) * p.Scale
	p.Height = float64(img.H) * p.Scale

	return p, true
}

// ToRemote maps a point on the display box to remote screen pixels.
// Points in the letterbox margins or outside the box clamp to the nearest
// edge. With no usable sizes the point is returned unchanged.
func ToRemote(p Point, box, img Size) Point {
	pl, ok := Fit(box, img)
	if !ok {
		return p
	}

	x := clamp(float64(p.X)-pl.OffsetX, 0, pl.Width-1)
	y := clamp(float64(p.Y)-pl.OffsetY, 0, pl.Height-1)

	rx := math.Round(x * float64(img.W) / pl.Width)
	ry := math.Round(y * float64(img.H) / pl.Height)

	return Point{
		X: int(clamp(rx, 0, float64(img.W-1))),
		Y: int(clamp(ry, 0, float64(img.H-1))),
	}
}

// ToDisplay maps a remote screen pixel to its position on the display box.
func ToDisplay(p Point, box, img Size) Point {
	pl, ok := Fit(box, img)
	if !ok {
		return p
	}

	x := clamp(float64(p.X), 0, float64(img.W-1))
	y := clamp(float64(p.Y), 0, float64(img.H-1))

	return Point{
		X: int(math.Round(x*pl.Scale + pl.OffsetX)),
		Y: int(math.Round(y*pl.Scale + pl.OffsetY)),
	}
}

// Rescale converts a point expressed against one screen size into another.
// Used when a client's capture size differs from the size the sender
// mapped against.
func Rescale(p Point, from, to Size) Point {
	if !from.Valid() || !to.Valid() || from == to {
		return p
	}
	x := math.Round(float64(p.X) * float64(to.W) / float64(from.W))
	y := math.Round(float64(p.Y) * float64(to.H) / float64(from.H))
	return Point{
		X: int(clamp(x, 0, float64(to.W-1))),
		Y: int(clamp(y, 0, float64(to.H-1))),
	}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Mapper is the mapping context of one display surface. The box changes
// when the surface is laid out, the image size when a frame arrives.
type Mapper struct {
	mu    sync.RWMutex
	box   Size
	image Size
}

// NewMapper creates an empty mapping context.
func NewMapper() *Mapper {
	return &Mapper{}
}

// SetBox records the current display box size.
func (m *Mapper) SetBox(s Size) {
	m.mu.Lock()
	m.box = s
	m.mu.Unlock()
}

// SetImage records the remote screen size of the latest frame.
func (m *Mapper) SetImage(s Size) {
	m.mu.Lock()
	m.image = s
	m.mu.Unlock()
}

// Box returns the current display box size.
func (m *Mapper) Box() Size {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.box
}

// Image returns the remote screen size.
func (m *Mapper) Image() Size {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.image
}

// ToRemote maps a display point using the current sizes.
func (m *Mapper) ToRemote(p Point) Point {
	m.mu.RLock()
	box, img := m.box, m.image
	m.mu.RUnlock()
	return ToRemote(p, box, img)
}

// ToDisplay maps a remote point using the current sizes.
func (m *Mapper) ToDisplay(p Point) Point {
	m.mu.RLock()
	box, img := m.box, m.image
	m.mu.RUnlock()
	return ToDisplay(p, box, img)
}
