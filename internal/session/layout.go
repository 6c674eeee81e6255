package session

// Rect is an area of the agent's display in pixels.
type Rect struct {
	X, Y, W, H float64
}

// Area returns W*H.
func (r Rect) Area() float64 {
	return r.W * r.H
}

// Overlaps reports whether r and o share any interior area.
func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W &&
		r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Layout splits the area inside padding into n equal-height rows stacked
// top to bottom with spacing between them. Each row spans the full
// padded width. It returns nil when n is not positive or nothing fits.
func Layout(width, height float64, n int, spacing, padding float64) []Rect {
	if n <= 0 {
		return nil
	}
	if spacing < 0 {
		spacing = 0
	}
	if padding < 0 {
		padding = 0
	}

	availW := width - 2*padding
	availH := height - 2*padding
	rowH := (availH - spacing*float64(n-1)) / float64(n)
	if availW <= 0 || rowH <= 0 {
		return nil
	}

	rows := make([]Rect, n)
	for i := range rows {
		rows[i] = Rect{
			X: padding,
			Y: padding + float64(i)*(rowH+spacing),
			W: availW,
			H: rowH,
		}
	}
	return rows
}
