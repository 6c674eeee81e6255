package capture

import (
	"image"
	"image/color"
)

// cursorShape is a 12x19 arrow: 'x' outline, 'o' fill.
var cursorShape = []string{
	"x",
	"xx",
	"xox",
	"xoox",
	"xooox",
	"xoooox",
	"xooooox",
	"xoooooox",
	"xooooooox",
	"xoooooooox",
	"xooooooooox",
	"xoooooxxxxxx",
	"xooxoox",
	"xoxxoox",
	"xx  xoox",
	"x   xoox",
	"     xoox",
	"     xoox",
	"      xx",
}

var (
	cursorOutline = color.RGBA{0, 0, 0, 255}
	cursorFill    = color.RGBA{255, 255, 255, 255}
)

// DrawCursor paints an arrow cursor with its hotspot at p. p is relative
// to the image origin; parts outside the image are clipped.
func DrawCursor(img *image.RGBA, p image.Point) {
	b := img.Bounds()
	origin := b.Min.Add(p)

	for dy, row := range cursorShape {
		for dx, c := range row {
			var col color.RGBA
			switch c {
			case 'x':
				col = cursorOutline
			case 'o':
				col = cursorFill
			default:
				continue
			}
			pt := image.Pt(origin.X+dx, origin.Y+dy)
			if pt.In(b) {
				img.SetRGBA(pt.X, pt.Y, col)
			}
		}
	}
}
