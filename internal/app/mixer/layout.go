package mixer

import (
	"fmt"
	"image"

	"github.com/dkeye/Conference/internal/domain"
)

// Columns is fixed: tiles fill rows of two.
const Columns = 2

// TileLimit caps the tiles of one composite whatever the configuration says.
const TileLimit = 10

// Layout returns the canvas size for n tiles of w x h.
// One tile is drawn alone, anything above uses two columns and n/2 rounded
// up rows.
func Layout(n, w, h, maxTiles int) (image.Point, error) {
	if maxTiles <= 0 || maxTiles > TileLimit {
		maxTiles = TileLimit
	}
	if n < 1 {
		return image.Point{}, fmt.Errorf("layout of %d tiles", n)
	}
	if n > maxTiles {
		return image.Point{}, fmt.Errorf("%w: %d > %d", domain.ErrMixerCapacity, n, maxTiles)
	}
	width := w
	if n > 1 {
		width = Columns * w
	}
	rows := (n + Columns - 1) / Columns
	return image.Pt(width, rows*h), nil
}

// TileRect is the destination of slot i. Slot order is arrival order.
func TileRect(i, w, h int) image.Rectangle {
	x := (i % Columns) * w
	y := (i / Columns) * h
	return image.Rect(x, y, x+w, y+h)
}
