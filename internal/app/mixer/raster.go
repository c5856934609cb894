package mixer

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// Raster is the 2D drawing surface the engine composites onto.
type Raster interface {
	// Resize changes the canvas size; a changed canvas starts blank.
	Resize(w, h int)
	Bounds() image.Rectangle
	// Draw scales img into dst.
	Draw(img image.Image, dst image.Rectangle)
	Clear(r image.Rectangle)
	// ReadPixels returns the canvas. It is only valid until the next call.
	ReadPixels() *image.RGBA
}

type rgbaRaster struct {
	img    *image.RGBA
	scaler xdraw.Scaler
}

func NewRGBARaster(w, h int) Raster {
	return &rgbaRaster{
		img:    image.NewRGBA(image.Rect(0, 0, w, h)),
		scaler: xdraw.ApproxBiLinear,
	}
}

func (r *rgbaRaster) Resize(w, h int) {
	if r.img.Rect.Dx() == w && r.img.Rect.Dy() == h {
		return
	}
	r.img = image.NewRGBA(image.Rect(0, 0, w, h))
}

func (r *rgbaRaster) Bounds() image.Rectangle { return r.img.Rect }

func (r *rgbaRaster) Draw(img image.Image, dst image.Rectangle) {
	r.scaler.Scale(r.img, dst, img, img.Bounds(), xdraw.Src, nil)
}

func (r *rgbaRaster) Clear(rect image.Rectangle) {
	xdraw.Draw(r.img, rect.Intersect(r.img.Rect), image.Transparent, image.Point{}, xdraw.Src)
}

func (r *rgbaRaster) ReadPixels() *image.RGBA { return r.img }
