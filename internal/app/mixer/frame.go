package mixer

import (
	"image"
	"image/color"
)

// VideoFrame is a packed I420 picture: a full Y plane followed by the
// quarter-size Cb and Cr planes.
type VideoFrame struct {
	Width  int
	Height int
	Data   []byte
}

// AudioData is one buffer of interleaved signed 16-bit PCM.
type AudioData struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

func chromaSize(w, h int) (cw, ch int) {
	return (w + 1) / 2, (h + 1) / 2
}

// I420Size is the packed byte length of a w x h frame.
func I420Size(w, h int) int {
	cw, ch := chromaSize(w, h)
	return w*h + 2*cw*ch
}

// Image views the frame without copying. It returns nil when the buffer is
// too short for the declared size.
func (f VideoFrame) Image() *image.YCbCr {
	w, h := f.Width, f.Height
	if w <= 0 || h <= 0 || len(f.Data) < I420Size(w, h) {
		return nil
	}
	cw, ch := chromaSize(w, h)
	ySize, cSize := w*h, cw*ch
	return &image.YCbCr{
		Y:              f.Data[:ySize],
		Cb:             f.Data[ySize : ySize+cSize],
		Cr:             f.Data[ySize+cSize : ySize+2*cSize],
		YStride:        w,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}
}

// RGBAToI420 converts a read-back raster into the engine's native format.
// Chroma is taken from the top-left pixel of each 2x2 block.
func RGBAToI420(img *image.RGBA) VideoFrame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cw, ch := chromaSize(w, h)
	data := make([]byte, I420Size(w, h))
	yp := data[:w*h]
	up := data[w*h : w*h+cw*ch]
	vp := data[w*h+cw*ch:]

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			off := img.PixOffset(b.Min.X+col, b.Min.Y+row)
			y, cb, cr := color.RGBToYCbCr(img.Pix[off], img.Pix[off+1], img.Pix[off+2])
			yp[row*w+col] = y
			if row%2 == 0 && col%2 == 0 {
				ci := (row/2)*cw + col/2
				up[ci] = cb
				vp[ci] = cr
			}
		}
	}
	return VideoFrame{Width: w, Height: h, Data: data}
}

// SolidFrame builds a w x h frame of one color.
func SolidFrame(w, h int, c color.RGBA) VideoFrame {
	y, cb, cr := color.RGBToYCbCr(c.R, c.G, c.B)
	cw, ch := chromaSize(w, h)
	data := make([]byte, I420Size(w, h))
	for i := 0; i < w*h; i++ {
		data[i] = y
	}
	for i := 0; i < cw*ch; i++ {
		data[w*h+i] = cb
		data[w*h+cw*ch+i] = cr
	}
	return VideoFrame{Width: w, Height: h, Data: data}
}
