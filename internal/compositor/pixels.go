package compositor

import (
	"image"
	"image/draw"

	"github.com/WIZARDISHUNGRY/depthcut/internal/fault"
)

// PixelBuffer is a non-premultiplied RGBA raster, 4 bytes per pixel, row-major from the top-left.
type PixelBuffer struct {
	Width, Height int
	Pix           []uint8
}

// FromImage captures img into a new buffer. The result never aliases img.
func FromImage(img image.Image) *PixelBuffer {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return &PixelBuffer{Width: b.Dx(), Height: b.Dy(), Pix: dst.Pix}
}

func (p *PixelBuffer) validate() error {
	if p == nil {
		return fault.New(fault.ShapeMismatch, "pixel buffer is nil")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fault.New(fault.ShapeMismatch, "pixel buffer dimensions must be positive, got %dx%d", p.Width, p.Height)
	}
	if want := p.Width * p.Height * 4; len(p.Pix) != want {
		return fault.New(fault.ShapeMismatch, "pixel buffer %dx%d needs %d bytes, got %d", p.Width, p.Height, want, len(p.Pix))
	}
	return nil
}

func (p *PixelBuffer) Clone() *PixelBuffer {
	pix := make([]uint8, len(p.Pix))
	copy(pix, p.Pix)
	return &PixelBuffer{Width: p.Width, Height: p.Height, Pix: pix}
}

// Image returns a copy of the buffer as an *image.NRGBA.
func (p *PixelBuffer) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, p.Width, p.Height))
	copy(img.Pix, p.Pix)
	return img
}
