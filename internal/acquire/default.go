package acquire

import (
	"bytes"
	"image"
	"image/color"
	"math"

	"github.com/WIZARDISHUNGRY/depthcut/internal/export"
	"github.com/pkg/errors"
)

const (
	DefaultName   = "default.png"
	defaultWidth  = 320
	defaultHeight = 240
)

// Default draws the built-in scene: a bright ball in front of a dim sky and floor.
func Default() (*Image, error) {
	img := defaultScene(defaultWidth, defaultHeight)
	buf := &bytes.Buffer{}
	if err := export.PNG(buf, img); err != nil {
		return nil, errors.Wrap(err, "encoding default image")
	}
	return &Image{Name: DefaultName, Format: "png", Bytes: buf.Bytes(), Decoded: img}, nil
}

func defaultScene(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	horizon := h * 2 / 3
	cx, cy := float64(w)/2, float64(h)*0.55
	r := float64(h) / 4

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var c color.NRGBA
			if y < horizon {
				t := float64(y) / float64(horizon)
				c = color.NRGBA{R: uint8(40 + 30*t), G: uint8(60 + 30*t), B: uint8(110 + 20*t), A: 0xff}
			} else {
				t := float64(y-horizon) / float64(h-horizon)
				c = color.NRGBA{R: uint8(50 + 40*t), G: uint8(45 + 35*t), B: uint8(35 + 20*t), A: 0xff}
			}
			dx, dy := float64(x)-cx, float64(y)-cy
			if d := math.Hypot(dx, dy); d < r {
				shade := 1 - 0.4*d/r
				c = color.NRGBA{R: uint8(250 * shade), G: uint8(210 * shade), B: uint8(90 * shade), A: 0xff}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
