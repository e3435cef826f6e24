// Package compositor turns a depth map and a threshold into an alpha mask over the source pixels.
// Everything here is synchronous and pure, it is called on every threshold change.
package compositor

import (
	"github.com/WIZARDISHUNGRY/depthcut/internal/depth"
	"github.com/WIZARDISHUNGRY/depthcut/internal/fault"
)

const (
	opaque      = 0xff
	transparent = 0x00
)

// ApplyMask copies src and sets each pixel's alpha to opaque when its depth sample is strictly
// greater than threshold, transparent otherwise. src is never modified.
func ApplyMask(src *PixelBuffer, d *depth.Map, threshold float64) (*PixelBuffer, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fault.New(fault.ShapeMismatch, "depth map is nil")
	}
	if n := src.Width * src.Height; d.Len() != n {
		return nil, fault.New(fault.ShapeMismatch,
			"depth map has %d samples (%dx%d), image has %d pixels (%dx%d)",
			d.Len(), d.Width(), d.Height(), n, src.Width, src.Height)
	}

	out := src.Clone()
	for i := 0; i < d.Len(); i++ {
		if float64(d.At(i)) > threshold {
			out.Pix[4*i+3] = opaque
		} else {
			out.Pix[4*i+3] = transparent
		}
	}
	return out, nil
}

// Mask reports, per pixel, whether ApplyMask would make it opaque. A nil map has no pixels.
func Mask(d *depth.Map, threshold float64) []bool {
	if d == nil {
		return nil
	}
	m := make([]bool, d.Len())
	for i := range m {
		m[i] = float64(d.At(i)) > threshold
	}
	return m
}

// Coverage is the fraction of opaque pixels for threshold, 0 for a nil map.
func Coverage(d *depth.Map, threshold float64) float64 {
	if d == nil {
		return 0
	}
	var n int
	for _, ok := range Mask(d, threshold) {
		if ok {
			n++
		}
	}
	return float64(n) / float64(d.Len())
}
