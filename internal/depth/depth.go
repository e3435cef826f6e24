// Package depth holds the immutable depth map produced by one inference call.
package depth

import (
	"image"
	"math"

	"github.com/WIZARDISHUNGRY/depthcut/internal/fault"
)

// Channels is the only supported number of samples per pixel.
const Channels = 1

// Map is a per-pixel depth estimate for one image. Larger samples are nearer to the camera.
// A Map never changes after it is created.
type Map struct {
	width, height, channels int
	data                    []uint8
}

// New validates the shape and copies data into a new Map.
func New(width, height, channels int, data []uint8) (*Map, error) {
	if width <= 0 || height <= 0 {
		return nil, fault.New(fault.ShapeMismatch, "depth map dimensions must be positive, got %dx%d", width, height)
	}
	if channels != Channels {
		return nil, fault.New(fault.ShapeMismatch, "depth map must have %d channel, got %d", Channels, channels)
	}
	if want := width * height * channels; len(data) != want {
		return nil, fault.New(fault.ShapeMismatch, "depth map %dx%d needs %d samples, got %d", width, height, want, len(data))
	}
	d := make([]uint8, len(data))
	copy(d, data)
	return &Map{width: width, height: height, channels: channels, data: d}, nil
}

// FromGray copies an 8-bit grayscale image into a Map.
func FromGray(g *image.Gray) (*Map, error) {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]uint8, 0, w*h)
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		data = append(data, row...)
	}
	return New(w, h, Channels, data)
}

func (m *Map) Width() int    { return m.width }
func (m *Map) Height() int   { return m.height }
func (m *Map) Channels() int { return m.channels }
func (m *Map) Len() int      { return len(m.data) }

// At returns sample i in row-major order.
func (m *Map) At(i int) uint8 { return m.data[i] }

// Data returns a copy of the samples.
func (m *Map) Data() []uint8 {
	d := make([]uint8, len(m.data))
	copy(d, m.data)
	return d
}

func (m *Map) Min() uint8 {
	min := uint8(math.MaxUint8)
	for _, v := range m.data {
		if v < min {
			min = v
		}
	}
	return min
}

func (m *Map) Max() uint8 {
	var max uint8
	for _, v := range m.data {
		if v > max {
			max = v
		}
	}
	return max
}

// MeanThreshold is the default cutoff for a fresh depth map: the mean sample rounded to the
// nearest integer.
func (m *Map) MeanThreshold() int {
	var sum uint64
	for _, v := range m.data {
		sum += uint64(v)
	}
	return int(math.Round(float64(sum) / float64(len(m.data))))
}

// Gray renders the map as a grayscale image, nearer is brighter.
func (m *Map) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, m.width, m.height))
	copy(g.Pix, m.data)
	return g
}
