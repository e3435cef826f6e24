package compositor

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/WIZARDISHUNGRY/depthcut/internal/depth"
	"github.com/WIZARDISHUNGRY/depthcut/internal/fault"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *PixelBuffer {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return FromImage(img)
}

func randomDepth(t *testing.T, r *rand.Rand, w, h int) *depth.Map {
	data := make([]uint8, w*h)
	r.Read(data)
	d, err := depth.New(w, h, 1, data)
	require.NoError(t, err)
	return d
}

func alphas(p *PixelBuffer) []bool {
	out := make([]bool, p.Width*p.Height)
	for i := range out {
		out[i] = p.Pix[4*i+3] == opaque
	}
	return out
}

func TestApplyMaskStrictlyGreater(t *testing.T) {
	d, err := depth.New(2, 2, 1, []uint8{10, 50, 90, 130})
	require.NoError(t, err)
	src := solid(2, 2, color.NRGBA{R: 1, G: 2, B: 3, A: 77})

	out, err := ApplyMask(src, d, 60)
	require.NoError(t, err)
	require.Equal(t, []bool{false, false, true, true}, alphas(out))
	require.Equal(t, []bool{false, false, true, true}, Mask(d, 60))

	// equal to the threshold is masked out
	out, err = ApplyMask(src, d, 90)
	require.NoError(t, err)
	require.Equal(t, []bool{false, false, false, true}, alphas(out))
}

func TestApplyMaskLeavesRGBAndSourceAlone(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	src := &PixelBuffer{Width: 5, Height: 3, Pix: make([]uint8, 5*3*4)}
	r.Read(src.Pix)
	before := src.Clone()
	d := randomDepth(t, r, 5, 3)

	out, err := ApplyMask(src, d, 128)
	require.NoError(t, err)
	require.Equal(t, before.Pix, src.Pix)
	for i := 0; i < len(out.Pix); i += 4 {
		require.Equal(t, src.Pix[i:i+3], out.Pix[i:i+3])
	}

	again, err := ApplyMask(src, d, 128)
	require.NoError(t, err)
	require.Equal(t, out, again)
}

func TestApplyMaskBoundaries(t *testing.T) {
	d, err := depth.New(3, 1, 1, []uint8{20, 40, 200})
	require.NoError(t, err)
	src := solid(3, 1, color.NRGBA{A: 255})

	out, err := ApplyMask(src, d, float64(d.Min())-0.5)
	require.NoError(t, err)
	require.Equal(t, []bool{true, true, true}, alphas(out))

	out, err = ApplyMask(src, d, -1)
	require.NoError(t, err)
	require.Equal(t, []bool{true, true, true}, alphas(out))

	out, err = ApplyMask(src, d, float64(d.Max()))
	require.NoError(t, err)
	require.Equal(t, []bool{false, false, false}, alphas(out))
	require.Zero(t, Coverage(d, 255))
	require.Equal(t, 1.0, Coverage(d, 0))
}

func TestApplyMaskMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	d := randomDepth(t, r, 16, 9)
	for i := 0; i < 50; i++ {
		t1 := float64(r.Intn(257) - 1)
		t2 := t1 + float64(r.Intn(64)+1)
		lo, hi := Mask(d, t1), Mask(d, t2)
		for p := range hi {
			if hi[p] {
				require.True(t, lo[p], "pixel %d opaque at %v but not at %v", p, t2, t1)
			}
		}
	}
}

func TestApplyMaskShapeMismatch(t *testing.T) {
	d, err := depth.New(2, 2, 1, []uint8{1, 2, 3, 4})
	require.NoError(t, err)

	_, err = ApplyMask(solid(3, 2, color.NRGBA{}), d, 0)
	require.True(t, fault.Is(err, fault.ShapeMismatch), "got %v", err)

	short := &PixelBuffer{Width: 2, Height: 2, Pix: make([]uint8, 15)}
	_, err = ApplyMask(short, d, 0)
	require.True(t, fault.Is(err, fault.ShapeMismatch), "got %v", err)

	_, err = ApplyMask(solid(2, 2, color.NRGBA{}), nil, 0)
	require.True(t, fault.Is(err, fault.ShapeMismatch), "got %v", err)
}

func TestMaskNilDepth(t *testing.T) {
	require.NotPanics(t, func() {
		require.Nil(t, Mask(nil, 10))
		require.Zero(t, Coverage(nil, 10))
	})
}

func TestFromImageCopies(t *testing.T) {
	img := image.NewNRGBA(image.Rect(2, 2, 4, 3))
	img.Pix[0] = 9
	p := FromImage(img)
	require.Equal(t, 2, p.Width)
	require.Equal(t, 1, p.Height)
	require.Equal(t, uint8(9), p.Pix[0])
	img.Pix[0] = 1
	require.Equal(t, uint8(9), p.Pix[0])
	require.Equal(t, p.Pix, p.Image().Pix)
}
