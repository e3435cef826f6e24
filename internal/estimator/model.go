package estimator

import (
	"context"
	"image"
	"image/draw"
	"math"

	"github.com/WIZARDISHUNGRY/depthcut/internal/depth"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

const (
	lumaWeight     = 0.65 // the rest is the vertical prior: lower rows are nearer
	lumaGamma      = 1.5
	minRowsPerBand = 16
)

// Model is a cheap monocular depth heuristic: bright and low in the frame means near.
// The output is normalised to 0-255 and has the same dimensions as the input.
type Model struct {
	WorkSize int
	Workers  int
}

var _ Estimator = &Model{}

func (m *Model) Estimate(ctx context.Context, img image.Image) (*depth.Map, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("empty image")
	}
	work := m.downscale(img)
	w, h := work.Rect.Dx(), work.Rect.Dy()

	field := make([]float64, w*h)
	err := m.rows(ctx, h, func(y0, y1 int) error {
		for y := y0; y < y1; y++ {
			prior := 0.5
			if h > 1 {
				prior = float64(y) / float64(h-1)
			}
			row := work.Pix[y*work.Stride:]
			for x := 0; x < w; x++ {
				r, g, bl := float64(row[4*x]), float64(row[4*x+1]), float64(row[4*x+2])
				luma := math.Pow((0.299*r+0.587*g+0.114*bl)/255, lumaGamma)
				field[y*w+x] = lumaWeight*luma + (1-lumaWeight)*prior
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	blurred := make([]float64, w*h)
	err = m.rows(ctx, h, func(y0, y1 int) error {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				blurred[y*w+x] = gaussian3(field, w, h, x, y)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	small := normalize(blurred, w, h)
	if w == b.Dx() && h == b.Dy() {
		return depth.FromGray(small)
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.BiLinear.Scale(out, out.Rect, small, small.Rect, xdraw.Src, nil)
	return depth.FromGray(out)
}

// downscale fits img within WorkSize and returns it as NRGBA at the origin.
func (m *Model) downscale(img image.Image) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if m.WorkSize > 0 && longest > m.WorkSize {
		scale := float64(m.WorkSize) / float64(longest)
		nw, nh := int(float64(w)*scale), int(float64(h)*scale)
		if nw < 1 {
			nw = 1
		}
		if nh < 1 {
			nh = 1
		}
		img = resize.Resize(uint(nw), uint(nh), img, resize.Lanczos3)
		b = img.Bounds()
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}

// rows runs fn over [0,h) split into bands, one goroutine per band when Workers > 1.
func (m *Model) rows(ctx context.Context, h int, fn func(y0, y1 int) error) error {
	bands := m.Workers
	if limit := h / minRowsPerBand; bands > limit {
		bands = limit
	}
	if bands <= 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(0, h)
	}
	g, ctx := errgroup.WithContext(ctx)
	step := (h + bands - 1) / bands
	for y0 := 0; y0 < h; y0 += step {
		y0, y1 := y0, y0+step
		if y1 > h {
			y1 = h
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(y0, y1)
		})
	}
	return g.Wait()
}

var kernel = [3][3]float64{
	{1 / 16.0, 2 / 16.0, 1 / 16.0},
	{2 / 16.0, 4 / 16.0, 2 / 16.0},
	{1 / 16.0, 2 / 16.0, 1 / 16.0},
}

// gaussian3 blurs one sample, clamping at the edges.
func gaussian3(f []float64, w, h, x, y int) float64 {
	var sum float64
	for ky := -1; ky <= 1; ky++ {
		yy := clamp(y+ky, 0, h-1)
		for kx := -1; kx <= 1; kx++ {
			xx := clamp(x+kx, 0, w-1)
			sum += f[yy*w+xx] * kernel[ky+1][kx+1]
		}
	}
	return sum
}

func normalize(f []float64, w, h int) *image.Gray {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range f {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	g := image.NewGray(image.Rect(0, 0, w, h))
	span := hi - lo
	for i, v := range f {
		if span > 0 {
			g.Pix[i] = uint8(math.Round((v - lo) / span * 255))
		}
	}
	return g
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
