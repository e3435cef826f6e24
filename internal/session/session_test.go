package session

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WIZARDISHUNGRY/depthcut/internal/acquire"
	"github.com/WIZARDISHUNGRY/depthcut/internal/compositor"
	"github.com/WIZARDISHUNGRY/depthcut/internal/depth"
	"github.com/WIZARDISHUNGRY/depthcut/internal/fault"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers every image with the depth map registered for its bytes.
type fakeRunner struct {
	backend string
	ready   chan struct{} // EnsureReady blocks until closed, when set
	gates   map[string]chan struct{}
	depths  map[string]*depth.Map
	err     error
	calls   int32
}

func (r *fakeRunner) EnsureReady(ctx context.Context) (string, error) {
	if r.ready != nil {
		<-r.ready
	}
	return r.backend, nil
}

func (r *fakeRunner) RunDepth(ctx context.Context, image []byte) (*depth.Map, error) {
	atomic.AddInt32(&r.calls, 1)
	if g, ok := r.gates[string(image)]; ok {
		<-g
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.depths[string(image)], nil
}

func quad(t *testing.T, name string) *acquire.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i, c := range []color.NRGBA{
		{R: 10, G: 20, B: 30, A: 255},
		{R: 40, G: 50, B: 60, A: 255},
		{R: 70, G: 80, B: 90, A: 255},
		{R: 100, G: 110, B: 120, A: 255},
	} {
		img.SetNRGBA(i%2, i/2, c)
	}
	return &acquire.Image{Name: name, Bytes: []byte(name), Decoded: img}
}

func depthOf(t *testing.T, samples ...uint8) *depth.Map {
	d, err := depth.New(2, 2, depth.Channels, samples)
	require.NoError(t, err)
	return d
}

func alphas(p *compositor.PixelBuffer) []bool {
	out := make([]bool, p.Width*p.Height)
	for i := range out {
		out[i] = p.Pix[4*i+3] == 0xff
	}
	return out
}

func loaded(t *testing.T) (*Controller, *fakeRunner) {
	r := &fakeRunner{
		backend: "fake",
		depths:  map[string]*depth.Map{"a": depthOf(t, 10, 50, 90, 130)},
	}
	c := New(r)
	require.NoError(t, c.Load(context.Background(), quad(t, "a")))
	return c, r
}

func TestLoadUsesMeanThreshold(t *testing.T) {
	c, _ := loaded(t)
	require.Equal(t, 70, c.Threshold())
	require.Equal(t, StatusChooseDepth, c.Status())
	require.Equal(t, "fake", c.Backend())
	require.Equal(t, "a", c.Name())
	require.Equal(t, []bool{false, false, true, true}, alphas(c.Result()))
	require.InDelta(t, 0.5, c.Coverage(), 1e-9)
}

func TestThresholdChangesStayLocal(t *testing.T) {
	c, r := loaded(t)

	got, err := c.SetThreshold(60)
	require.NoError(t, err)
	require.Equal(t, 60, got)
	require.Equal(t, []bool{false, false, true, true}, alphas(c.Result()))

	got, err = c.Nudge(-15)
	require.NoError(t, err)
	require.Equal(t, 45, got)
	require.Equal(t, []bool{false, true, true, true}, alphas(c.Result()))

	got, err = c.SetThreshold(1000)
	require.NoError(t, err)
	require.Equal(t, MaxThreshold, got)
	require.Equal(t, []bool{false, false, false, false}, alphas(c.Result()))

	got, err = c.Nudge(-10000)
	require.NoError(t, err)
	require.Equal(t, MinThreshold, got)
	require.Equal(t, []bool{true, true, true, true}, alphas(c.Result()))

	got, err = c.ResetThreshold()
	require.NoError(t, err)
	require.Equal(t, 70, got)

	require.EqualValues(t, 1, atomic.LoadInt32(&r.calls))
}

func TestSourceIsNotModified(t *testing.T) {
	c, _ := loaded(t)
	_, err := c.SetThreshold(MaxThreshold)
	require.NoError(t, err)
	_, err = c.SetThreshold(MinThreshold)
	require.NoError(t, err)

	// the original pixels come back, including the ones that were transparent
	res := c.Result()
	require.Equal(t, []uint8{10, 20, 30, 255}, res.Pix[0:4])
	require.Equal(t, []uint8{100, 110, 120, 255}, res.Pix[12:16])
}

func TestStatusProgression(t *testing.T) {
	gate := make(chan struct{})
	r := &fakeRunner{
		backend: "fake",
		ready:   make(chan struct{}),
		gates:   map[string]chan struct{}{"a": gate},
		depths:  map[string]*depth.Map{"a": depthOf(t, 1, 2, 3, 4)},
	}
	c := New(r)
	done := make(chan error, 1)
	go func() { done <- c.Load(context.Background(), quad(t, "a")) }()

	require.Eventually(t, func() bool { return c.Status() == StatusLoadingModel }, time.Second, time.Millisecond)
	close(r.ready)
	require.Eventually(t, func() bool { return c.Status() == StatusProcessing }, time.Second, time.Millisecond)
	close(gate)
	require.NoError(t, <-done)
	require.Equal(t, StatusChooseDepth, c.Status())
}

func TestNewerLoadWins(t *testing.T) {
	slow := make(chan struct{})
	r := &fakeRunner{
		backend: "fake",
		gates:   map[string]chan struct{}{"old": slow},
		depths: map[string]*depth.Map{
			"old": depthOf(t, 200, 200, 200, 200),
			"new": depthOf(t, 10, 50, 90, 130),
		},
	}
	c := New(r)

	first := make(chan error, 1)
	go func() { first <- c.Load(context.Background(), quad(t, "old")) }()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.calls) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Load(context.Background(), quad(t, "new")))
	close(slow)
	require.ErrorIs(t, <-first, ErrSuperseded)

	require.Equal(t, "new", c.Name())
	require.Equal(t, 70, c.Threshold())
	require.Equal(t, StatusChooseDepth, c.Status())
}

func TestLoadError(t *testing.T) {
	r := &fakeRunner{backend: "fake", err: fault.New(fault.InferenceFailed, "decode_error: bad bytes")}
	c := New(r)
	err := c.Load(context.Background(), quad(t, "a"))
	require.True(t, fault.Is(err, fault.InferenceFailed))
	require.True(t, strings.HasPrefix(c.Status(), "Error: "), c.Status())
	require.Contains(t, c.Status(), "bad bytes")
	require.Nil(t, c.Result())
	require.ErrorIs(t, c.Save(&bytes.Buffer{}), ErrNoImage)
	_, err = c.ResetThreshold()
	require.ErrorIs(t, err, ErrNoImage)
}

func TestLoadShapeMismatch(t *testing.T) {
	wide, err := depth.New(4, 1, depth.Channels, []uint8{1, 2, 3, 4})
	require.NoError(t, err)
	r := &fakeRunner{backend: "fake", depths: map[string]*depth.Map{"a": wide}}
	c := New(r)
	err = c.Load(context.Background(), quad(t, "a"))
	require.True(t, fault.Is(err, fault.ShapeMismatch), "%v", err)
}

func TestSave(t *testing.T) {
	c, _ := loaded(t)
	buf := &bytes.Buffer{}
	require.NoError(t, c.Save(buf))

	img, err := png.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
	_, _, _, a := img.At(0, 0).RGBA()
	require.Zero(t, a)
	require.Equal(t, color.NRGBA{R: 100, G: 110, B: 120, A: 255}, color.NRGBAModel.Convert(img.At(1, 1)))
}
