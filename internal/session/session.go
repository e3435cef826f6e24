// Package session holds the state behind one cut-out: the source pixels, their depth map, the
// chosen threshold and the masked result. Changing the threshold never goes back to the worker.
package session

import (
	"context"
	"io"
	"sync"

	"github.com/WIZARDISHUNGRY/depthcut/internal/acquire"
	"github.com/WIZARDISHUNGRY/depthcut/internal/compositor"
	"github.com/WIZARDISHUNGRY/depthcut/internal/depth"
	"github.com/WIZARDISHUNGRY/depthcut/internal/export"
	"github.com/WIZARDISHUNGRY/depthcut/internal/fault"
	"github.com/WIZARDISHUNGRY/depthcut/internal/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	MinThreshold = -1
	MaxThreshold = 255

	StatusLoadingModel = "Loading model"
	StatusProcessing   = "Processing image"
	StatusChooseDepth  = "Choose depth"
	statusErrorPrefix  = "Error: "
)

var (
	ErrSuperseded = errors.New("load superseded by a newer image")
	ErrNoImage    = errors.New("no image loaded")
)

// Runner is the part of the bridge a session needs.
type Runner interface {
	EnsureReady(ctx context.Context) (string, error)
	RunDepth(ctx context.Context, image []byte) (*depth.Map, error)
}

type Option func(c *Controller)

func WithLogger(e *logrus.Entry) Option {
	return func(c *Controller) { c.log = e }
}

type Controller struct {
	runner Runner
	log    *logrus.Entry

	mutex      sync.Mutex
	generation uint64
	status     string
	backend    string
	name       string
	source     *compositor.PixelBuffer // captured before any masking, never modified
	depth      *depth.Map
	threshold  int
	result     *compositor.PixelBuffer
}

func New(runner Runner, opts ...Option) *Controller {
	c := &Controller{
		runner:    runner,
		log:       logger.Entry(context.Background()),
		threshold: 100,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load runs depth estimation for img and applies the mean threshold. If another Load starts before
// this one finishes, this one returns ErrSuperseded and leaves the newer image's state alone.
func (c *Controller) Load(ctx context.Context, img *acquire.Image) error {
	if img == nil || img.Decoded == nil {
		return ErrNoImage
	}
	src := compositor.FromImage(img.Decoded)

	c.mutex.Lock()
	c.generation++
	gen := c.generation
	if c.backend == "" {
		c.status = StatusLoadingModel
	} else {
		c.status = StatusProcessing
	}
	c.mutex.Unlock()

	log := c.log.WithField("image", img.Name)
	backend, err := c.runner.EnsureReady(ctx)
	if err != nil {
		return c.failed(gen, err)
	}
	if !c.advance(gen, func() {
		c.backend = backend
		c.status = StatusProcessing
	}) {
		return ErrSuperseded
	}

	log.Debug("processing image")
	d, err := c.runner.RunDepth(ctx, img.Bytes)
	if err != nil {
		return c.failed(gen, err)
	}
	if d.Width() != src.Width || d.Height() != src.Height {
		return c.failed(gen, fault.New(fault.ShapeMismatch, "depth map is %dx%d, image is %dx%d",
			d.Width(), d.Height(), src.Width, src.Height))
	}

	t := d.MeanThreshold()
	result, err := compositor.ApplyMask(src, d, float64(t))
	if err != nil {
		return c.failed(gen, err)
	}
	if !c.advance(gen, func() {
		c.name = img.Name
		c.source, c.depth, c.result = src, d, result
		c.threshold = t
		c.status = StatusChooseDepth
	}) {
		return ErrSuperseded
	}
	log.WithField("threshold", t).Info("depth ready")
	return nil
}

// advance runs fn under the lock unless a newer load has started.
func (c *Controller) advance(gen uint64, fn func()) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if gen != c.generation {
		return false
	}
	fn()
	return true
}

func (c *Controller) failed(gen uint64, err error) error {
	if !c.advance(gen, func() { c.status = statusErrorPrefix + err.Error() }) {
		return ErrSuperseded
	}
	c.log.WithError(err).Warn("load failed")
	return err
}

// SetThreshold clamps t to [MinThreshold, MaxThreshold] and re-masks the current image.
func (c *Controller) SetThreshold(t int) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.setThreshold(t)
}

func (c *Controller) Nudge(delta int) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.setThreshold(c.threshold + delta)
}

// ResetThreshold goes back to the mean depth.
func (c *Controller) ResetThreshold() (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.depth == nil {
		return c.threshold, ErrNoImage
	}
	return c.setThreshold(c.depth.MeanThreshold())
}

// PRE: c.mutex held.
func (c *Controller) setThreshold(t int) (int, error) {
	if t < MinThreshold {
		t = MinThreshold
	}
	if t > MaxThreshold {
		t = MaxThreshold
	}
	c.threshold = t
	if c.depth == nil {
		return t, nil
	}
	result, err := compositor.ApplyMask(c.source, c.depth, float64(t))
	if err != nil {
		return t, err
	}
	c.result = result
	return t, nil
}

func (c *Controller) Threshold() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.threshold
}

// Result is the masked image for the current threshold, nil before the first successful load.
// Callers must not modify it.
func (c *Controller) Result() *compositor.PixelBuffer {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.result
}

func (c *Controller) Depth() *depth.Map {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.depth
}

// Coverage is the fraction of the image kept at the current threshold.
func (c *Controller) Coverage() float64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.depth == nil {
		return 0
	}
	return compositor.Coverage(c.depth, float64(c.threshold))
}

func (c *Controller) Status() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.status
}

func (c *Controller) Backend() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.backend
}

func (c *Controller) Name() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.name
}

// Save writes the current result as a PNG.
func (c *Controller) Save(w io.Writer) error {
	res := c.Result()
	if res == nil {
		return ErrNoImage
	}
	return export.PNG(w, res.Image())
}
