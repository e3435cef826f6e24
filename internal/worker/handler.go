package worker

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/WIZARDISHUNGRY/depthcut/internal/depth"
	"github.com/WIZARDISHUNGRY/depthcut/internal/estimator"
	"github.com/WIZARDISHUNGRY/depthcut/internal/fault"
	"github.com/WIZARDISHUNGRY/depthcut/internal/protocol"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Handler is the inference side of the worker boundary. It owns backend selection and the
// estimator chosen by it.
type Handler struct {
	Candidates []estimator.Candidate
	Log        *logrus.Entry // defaults to the package logger

	mutex     sync.Mutex
	estimator estimator.Estimator
	backend   string
}

func NewHandler(candidates []estimator.Candidate) *Handler {
	return &Handler{Candidates: candidates}
}

// Initialize selects a backend. Once it has succeeded later calls return the cached backend.
// A failed selection is not cached.
func (h *Handler) Initialize(ctx context.Context) (string, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.estimator != nil {
		return h.backend, nil
	}

	sel, err := estimator.Select(ctx, h.Candidates)
	for _, a := range sel.Attempts {
		h.logger().WithError(a.Err).WithField("backend", a.Name).Debug("backend unavailable")
	}
	if err != nil {
		h.logger().WithError(err).Error("no backend available")
		return "", err
	}
	h.estimator, h.backend = sel.Estimator, sel.Backend
	h.logger().WithField("backend", sel.Backend).Info("inference backend ready")
	return h.backend, nil
}

// EstimateDepth decodes imageBytes and runs the selected estimator over it.
func (h *Handler) EstimateDepth(ctx context.Context, imageBytes []byte) (*depth.Map, error) {
	h.mutex.Lock()
	est := h.estimator
	h.mutex.Unlock()
	if est == nil {
		return nil, fault.New(fault.NotInitialized, "estimate requested before a backend was selected")
	}

	img, format, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fault.Wrap(err, fault.DecodeError, "image bytes could not be decoded")
	}
	h.logger().WithFields(logrus.Fields{
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debug("estimating depth")

	d, err := runEstimator(ctx, est, img)
	if err != nil {
		return nil, fault.Wrap(err, fault.InferenceError, "depth estimation failed")
	}
	return d, nil
}

func runEstimator(ctx context.Context, est estimator.Estimator, img image.Image) (d *depth.Map, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, errors.Errorf("estimator panic: %v", r)
		}
	}()
	return est.Estimate(ctx, img)
}

// Handle answers one request. It never returns nil.
func (h *Handler) Handle(ctx context.Context, req *protocol.Message) *protocol.Message {
	switch req.Type {
	case protocol.TypeReadyCheck:
		backend, err := h.Initialize(ctx)
		if err != nil {
			return protocol.Error(req.ID, fault.NoBackendAvailable, err)
		}
		return protocol.Ready(backend)

	case protocol.TypeEstimate:
		if _, err := h.Initialize(ctx); err != nil {
			return protocol.Error(req.ID, fault.NoBackendAvailable, err)
		}
		d, err := h.EstimateDepth(ctx, req.Image)
		if err != nil {
			h.logger().WithError(err).WithField("id", req.ID).Warn("estimate failed")
			return protocol.Error(req.ID, fault.InferenceError, err)
		}
		return protocol.EstimateResult(req.ID, d)

	default:
		h.logger().WithField("type", req.Type).Warn("unknown message")
		return protocol.Error(req.ID, fault.ProtocolError, errors.New(protocol.UnknownMessage))
	}
}

func (h *Handler) logger() *logrus.Entry {
	if h.Log == nil {
		return logrus.NewEntry(log)
	}
	return h.Log
}
