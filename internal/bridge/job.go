package bridge

import (
	"context"

	"github.com/WIZARDISHUNGRY/depthcut/internal/depth"
	"github.com/segmentio/ksuid"
)

type result struct {
	depth *depth.Map
	err   error
}

type job struct {
	id    string
	ctx   context.Context
	image []byte
	C     chan result
}

func newJob(ctx context.Context, image []byte) *job {
	return &job{
		id:    ksuid.New().String(),
		ctx:   ctx,
		image: image,
		C:     make(chan result, 1),
	}
}

// resolve delivers the outcome; only the first call has any effect.
func (j *job) resolve(d *depth.Map, err error) {
	select {
	case j.C <- result{depth: d, err: err}:
	default:
	}
}
