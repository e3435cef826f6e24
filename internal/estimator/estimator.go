// Package estimator hosts the depth model behind an ordered list of compute backends.
package estimator

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"strings"

	"github.com/WIZARDISHUNGRY/depthcut/internal/depth"
	"github.com/WIZARDISHUNGRY/depthcut/internal/fault"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	Parallel = "parallel"
	Portable = "portable"

	// DefaultWorkSize is the longest side the model works at.
	DefaultWorkSize = 518
)

// DefaultBackends is the priority order used when none is configured.
var DefaultBackends = []string{Parallel, Portable}

type Estimator interface {
	Estimate(ctx context.Context, img image.Image) (*depth.Map, error)
}

// Candidate is one backend to try. Init either returns a usable Estimator or an error.
type Candidate struct {
	Name string
	Init func(ctx context.Context) (Estimator, error)
}

// Attempt records a candidate that failed to initialize.
type Attempt struct {
	Name string
	Err  error
}

type Selection struct {
	Backend   string
	Estimator Estimator
	Attempts  []Attempt // failures before Backend was chosen
}

// Select tries candidates in order and keeps the first that initializes.
func Select(ctx context.Context, candidates []Candidate) (Selection, error) {
	var (
		sel  Selection
		errs error
	)
	if len(candidates) == 0 {
		return sel, fault.New(fault.NoBackendAvailable, "no backends configured")
	}
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return sel, err
		}
		est, err := tryInit(ctx, c)
		if err == nil {
			sel.Backend = c.Name
			sel.Estimator = est
			return sel, nil
		}
		sel.Attempts = append(sel.Attempts, Attempt{Name: c.Name, Err: err})
		errs = multierr.Append(errs, errors.Wrap(err, c.Name))
	}
	return sel, fault.Wrap(errs, fault.NoBackendAvailable,
		fmt.Sprintf("all %d backends failed to initialize", len(candidates)))
}

func tryInit(ctx context.Context, c Candidate) (est Estimator, err error) {
	defer func() {
		if r := recover(); r != nil {
			est, err = nil, errors.Errorf("panic during init: %v", r)
		}
	}()
	est, err = c.Init(ctx)
	if err == nil && est == nil {
		err = errors.New("init returned no estimator")
	}
	return est, err
}

type Options struct {
	WorkSize int
}

var registry = map[string]func(Options) Candidate{
	Parallel: func(o Options) Candidate {
		return Candidate{Name: Parallel, Init: func(ctx context.Context) (Estimator, error) {
			if n := runtime.NumCPU(); n < 2 {
				return nil, errors.Errorf("needs at least 2 CPUs, have %d", n)
			}
			return &Model{WorkSize: o.WorkSize, Workers: runtime.GOMAXPROCS(0)}, nil
		}}
	},
	Portable: func(o Options) Candidate {
		return Candidate{Name: Portable, Init: func(ctx context.Context) (Estimator, error) {
			return &Model{WorkSize: o.WorkSize, Workers: 1}, nil
		}}
	},
}

// Names lists the known backends.
func Names() []string {
	names := maps.Keys(registry)
	slices.Sort(names)
	return names
}

// Candidates resolves backend names, in order, into candidates.
func Candidates(names []string, opts Options) ([]Candidate, error) {
	if opts.WorkSize <= 0 {
		opts.WorkSize = DefaultWorkSize
	}
	out := make([]Candidate, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		mk, ok := registry[name]
		if !ok {
			return nil, errors.Errorf("unknown backend %q (have %s)", name, strings.Join(Names(), ", "))
		}
		out = append(out, mk(opts))
	}
	return out, nil
}
