// Package config holds the command line flags. Defaults come from DEPTHCUT_* environment variables,
// optionally loaded from a .env file.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/WIZARDISHUNGRY/depthcut/internal/estimator"
	"github.com/WIZARDISHUNGRY/depthcut/internal/worker"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	envPrefix = "DEPTHCUT_"

	// ThresholdAuto selects the mean of the depth map.
	ThresholdAuto = "auto"
)

type Flags struct {
	Worker      bool
	Privsep     bool
	Backends    string
	WorkSize    int
	Threshold   string
	Out         string
	Interactive bool
	Preview     bool
	Sixel       bool
	DumpFSM     bool
	DumpHttp    bool
	Verbose     bool
}

// Env reads path with godotenv and overlays the process environment on top of it. A missing file
// is not an error.
func Env(path string) (map[string]string, error) {
	env := map[string]string{}
	if path != "" {
		m, err := godotenv.Read(path)
		switch {
		case err == nil:
			env = m
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, errors.Wrapf(err, "godotenv.Read %s", path)
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, envPrefix) {
			env[k] = v
		}
	}
	return env, nil
}

// Register binds every flag on fs.
func Register(fs *flag.FlagSet, env map[string]string) *Flags {
	f := Flags{}
	fs.BoolVar(&f.Worker, "worker", false, "used by process separation, not for end user use")
	fs.BoolVar(&f.Privsep, "privsep", envBool(env, "PRIVSEP", true), "run inference in a separate process")
	fs.StringVar(&f.Backends, "backends", envString(env, "BACKENDS", strings.Join(estimator.DefaultBackends, ",")),
		"comma separated inference backends in order of preference")
	fs.IntVar(&f.WorkSize, "work-size", envInt(env, "WORK_SIZE", estimator.DefaultWorkSize), "model input edge in pixels")
	fs.StringVar(&f.Threshold, "threshold", envString(env, "THRESHOLD", ThresholdAuto),
		"depth cut off in [-1, 255], or auto for the mean depth")
	fs.StringVar(&f.Out, "out", envString(env, "OUT", "cutout.png"), "where to write the masked png")
	fs.BoolVar(&f.Interactive, "interactive", false, "adjust the threshold from the keyboard")
	fs.BoolVar(&f.Preview, "preview", false, "draw the result in the terminal")
	fs.BoolVar(&f.Sixel, "sixel", envBool(env, "SIXEL", false), "preview as sixels instead of ansi art")
	fs.BoolVar(&f.DumpFSM, "dump-fsm", false, "write graphviz src and exit")
	fs.BoolVar(&f.DumpHttp, "dump-http", false, "dumps http headers")
	fs.BoolVar(&f.Verbose, "verbose", envBool(env, "VERBOSE", false), "debug logging")
	return &f
}

// ParseThreshold returns the fixed threshold, or auto=true when the mean should be used.
func (f *Flags) ParseThreshold() (t int, auto bool, err error) {
	s := strings.TrimSpace(f.Threshold)
	if s == "" || strings.EqualFold(s, ThresholdAuto) {
		return 0, true, nil
	}
	t, err = strconv.Atoi(s)
	if err != nil {
		return 0, false, errors.Wrapf(err, "bad threshold %q", f.Threshold)
	}
	if t < -1 || t > 255 {
		return 0, false, errors.Errorf("threshold %d outside [-1, 255]", t)
	}
	return t, false, nil
}

func (f *Flags) Candidates() ([]estimator.Candidate, error) {
	return estimator.Candidates(strings.Split(f.Backends, ","), estimator.Options{WorkSize: f.WorkSize})
}

// Spawner picks how the inference worker is hosted.
func (f *Flags) Spawner(h *worker.Handler) worker.Spawner {
	if !f.Privsep {
		return &worker.InProcess{Handler: h}
	}
	return &worker.Parent{Args: f.WorkerArgs()}
}

// WorkerArgs are the flags a worker process needs to make the same backend choice.
func (f *Flags) WorkerArgs() []string {
	args := []string{
		"-backends=" + f.Backends,
		"-work-size=" + strconv.Itoa(f.WorkSize),
	}
	if f.Verbose {
		args = append(args, "-verbose")
	}
	return args
}

func envString(env map[string]string, key, def string) string {
	if v, ok := env[envPrefix+key]; ok && v != "" {
		return v
	}
	return def
}

func envBool(env map[string]string, key string, def bool) bool {
	if b, err := strconv.ParseBool(env[envPrefix+key]); err == nil {
		return b
	}
	return def
}

func envInt(env map[string]string, key string, def int) int {
	if i, err := strconv.Atoi(env[envPrefix+key]); err == nil {
		return i
	}
	return def
}
