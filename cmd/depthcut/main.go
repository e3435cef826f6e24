package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/WIZARDISHUNGRY/depthcut/internal/acquire"
	"github.com/WIZARDISHUNGRY/depthcut/internal/bridge"
	"github.com/WIZARDISHUNGRY/depthcut/internal/config"
	"github.com/WIZARDISHUNGRY/depthcut/internal/logger"
	"github.com/WIZARDISHUNGRY/depthcut/internal/preview"
	"github.com/WIZARDISHUNGRY/depthcut/internal/session"
	"github.com/WIZARDISHUNGRY/depthcut/internal/worker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	log           = logrus.New()
	flags         *config.Flags
	currentBridge *bridge.Bridge
	current       *session.Controller
	term          *preview.Terminal
)

func main() {
	env, err := config.Env(".env")
	if err != nil {
		log.WithError(err).Fatal("config.Env")
	}
	flags = config.Register(flag.CommandLine, env)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [image path or url]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flags.DumpFSM {
		fmt.Println(bridge.Visualize())
		return
	}

	if flags.Verbose {
		log.Level = logrus.DebugLevel
	}
	logger.Default = log
	worker.SetLogger(log)
	acquire.DumpHttp(flags.DumpHttp)

	candidates, err := flags.Candidates()
	if err != nil {
		log.WithError(err).Fatal("backends")
	}
	h := worker.NewHandler(candidates)

	ctx, ctxCancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt,
	)
	defer func() {
		ctxCancel()
		log.Debug("main exiting")
	}()

	if flags.Worker {
		h.Log = logrus.NewEntry(log).WithField("role", "worker")
		if err := (&worker.Child{Handler: h}).Start(ctx); err != nil {
			log.WithError(err).Fatal("worker")
		}
		return
	}

	threshold, auto, err := flags.ParseThreshold()
	if err != nil {
		log.WithError(err).Fatal("-threshold")
	}

	ctx = logger.WithLogEntry(ctx, logrus.NewEntry(log))
	currentBridge, err = bridge.New(ctx, flags.Spawner(h))
	if err != nil {
		log.WithError(err).Fatal("bridge.New")
	}
	defer currentBridge.Close()

	current = session.New(currentBridge)
	term = &preview.Terminal{Writer: os.Stdout, Fd: int(os.Stdout.Fd()), Sixel: flags.Sixel}

	var src string
	if args := flag.Args(); len(args) > 0 {
		src = args[0]
	}

	g, ctx := errgroup.WithContext(ctx)

	// the model loads while the image is read
	g.Go(func() error {
		if backend, err := currentBridge.EnsureReady(ctx); err == nil {
			log.Infof("running on %s", backend)
		}
		return nil
	})

	g.Go(func() error {
		if err := process(ctx, src, threshold, auto); err != nil {
			return err
		}
		if !flags.Interactive {
			return nil
		}
		return interact(ctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

// process loads src, applies the requested threshold and, unless interactive, writes the result.
func process(ctx context.Context, src string, threshold int, auto bool) error {
	img, err := acquire.Open(ctx, src)
	if err != nil {
		return errors.Wrap(err, "acquire.Open")
	}
	if err := current.Load(ctx, img); err != nil {
		return errors.Wrap(err, "load")
	}
	if !auto {
		if _, err := current.SetThreshold(threshold); err != nil {
			return err
		}
	}
	report()
	if flags.Preview {
		render()
	}
	if flags.Interactive {
		return nil
	}
	return save(flags.Out)
}

// interact returns when the user quits or ctx ends; the tty read cannot be interrupted.
func interact(ctx context.Context) error {
	quit := make(chan error, 1)
	go func() { quit <- scanKeys(ctx) }()
	select {
	case err := <-quit:
		return err
	case <-ctx.Done():
		return nil
	}
}

func report() {
	log.WithFields(logrus.Fields{
		"threshold": current.Threshold(),
		"kept":      fmt.Sprintf("%.1f%%", 100*current.Coverage()),
		"backend":   current.Backend(),
	}).Info(current.Status())
}

func render() {
	res := current.Result()
	if res == nil {
		return
	}
	if err := term.Render(res.Image()); err != nil {
		log.WithError(err).Warn("preview")
	}
}

func save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "os.Create")
	}
	if err := current.Save(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Infof("wrote %s", path)
	return nil
}
