package worker

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// Child is the worker process side: it serves connections accepted on the listener inherited as
// WORKER_FD.
type Child struct {
	Handler *Handler

	once sync.Once
}

func (c *Child) Start(ctx context.Context) error {
	var retErr error
	c.once.Do(func() { // blocks until the parent goes away
		retErr = c.runWorker(ctx)
	})
	return retErr
}

func (c *Child) runWorker(ctx context.Context) error {
	f, err := fromFD(WORKER_FD)
	if err != nil {
		return err
	}
	defer f.Close()

	l, err := net.FileListener(f)
	if err != nil {
		return fmt.Errorf("net.FileListener: %w", err)
	}
	listener := l.(*net.UnixListener)
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "listener.Accept")
	}
	log.Debug("worker accepted connection")
	// the parent holds a single connection; once it hangs up there is nobody left to serve
	return Serve(ctx, conn, c.Handler)
}
