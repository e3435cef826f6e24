package worker

import (
	"context"
	"net"
)

// InProcess runs the handler on a goroutine behind a synchronous pipe. Used when process
// separation is disabled, and in tests.
type InProcess struct {
	Handler *Handler
}

func (w *InProcess) Spawn(ctx context.Context) (net.Conn, error) {
	caller, worker := net.Pipe()
	go func() {
		if err := Serve(ctx, worker, w.Handler); err != nil {
			log.WithError(err).Warn("in-process worker stopped")
		}
	}()
	return caller, nil
}
