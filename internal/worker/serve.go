package worker

import (
	"context"
	"io"
	"net"

	"github.com/WIZARDISHUNGRY/depthcut/internal/protocol"
	"github.com/pkg/errors"
)

// Serve answers requests on conn one at a time, in arrival order, until the peer hangs up or ctx
// ends. It closes conn on return.
func Serve(ctx context.Context, conn net.Conn, h *Handler) error {
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	dec := protocol.NewDecoder(conn)
	enc := protocol.NewEncoder(conn)
	for ctx.Err() == nil {
		req, err := dec.Decode()
		if err == io.EOF || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read request")
		}
		if err := enc.Encode(h.Handle(ctx, req)); err != nil {
			return errors.Wrap(err, "write response")
		}
	}
	return nil
}
