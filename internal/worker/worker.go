// Package worker hosts the depth model in isolation from the caller, by default in a child process
// that talks to its parent over a unix socket.
package worker

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger = logrus.New() // TODO move onto Parent/Child once the handler logger is configurable from flags

// SetLogger replaces the package logger.
func SetLogger(l *logrus.Logger) { log = l }

const (
	WORKER_FD = 3 + iota // stdin, stdout, stderr, ...
)

// Spawner starts an inference worker and returns the caller's end of its connection.
type Spawner interface {
	Spawn(ctx context.Context) (net.Conn, error)
}

var (
	_ Spawner = &Parent{}
	_ Spawner = &InProcess{}
)

func fromFD(fd uintptr) (f *os.File, err error) {
	f = os.NewFile(fd, "unix")
	if f == nil {
		err = fmt.Errorf("nil for fd %d", fd)
	}
	return
}
