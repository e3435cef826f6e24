// Package logger carries a *logrus.Entry through a context.
package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

type ctxKey int

const (
	ctxKeyLog ctxKey = iota
)

// Default is used when a context carries no entry.
var Default = logrus.New()

// New returns a logger at debug level when verbose, info otherwise.
func New(verbose bool) *logrus.Logger {
	l := logrus.New()
	l.Level = logrus.InfoLevel
	if verbose {
		l.Level = logrus.DebugLevel
	}
	return l
}

func Entry(ctx context.Context) *logrus.Entry {
	if e, ok := ctx.Value(ctxKeyLog).(*logrus.Entry); ok {
		return e
	}
	return logrus.NewEntry(Default)
}

func WithLogEntry(ctx context.Context, e *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKeyLog, e)
}
