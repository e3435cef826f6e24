// Package fault holds the error taxonomy shared by the worker, the bridge and the compositor.
package fault

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	NoBackendAvailable Kind = "no_backend_available"
	NotInitialized     Kind = "not_initialized"
	DecodeError        Kind = "decode_error"
	InferenceError     Kind = "inference_error"
	InferenceFailed    Kind = "inference_failed"
	ProtocolError      Kind = "protocol_error"
	ShapeMismatch      Kind = "shape_mismatch"
	WorkerExited       Kind = "worker_exited"
)

// Error is a failure with a kind and a human readable message. Message is never empty.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }
func (e *Error) Cause() error  { return e.cause }

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: message(kind, fmt.Sprintf(format, args...))}
}

func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: message(kind, msg), cause: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func message(kind Kind, msg string) string {
	if msg == "" {
		return string(kind)
	}
	return msg
}
