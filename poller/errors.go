package poller

import (
	"errors"
)

// Error kinds. Every error returned by this package matches one of them
// with errors.Is.
var (
	ErrInvalidSource     = errors.New("invalid source")
	ErrAlreadyRegistered = errors.New("source already registered")
	ErrNotRegistered     = errors.New("source not registered")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrTransport         = errors.New("transport error")
	ErrClosed            = errors.New("poller instance is closed")
)

// OpError is a failed native call. Err holds the native error code.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both the kind and the native error.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func opError(op string, kind error, err error) error {
	return &OpError{Op: op, Kind: kind, Err: err}
}

// wrapErr classifies a native error returned by op.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return opError(op, classify(err), err)
}
