package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by how the pipeline reacts to them.
type ErrorKind int

const (
	// KindCaptureUnavailable means the camera cannot be opened or read.
	// Fatal at startup; ends the capture loop mid-run.
	KindCaptureUnavailable ErrorKind = iota + 1
	// KindResourceUnavailable means a recording sink cannot be created or
	// sustained. The event degrades to snapshot-only evidence.
	KindResourceUnavailable
	// KindTransportFailure means a delivery attempt failed. Retryable.
	KindTransportFailure
	// KindEncodingFailure means an image or video encode failed. The
	// affected artifact is skipped.
	KindEncodingFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindCaptureUnavailable:
		return "capture unavailable"
	case KindResourceUnavailable:
		return "resource unavailable"
	case KindTransportFailure:
		return "transport failure"
	case KindEncodingFailure:
		return "encoding failure"
	default:
		return "unknown error"
	}
}

// Error is the pipeline's error type.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind against a bare sentinel, so that
// errors.Is(err, ErrTransportFailure) works for every wrapped transport error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

var (
	ErrCaptureUnavailable  = &Error{Kind: KindCaptureUnavailable}
	ErrResourceUnavailable = &Error{Kind: KindResourceUnavailable}
	ErrTransportFailure    = &Error{Kind: KindTransportFailure}
	ErrEncodingFailure     = &Error{Kind: KindEncodingFailure}

	// ErrEndOfStream is returned by frame sources with no more frames.
	ErrEndOfStream = errors.New("end of stream")
)

func CaptureError(op string, err error) error {
	return &Error{Kind: KindCaptureUnavailable, Op: op, Err: err}
}

func ResourceError(op string, err error) error {
	return &Error{Kind: KindResourceUnavailable, Op: op, Err: err}
}

func TransportError(op string, err error) error {
	return &Error{Kind: KindTransportFailure, Op: op, Err: err}
}

func EncodingError(op string, err error) error {
	return &Error{Kind: KindEncodingFailure, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
