// Package neterr classifies connection failures into a small set of kinds.
//
// Every operation in the transport core reports failures as *Error values
// carrying a Kind. The receive pipeline and the handshake switch on the kind
// to pick their single teardown path instead of matching individual socket
// error types.
package neterr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Kind classifies an error.
type Kind uint8

const (
	// KindTransport is a generic transport/OS level failure.
	KindTransport Kind = iota

	// KindTimeout indicates an I/O deadline expired.
	KindTimeout

	// KindReset indicates the peer closed or reset the connection.
	KindReset

	// KindProtocol indicates the peer violated the protocol.
	KindProtocol

	// KindCapacity indicates a payload exceeded the size policy.
	KindCapacity

	// KindRegistry indicates the registry could not serve the request.
	KindRegistry

	// KindProbe indicates a liveness or reachability probe failed.
	KindProbe
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TRANSPORT"
	case KindTimeout:
		return "TIMEOUT"
	case KindReset:
		return "RESET"
	case KindProtocol:
		return "PROTOCOL"
	case KindCapacity:
		return "CAPACITY"
	case KindRegistry:
		return "REGISTRY"
	case KindProbe:
		return "PROBE"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether errors of this kind end the affected connection.
func (k Kind) Terminal() bool {
	switch k {
	case KindTransport, KindTimeout, KindReset, KindProtocol:
		return true
	default:
		return false
	}
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with an explicit kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Protocol is shorthand for a protocol violation.
func Protocol(op string, err error) *Error {
	return New(KindProtocol, op, err)
}

// Wrap classifies err and attaches op. Already classified errors keep their kind.
// Returns nil for a nil error.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			return &Error{Kind: e.Kind, Op: op, Err: e.Err}
		}
		return err
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// KindOf returns the kind of err, classifying unwrapped errors on the fly.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Classify maps raw I/O errors to a kind.
func Classify(err error) Kind {
	if err == nil {
		return KindTransport
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}

	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return KindReset
	}

	return KindTransport
}
