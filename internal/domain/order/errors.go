package order

import (
	"context"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/go-faster/errors"
)

// ErrTimeout matches transport errors caused by a timeout:
//
//	errors.Is(err, order.ErrTimeout)
var ErrTimeout = errors.New("order request timed out")

// TransportError is a network or backend availability failure. The request
// may be retried at the customer's discretion.
type TransportError struct {
	Err     error
	timeout bool
}

// NewTransportError wraps err as a transport failure.
func NewTransportError(err error, timeout bool) *TransportError {
	return &TransportError{Err: err, timeout: timeout}
}

func (e *TransportError) Error() string {
	if e.timeout {
		return fmt.Sprintf("order request timed out: %v", e.Err)
	}
	return fmt.Sprintf("order request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a timeout.
func (e *TransportError) Timeout() bool { return e.timeout }

// Is makes timeouts match ErrTimeout.
func (e *TransportError) Is(target error) bool {
	return e.timeout && target == ErrTimeout
}

// RejectedError is returned when the backend refuses the order, for example
// because a promotion failed server-side validation.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("order rejected: %s", e.Reason)
}

// UnknownError wraps any failure that is neither a transport error nor a
// rejection.
type UnknownError struct {
	Err error
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("order failed: %v", e.Err)
}

func (e *UnknownError) Unwrap() error { return e.Err }

// Classify maps err onto one of the typed order errors.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var (
		transport *TransportError
		rejected  *RejectedError
		unknown   *UnknownError
	)
	if errors.As(err, &transport) || errors.As(err, &rejected) || errors.As(err, &unknown) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransportError(err, true)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransportError(err, netErr.Timeout())
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return NewTransportError(err, false)
	}

	return &UnknownError{Err: err}
}
