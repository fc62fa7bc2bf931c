package fetch

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a fetch failure. Timeout and Transient are retried within
// a cycle; CapabilityUnavailable and NotFound short-circuit further attempts
// for that account until its next due time.
type Kind int

const (
	KindTransient Kind = iota
	KindTimeout
	KindCapabilityUnavailable
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindCapabilityUnavailable:
		return "CapabilityUnavailable"
	case KindNotFound:
		return "NotFound"
	default:
		return "Transient"
	}
}

// Error wraps a fetcher failure with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Timeout(err error) error   { return &Error{Kind: KindTimeout, Err: err} }
func Transient(err error) error { return &Error{Kind: KindTransient, Err: err} }
func CapabilityUnavailable(err error) error {
	return &Error{Kind: KindCapabilityUnavailable, Err: err}
}
func NotFound(err error) error { return &Error{Kind: KindNotFound, Err: err} }

// KindOf classifies any error from a fetch attempt. Deadline expiry counts
// as Timeout; unclassified errors are treated as Transient.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransient
}

// Retryable reports whether another attempt this cycle may help.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindTransient:
		return true
	default:
		return false
	}
}
