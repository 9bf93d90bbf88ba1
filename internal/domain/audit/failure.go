package audit

import (
	"context"
	"errors"
	"net"
)

// FailureKind classifies why a task attempt failed. The classification governs
// retry eligibility: only transient conditions are worth another attempt.
type FailureKind string

const (
	// FailureTransient covers network errors, rate limits and remote 5xx
	// responses. Retryable.
	FailureTransient FailureKind = "TRANSIENT"

	// FailurePermanent covers invalid input and remote 4xx rejections other
	// than rate limits. Never retried.
	FailurePermanent FailureKind = "PERMANENT"

	// FailureTimeout means the attempt exceeded its own soft limit, not the
	// job deadline. Retryable while budget remains.
	FailureTimeout FailureKind = "TIMEOUT"

	// FailureCancelled means the job deadline elapsed or the job was
	// cancelled. Never retried.
	FailureCancelled FailureKind = "CANCELLED"

	// FailureInternal means the adapter violated its contract (a bug).
	// Never retried, logged, surfaces as a failed task.
	FailureInternal FailureKind = "INTERNAL"
)

func (k FailureKind) String() string { return string(k) }

// Retryable reports whether an attempt that failed with this kind may be
// handed to the retry policy at all.
func (k FailureKind) Retryable() bool {
	return k == FailureTransient || k == FailureTimeout
}

// ParseFailureKind converts a string to a FailureKind.
func ParseFailureKind(s string) FailureKind {
	switch s {
	case "TRANSIENT":
		return FailureTransient
	case "PERMANENT":
		return FailurePermanent
	case "TIMEOUT":
		return FailureTimeout
	case "CANCELLED":
		return FailureCancelled
	case "INTERNAL":
		return FailureInternal
	default:
		return ""
	}
}

// Failure tags an underlying error with a FailureKind so adapters can tell the
// scheduler how to treat it. Adapters wrap their errors with NewFailure; bare
// errors are classified by ClassifyError.
type Failure struct {
	kind FailureKind
	err  error
}

// NewFailure wraps err with an explicit classification.
func NewFailure(kind FailureKind, err error) *Failure {
	return &Failure{kind: kind, err: err}
}

func (f *Failure) Kind() FailureKind { return f.kind }
func (f *Failure) Error() string     { return f.err.Error() }
func (f *Failure) Unwrap() error     { return f.err }

// ClassifyError derives a FailureKind from an arbitrary attempt error.
// Explicit Failure tags win; otherwise context errors map to the attempt
// timeout and cancellation kinds, net errors are treated as transient, and
// anything unrecognized is an adapter contract violation.
func ClassifyError(err error) FailureKind {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	if errors.Is(err, context.Canceled) {
		return FailureCancelled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}

	return FailureInternal
}
