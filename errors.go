package conveyor

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("conveyor: no store configured")
	ErrStoreClosed = errors.New("conveyor: store closed")

	// Not found errors.
	ErrJobNotFound    = errors.New("conveyor: job not found")
	ErrDLQNotFound    = errors.New("conveyor: dlq entry not found")
	ErrQueueNotFound  = errors.New("conveyor: queue not configured")
	ErrWorkerNotFound = errors.New("conveyor: worker not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conveyor: job already exists")

	// Admission errors.
	ErrQueueFull = errors.New("conveyor: queue at max depth")

	// State errors.
	ErrInvalidTransition  = errors.New("conveyor: invalid status transition")
	ErrMaxAttemptsReached = errors.New("conveyor: max attempts reached")
	ErrJobTerminal        = errors.New("conveyor: job already in terminal state")
)

// Kind classifies a job execution error. The kind decides whether the
// worker may retry the job at all: cancelled jobs are never retried.
type Kind string

const (
	// KindExecution is a handler-level business failure.
	KindExecution Kind = "execution"
	// KindTimeout means the job's hard deadline elapsed before the
	// handler returned.
	KindTimeout Kind = "timeout"
	// KindCancelled means the job was explicitly cancelled. Never retried.
	KindCancelled Kind = "cancelled"
)

// Error is a classified job execution error produced by handlers or
// synthesized by the executor (timeouts, cancellations).
type Error struct {
	Kind Kind
	Err  error
}

// NewExecutionError wraps a handler failure.
func NewExecutionError(err error) *Error {
	return &Error{Kind: KindExecution, Err: err}
}

// NewTimeoutError synthesizes a deadline-exceeded error for a job.
func NewTimeoutError(jobType string, err error) *Error {
	return &Error{Kind: KindTimeout, Err: fmt.Errorf("job %s exceeded deadline: %w", jobType, err)}
}

// NewCancelledError marks a job as explicitly cancelled.
func NewCancelledError(err error) *Error {
	return &Error{Kind: KindCancelled, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// ErrKind returns the classification of err. Untyped errors are treated
// as execution failures; context cancellation maps to KindCancelled and
// context deadline expiry to KindTimeout.
func ErrKind(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindExecution
}

// IsCancelled reports whether err carries the cancelled kind.
func IsCancelled(err error) bool { return ErrKind(err) == KindCancelled }

// IsTimeout reports whether err carries the timeout kind.
func IsTimeout(err error) bool { return ErrKind(err) == KindTimeout }
