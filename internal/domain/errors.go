package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoCapableAgent is returned by routing when no registered agent matches
// the task's kind and hints. Terminal and non-retryable.
var ErrNoCapableAgent = errors.New("no capable agent for task")

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// InvalidPipelineError rejects a step graph at construction time, before
// anything executes.
type InvalidPipelineError struct {
	Reason string
}

func (e *InvalidPipelineError) Error() string {
	return "invalid pipeline: " + e.Reason
}

// InvokerError wraps a failure reported by an AgentInvoker. Transient
// failures are safe to retry; permanent ones are not, and the orchestration
// core must not assume idempotence for them.
type InvokerError struct {
	Transient bool
	Err       error
}

func (e *InvokerError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("invoker error (%s): %v", kind, e.Err)
}

func (e *InvokerError) Unwrap() error { return e.Err }

// TransientError flags an invoker failure as retryable.
func TransientError(err error) *InvokerError {
	return &InvokerError{Transient: true, Err: err}
}

// PermanentError flags an invoker failure as non-retryable.
func PermanentError(err error) *InvokerError {
	return &InvokerError{Transient: false, Err: err}
}

// ExhaustedError surfaces the last failure once a step's retry budget is
// spent.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("executor exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsTransient reports whether an invocation failure may succeed on retry.
// Deadline expiry counts as transient; anything else must carry an explicit
// retryable flag from the invoker.
func IsTransient(err error) bool {
	var ie *InvokerError
	if errors.As(err, &ie) {
		return ie.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}
