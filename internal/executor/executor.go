// Package executor invokes a single agent with timeout, retry, and backoff
// policy, and normalizes the outcome.
package executor

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"

	"go-baton/internal/domain"
	"go-baton/internal/registry"

	"github.com/hashicorp/go-hclog"
)

// EventEmitter receives the step's progress events. The executor fills in
// type, step id, attempt, and payload/error; the emitter stamps run id,
// sequence number, and timestamp.
type EventEmitter interface {
	Emit(event domain.ExecutionEvent)
}

type Executor struct {
	logger hclog.Logger
}

func New(logger hclog.Logger) *Executor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Executor{logger: logger}
}

// Execute runs one bounded invocation attempt loop against the agent.
//
// Each attempt gets a deadline of policy.Timeout. Transient failures
// (explicit retryable flag from the invoker, or deadline expiry) are retried
// up to policy.MaxRetries times with exponential backoff and jitter; a
// StepRetrying event precedes every retry. Permanent failures fail
// immediately. Exhausting the budget returns the last error wrapped as
// ExhaustedError. A StepSucceeded or StepFailed event is emitted on the
// terminal outcome; cancellation emits nothing and returns ctx's error so
// the orchestrator can mark the step Cancelled.
func (e *Executor) Execute(ctx context.Context, agent *registry.AgentIdentity, stepID string, input json.RawMessage, policy domain.StepPolicy, em EventEmitter) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		output, err := e.attempt(ctx, agent, input, policy.Timeout)
		if err == nil {
			em.Emit(domain.ExecutionEvent{
				Type:    domain.EventStepSucceeded,
				StepID:  stepID,
				Attempt: attempt,
				Payload: output,
			})
			return output, nil
		}

		if ctx.Err() != nil {
			// Cooperative cancellation: the run is being torn down.
			return nil, ctx.Err()
		}

		lastErr = err
		if !domain.IsTransient(err) {
			e.logger.Debug("permanent failure", "agent", agent.Name, "step", stepID, "error", err)
			em.Emit(domain.ExecutionEvent{
				Type:    domain.EventStepFailed,
				StepID:  stepID,
				Attempt: attempt,
				Error:   err.Error(),
			})
			return nil, err
		}

		if attempt >= policy.MaxRetries {
			exhausted := &domain.ExhaustedError{Attempts: attempt + 1, Last: lastErr}
			em.Emit(domain.ExecutionEvent{
				Type:    domain.EventStepFailed,
				StepID:  stepID,
				Attempt: attempt,
				Error:   exhausted.Error(),
			})
			return nil, exhausted
		}

		em.Emit(domain.ExecutionEvent{
			Type:    domain.EventStepRetrying,
			StepID:  stepID,
			Attempt: attempt + 1,
			Error:   err.Error(),
		})
		e.logger.Debug("retrying step", "agent", agent.Name, "step", stepID, "attempt", attempt+1, "error", err)

		select {
		case <-time.After(backoff(policy, attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// attempt performs one invocation bounded by the per-attempt timeout.
func (e *Executor) attempt(ctx context.Context, agent *registry.AgentIdentity, input json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return agent.Invoker.Invoke(ctx, input)
}

// backoff computes min(cap, base * 2^attempt) scaled by jitter in [0.5, 1.5).
func backoff(policy domain.StepPolicy, attempt int) time.Duration {
	base := policy.BackoffBase
	if base <= 0 {
		return 0
	}
	delay := base << uint(attempt)
	if policy.BackoffCap > 0 && (delay > policy.BackoffCap || delay <= 0) {
		delay = policy.BackoffCap
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(float64(delay) * jitter)
}
