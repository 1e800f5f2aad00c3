package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventStepStarted   EventType = "step_started"
	EventStepRetrying  EventType = "step_retrying"
	EventStepSucceeded EventType = "step_succeeded"
	EventStepFailed    EventType = "step_failed"
	EventRunCompleted  EventType = "run_completed"
	EventRunFailed     EventType = "run_failed"
)

// Terminal reports whether the event records a final outcome. Terminal
// events must never be dropped by backpressure; non-terminal ones are
// reconstructible progress updates.
func (t EventType) Terminal() bool {
	switch t {
	case EventStepSucceeded, EventStepFailed, EventRunCompleted, EventRunFailed:
		return true
	}
	return false
}

// RunLevel reports whether the event describes the run as a whole rather
// than a single step.
func (t EventType) RunLevel() bool {
	return t == EventRunCompleted || t == EventRunFailed
}

// ExecutionEvent is one entry in a run's ordered progress stream. Seq is a
// per-run monotonic counter assigned at emission; receivers order and
// gap-check by Seq, never by wall clock.
type ExecutionEvent struct {
	RunID     uuid.UUID       `json:"run_id"`
	StepID    string          `json:"step_id,omitempty"`
	Seq       uint64          `json:"seq"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Attempt   int             `json:"attempt,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}
