package domain

import "encoding/json"

// TaskKind names the kind of work a caller is asking for, e.g. "summarize".
type TaskKind string

// TaskDescriptor is the immutable input of a run. It is created at request
// ingress and never mutated afterwards.
type TaskDescriptor struct {
	Kind     TaskKind        `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Hints    []string        `json:"hints,omitempty"`
	CallerID string          `json:"caller_id"`
}

// --- FACTORY ---
func NewTaskDescriptor(kind TaskKind, payload json.RawMessage, hints []string, callerID string) *TaskDescriptor {
	h := make([]string, len(hints))
	copy(h, hints)
	return &TaskDescriptor{
		Kind:     kind,
		Payload:  payload,
		Hints:    h,
		CallerID: callerID,
	}
}
