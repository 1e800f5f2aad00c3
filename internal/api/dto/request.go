package dto

import "encoding/json"

// StepDTO describes one node of an explicit step graph. Kind falls back to
// the task kind when empty; TimeoutMS and MaxRetries override the default
// policy when set.
type StepDTO struct {
	RefID      string   `json:"ref_id" binding:"required"`
	Kind       string   `json:"kind"`
	DependsOn  []string `json:"depends_on"`
	Tolerant   bool     `json:"tolerant"`
	TimeoutMS  int      `json:"timeout_ms"`
	MaxRetries *int     `json:"max_retries"`
}

type SubmitTaskRequest struct {
	Kind     string          `json:"kind" binding:"required"`
	Payload  json.RawMessage `json:"payload"`
	Hints    []string        `json:"hints"`
	CallerID string          `json:"caller_id" binding:"required"`
	// Steps is optional: when omitted, the routed agents form a
	// sequential chain.
	Steps []StepDTO `json:"steps"`
}

type SubmitTaskResponse struct {
	RunID string `json:"run_id"`
}

// InboundMessage is a websocket frame from the caller.
type InboundMessage struct {
	Type    string          `json:"type"` // "task", "cancel", "ping"
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Hints   []string        `json:"hints,omitempty"`
	Steps   []StepDTO       `json:"steps,omitempty"`
	RunID   string          `json:"run_id,omitempty"`
}
