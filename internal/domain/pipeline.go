package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepSucceeded StepStatus = "SUCCEEDED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
	StepCancelled StepStatus = "CANCELLED"
)

// Terminal reports whether a step can make no further progress.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepSucceeded, StepFailed, StepSkipped, StepCancelled:
		return true
	}
	return false
}

type RunStatus string

const (
	RunBuilding  RunStatus = "BUILDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// StepPolicy bounds a single step's execution. All values are tunable
// configuration, not hard-coded constants.
type StepPolicy struct {
	Timeout     time.Duration `json:"timeout"`
	MaxRetries  int           `json:"max_retries"`
	BackoffBase time.Duration `json:"backoff_base"`
	BackoffCap  time.Duration `json:"backoff_cap"`
}

// StepResult is the terminal outcome of one step.
type StepResult struct {
	Status StepStatus      `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// RunResult aggregates every step's status and output. Callers always get
// the full map, so partial results survive a failed run.
type RunResult struct {
	RunID  uuid.UUID             `json:"run_id"`
	Status RunStatus             `json:"status"`
	Steps  map[string]StepResult `json:"steps"`
}
