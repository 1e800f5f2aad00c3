package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RunRecord is the durable trace of one pipeline run. The live run state is
// owned by the orchestrator goroutine; this record only captures creation
// and the terminal outcome.
type RunRecord struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key;" json:"id"`
	CallerID string    `gorm:"type:varchar(100);index;not null" json:"caller_id"`
	Kind     string    `gorm:"type:varchar(50);not null" json:"kind"`

	Status RunStatus      `gorm:"type:varchar(20);index;default:'RUNNING'" json:"status"`
	Result datatypes.JSON `gorm:"type:jsonb" json:"result,omitempty"`

	// Audit
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RunRecord) TableName() string { return "runs" }

// --- FACTORY ---
func NewRunRecord(runID uuid.UUID, task *TaskDescriptor) *RunRecord {
	return &RunRecord{
		ID:        runID,
		CallerID:  task.CallerID,
		Kind:      string(task.Kind),
		Status:    RunRunning,
		CreatedAt: time.Now(),
	}
}

// --- METHODS ---
func (r *RunRecord) IsFinished() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}
