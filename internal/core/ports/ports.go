package ports

import (
	"context"
	"encoding/json"

	"go-baton/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AgentInvoker is the capability contract every agent exposes. The deadline
// for one attempt arrives through ctx; the call must return promptly once
// ctx is done. A failed call is only safe to retry when the invoker marks
// the error transient.
type AgentInvoker interface {
	Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

// EventSink consumes ExecutionEvents in emission order. Implementations must
// not block for long: the orchestrator publishes on its own goroutines and
// slow sinks stall the run's event stream.
type EventSink interface {
	Publish(event domain.ExecutionEvent)
}

// RunRepository persists run records.
type RunRepository interface {
	// Create stores the record at run creation
	Create(ctx context.Context, record *domain.RunRecord) error

	// GetByID returns the current record (Is the run done yet?)
	GetByID(ctx context.Context, runID uuid.UUID) (*domain.RunRecord, error)

	// UpdateResult writes the terminal status plus the aggregate result
	UpdateResult(ctx context.Context, runID uuid.UUID, status domain.RunStatus, result datatypes.JSON) error
}
