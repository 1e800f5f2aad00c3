// Package memory provides an in-memory RunRepository used when no database
// is configured, and by tests.
package memory

import (
	"context"
	"sync"

	"go-baton/internal/core/ports"
	"go-baton/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type RunRepository struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]domain.RunRecord
}

func NewRunRepository() *RunRepository {
	return &RunRepository{runs: make(map[uuid.UUID]domain.RunRecord)}
}

var _ ports.RunRepository = (*RunRepository)(nil)

func (r *RunRepository) Create(ctx context.Context, record *domain.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[record.ID] = *record
	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, runID uuid.UUID) (*domain.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return &record, nil
}

func (r *RunRepository) UpdateResult(ctx context.Context, runID uuid.UUID, status domain.RunStatus, result datatypes.JSON) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.runs[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	if record.IsFinished() {
		return nil
	}
	record.Status = status
	record.Result = result
	r.runs[runID] = record
	return nil
}
