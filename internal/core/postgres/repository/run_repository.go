package repository

import (
	"context"
	"errors"

	"go-baton/internal/core/ports"
	"go-baton/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type runRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a postgres-backed RunRepository.
func NewRunRepository(db *gorm.DB) ports.RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Create(ctx context.Context, record *domain.RunRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *runRepository) GetByID(ctx context.Context, runID uuid.UUID) (*domain.RunRecord, error) {
	var record domain.RunRecord
	err := r.db.WithContext(ctx).Where("id = ?", runID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}
	return &record, nil
}

// UpdateResult writes the terminal status and aggregate result. The status
// guard in the WHERE clause makes the update idempotent: a run that already
// reached a terminal state is never overwritten.
func (r *runRepository) UpdateResult(ctx context.Context, runID uuid.UUID, status domain.RunStatus, result datatypes.JSON) error {
	return r.db.WithContext(ctx).
		Model(&domain.RunRecord{}).
		Where("id = ? AND status NOT IN ?", runID, []string{string(domain.RunCompleted), string(domain.RunFailed)}).
		Updates(map[string]interface{}{
			"status": status,
			"result": result,
		}).Error
}
