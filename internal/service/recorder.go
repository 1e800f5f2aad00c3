package service

import (
	"context"
	"time"

	"go-baton/internal/core/ports"
	"go-baton/internal/domain"

	"github.com/hashicorp/go-hclog"
	"gorm.io/datatypes"
)

// Recorder persists terminal run outcomes from the event stream. It is an
// EventSink so record-keeping stays decoupled from orchestration.
type Recorder struct {
	repo   ports.RunRepository
	logger hclog.Logger
}

func NewRecorder(repo ports.RunRepository, logger hclog.Logger) *Recorder {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Recorder{repo: repo, logger: logger}
}

func (r *Recorder) Publish(event domain.ExecutionEvent) {
	if !event.Type.RunLevel() {
		return
	}

	status := domain.RunCompleted
	if event.Type == domain.EventRunFailed {
		status = domain.RunFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.repo.UpdateResult(ctx, event.RunID, status, datatypes.JSON(event.Payload)); err != nil {
		r.logger.Error("failed to persist run result", "run", event.RunID, "error", err)
	}
}
