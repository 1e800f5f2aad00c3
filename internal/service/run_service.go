// Package service ties routing, pipeline construction, and orchestration
// together behind the inbound task submission surface.
package service

import (
	"context"
	"time"

	"go-baton/internal/api/dto"
	"go-baton/internal/core/ports"
	"go-baton/internal/domain"
	"go-baton/internal/metrics"
	"go-baton/internal/orchestrator"
	"go-baton/internal/router"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// RunBinder records which caller owns a run's event stream. Implemented by
// the connection manager.
type RunBinder interface {
	BindRun(runID uuid.UUID, callerID string)
}

type RunService struct {
	router  *router.Router
	orch    *orchestrator.Orchestrator
	repo    ports.RunRepository
	binder  RunBinder
	metrics *metrics.Metrics
	policy  domain.StepPolicy
	logger  hclog.Logger
}

func New(
	rt *router.Router,
	orch *orchestrator.Orchestrator,
	repo ports.RunRepository,
	binder RunBinder,
	m *metrics.Metrics,
	policy domain.StepPolicy,
	logger hclog.Logger,
) *RunService {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &RunService{
		router:  rt,
		orch:    orch,
		repo:    repo,
		binder:  binder,
		metrics: m,
		policy:  policy,
		logger:  logger,
	}
}

// Submit routes the task, builds and validates the pipeline, and launches
// the run. Routing and construction errors are returned synchronously;
// everything after the returned run id flows through the event stream.
func (s *RunService) Submit(ctx context.Context, req dto.SubmitTaskRequest) (uuid.UUID, error) {
	task := domain.NewTaskDescriptor(domain.TaskKind(req.Kind), req.Payload, req.Hints, req.CallerID)

	var steps []*orchestrator.Step
	var err error
	if len(req.Steps) > 0 {
		steps, err = s.explicitSteps(task, req.Steps)
	} else {
		steps, err = s.chainSteps(task)
	}
	if err != nil {
		return uuid.Nil, err
	}

	plan, err := orchestrator.NewPlan(task, steps)
	if err != nil {
		return uuid.Nil, err
	}

	runID := uuid.New()
	if err := s.repo.Create(ctx, domain.NewRunRecord(runID, task)); err != nil {
		return uuid.Nil, err
	}

	if s.binder != nil {
		s.binder.BindRun(runID, task.CallerID)
	}
	if s.metrics != nil {
		s.metrics.RunStarted()
	}

	s.orch.Launch(runID, plan)
	s.logger.Info("run accepted", "run", runID, "caller", task.CallerID, "kind", task.Kind, "steps", len(steps))
	return runID, nil
}

// chainSteps turns the routed agent list into a sequential pipeline.
func (s *RunService) chainSteps(task *domain.TaskDescriptor) ([]*orchestrator.Step, error) {
	agents, err := s.router.Route(task)
	if err != nil {
		return nil, err
	}
	return orchestrator.Chain(agents, s.policy), nil
}

// explicitSteps resolves an agent for each node of a caller-supplied step
// graph. Each step routes on its own kind (falling back to the task kind)
// and takes the best match.
func (s *RunService) explicitSteps(task *domain.TaskDescriptor, dtos []dto.StepDTO) ([]*orchestrator.Step, error) {
	steps := make([]*orchestrator.Step, 0, len(dtos))
	for _, d := range dtos {
		kind := task.Kind
		if d.Kind != "" {
			kind = domain.TaskKind(d.Kind)
		}
		probe := domain.NewTaskDescriptor(kind, task.Payload, task.Hints, task.CallerID)
		agents, err := s.router.Route(probe)
		if err != nil {
			return nil, err
		}

		policy := s.policy
		if d.TimeoutMS > 0 {
			policy.Timeout = time.Duration(d.TimeoutMS) * time.Millisecond
		}
		if d.MaxRetries != nil {
			policy.MaxRetries = *d.MaxRetries
		}

		steps = append(steps, &orchestrator.Step{
			ID:        d.RefID,
			Agent:     agents[0],
			DependsOn: d.DependsOn,
			Tolerant:  d.Tolerant,
			Policy:    policy,
		})
	}
	return steps, nil
}

// Cancel requests best-effort cancellation; the caller is acknowledged
// asynchronously via the run's RunFailed(cancelled) event.
func (s *RunService) Cancel(runID uuid.UUID) error {
	if !s.orch.Cancel(runID) {
		return domain.ErrRunNotFound
	}
	s.logger.Info("cancellation requested", "run", runID)
	return nil
}

// Get returns the persisted run record.
func (s *RunService) Get(ctx context.Context, runID uuid.UUID) (*domain.RunRecord, error) {
	return s.repo.GetByID(ctx, runID)
}
