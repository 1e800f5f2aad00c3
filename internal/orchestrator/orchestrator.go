// Package orchestrator runs a validated step DAG to completion. Each run is
// supervised by a single goroutine that alone owns the run's mutable state;
// step invocations execute on a bounded worker pool and report back over a
// channel, so there are no cross-goroutine writes by construction.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go-baton/internal/core/ports"
	"go-baton/internal/domain"
	"go-baton/internal/executor"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"
)

type Orchestrator struct {
	exec   *executor.Executor
	sink   ports.EventSink
	sem    *semaphore.Weighted
	logger hclog.Logger

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

func New(exec *executor.Executor, sink ports.EventSink, workers int64, logger hclog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Orchestrator{
		exec:    exec,
		sink:    sink,
		sem:     semaphore.NewWeighted(workers),
		logger:  logger,
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Launch runs the plan in the background. The outcome is observable through
// the event stream; Cancel stops the run by id.
func (o *Orchestrator) Launch(runID uuid.UUID, plan *Plan) {
	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.cancels[runID] = cancel
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.cancels, runID)
			o.mu.Unlock()
			cancel()
		}()
		o.Run(ctx, runID, plan)
	}()
}

// Cancel requests cooperative cancellation of a run. It returns false when
// the run is unknown or already finished. The caller is acknowledged
// asynchronously by the run's RunFailed event.
func (o *Orchestrator) Cancel(runID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[runID]
	if ok {
		cancel()
	}
	return ok
}

// stepDone carries one step's outcome back to the supervising goroutine.
type stepDone struct {
	id     string
	output json.RawMessage
	err    error
}

// Run executes the plan to completion and returns the aggregate result.
// State transitions happen only on this goroutine.
func (o *Orchestrator) Run(ctx context.Context, runID uuid.UUID, plan *Plan) domain.RunResult {
	em := newEmitter(runID, o.sink)
	states := make(map[string]domain.StepStatus, len(plan.steps))
	results := make(map[string]domain.StepResult, len(plan.steps))
	for _, step := range plan.steps {
		states[step.ID] = domain.StepPending
	}

	done := make(chan stepDone)
	inflight := 0
	cancelled := false

	dispatch := func(step *Step) {
		// Snapshot dependency results here: the worker goroutine must not
		// read the supervisor's maps.
		upstream := make(map[string]domain.StepResult, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			upstream[dep] = results[dep]
		}

		input, err := step.MapInput(plan.task, upstream)
		if err != nil {
			states[step.ID] = domain.StepFailed
			results[step.ID] = domain.StepResult{Status: domain.StepFailed, Error: "input mapping failed: " + err.Error()}
			em.Emit(domain.ExecutionEvent{
				Type:   domain.EventStepFailed,
				StepID: step.ID,
				Error:  results[step.ID].Error,
			})
			return
		}

		states[step.ID] = domain.StepRunning
		inflight++
		go func() {
			if err := o.sem.Acquire(ctx, 1); err != nil {
				done <- stepDone{id: step.ID, err: err}
				return
			}
			defer o.sem.Release(1)

			em.Emit(domain.ExecutionEvent{Type: domain.EventStepStarted, StepID: step.ID})
			output, err := o.exec.Execute(ctx, step.Agent, step.ID, input, step.Policy, em)
			done <- stepDone{id: step.ID, output: output, err: err}
		}()
	}

	// schedule dispatches every step whose dependencies are all terminal.
	// Steps whose upstream failed are skipped unless declared tolerant;
	// skipping is itself terminal, so the loop runs to a fixpoint to let
	// skips cascade.
	schedule := func() {
		// ctx may be cancelled before the cancel branch of the select has
		// observed it; dispatching or skipping here would mislabel steps
		// that are about to be marked cancelled.
		if cancelled || ctx.Err() != nil {
			return
		}
		for progress := true; progress; {
			progress = false
			for _, step := range plan.steps {
				if states[step.ID] != domain.StepPending {
					continue
				}
				ready := true
				upstreamFailed := false
				for _, dep := range step.DependsOn {
					st := states[dep]
					if !st.Terminal() {
						ready = false
						break
					}
					if st != domain.StepSucceeded {
						upstreamFailed = true
					}
				}
				if !ready {
					continue
				}
				if upstreamFailed && !step.Tolerant {
					states[step.ID] = domain.StepSkipped
					results[step.ID] = domain.StepResult{Status: domain.StepSkipped, Error: "skipped: upstream dependency failed"}
					progress = true
					continue
				}
				dispatch(step)
				if states[step.ID] == domain.StepFailed {
					// Input mapping failed without dispatching; dependents
					// must observe the failure in this scheduling round.
					progress = true
				}
			}
		}
	}

	apply := func(d stepDone) {
		switch {
		case d.err == nil:
			states[d.id] = domain.StepSucceeded
			results[d.id] = domain.StepResult{Status: domain.StepSucceeded, Output: d.output}
		case errors.Is(d.err, context.Canceled):
			states[d.id] = domain.StepCancelled
			results[d.id] = domain.StepResult{Status: domain.StepCancelled, Error: "cancelled"}
		default:
			states[d.id] = domain.StepFailed
			results[d.id] = domain.StepResult{Status: domain.StepFailed, Error: d.err.Error()}
		}
	}

	schedule()
	cancelC := ctx.Done()
	for inflight > 0 {
		select {
		case d := <-done:
			inflight--
			apply(d)
			schedule()
		case <-cancelC:
			cancelC = nil
			cancelled = true
			for _, step := range plan.steps {
				if states[step.ID] == domain.StepPending {
					states[step.ID] = domain.StepCancelled
					results[step.ID] = domain.StepResult{Status: domain.StepCancelled, Error: "cancelled"}
				}
			}
		}
	}

	// A cancel that lands before any step was dispatched still needs the
	// pending steps marked.
	if ctx.Err() != nil && !cancelled {
		cancelled = true
		for _, step := range plan.steps {
			if states[step.ID] == domain.StepPending {
				states[step.ID] = domain.StepCancelled
				results[step.ID] = domain.StepResult{Status: domain.StepCancelled, Error: "cancelled"}
			}
		}
	}

	status := o.finalStatus(plan, results, cancelled)
	result := domain.RunResult{RunID: runID, Status: status, Steps: results}

	payload, err := json.Marshal(result)
	if err != nil {
		o.logger.Error("failed to marshal run result", "run", runID, "error", err)
	}

	if status == domain.RunCompleted {
		em.Emit(domain.ExecutionEvent{Type: domain.EventRunCompleted, Payload: payload})
	} else {
		detail := "pipeline failed"
		if cancelled {
			detail = "cancelled"
		}
		em.Emit(domain.ExecutionEvent{Type: domain.EventRunFailed, Payload: payload, Error: detail})
	}

	o.logger.Info("run finished", "run", runID, "status", status)
	return result
}

// finalStatus folds step results into the run outcome. The run completes
// only when every step succeeded, or when a failed/skipped step was absorbed
// by a tolerant dependent that succeeded in its place.
func (o *Orchestrator) finalStatus(plan *Plan, results map[string]domain.StepResult, cancelled bool) domain.RunStatus {
	if cancelled {
		return domain.RunFailed
	}
	for _, step := range plan.steps {
		switch results[step.ID].Status {
		case domain.StepSucceeded:
		case domain.StepFailed, domain.StepSkipped:
			if !plan.absorbed(step.ID, results) {
				return domain.RunFailed
			}
		default:
			return domain.RunFailed
		}
	}
	return domain.RunCompleted
}

// emitter stamps run id, sequence number, and timestamp onto events. The
// mutex makes sequence order equal publish order even when concurrent steps
// emit at the same time.
type emitter struct {
	runID uuid.UUID
	sink  ports.EventSink

	mu  sync.Mutex
	seq uint64
}

func newEmitter(runID uuid.UUID, sink ports.EventSink) *emitter {
	return &emitter{runID: runID, sink: sink}
}

func (e *emitter) Emit(event domain.ExecutionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	event.RunID = e.runID
	event.Seq = e.seq
	event.Timestamp = time.Now()
	e.sink.Publish(event)
}
