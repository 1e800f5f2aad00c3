package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go-baton/internal/domain"
	"go-baton/internal/executor"
	"go-baton/internal/registry"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures the ordered event stream of a run.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.ExecutionEvent
}

func (s *recordingSink) Publish(event domain.ExecutionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) all() []domain.ExecutionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ExecutionEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) ofType(t domain.EventType) []domain.ExecutionEvent {
	var out []domain.ExecutionEvent
	for _, e := range s.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestOrchestrator(sink *recordingSink) *Orchestrator {
	return New(executor.New(nil), sink, 4, nil)
}

func fastPolicy() domain.StepPolicy {
	return domain.StepPolicy{MaxRetries: 2, BackoffBase: time.Millisecond, BackoffCap: 5 * time.Millisecond}
}

func failingAgent(name string, err error) *registry.AgentIdentity {
	return &registry.AgentIdentity{
		Name:         name,
		Capabilities: []string{"test"},
		Invoker: invokeFunc(func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return nil, err
		}),
	}
}

func constAgent(name, output string) *registry.AgentIdentity {
	return &registry.AgentIdentity{
		Name:         name,
		Capabilities: []string{"test"},
		Invoker: invokeFunc(func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(output), nil
		}),
	}
}

func TestRun_SingleStepHappyPath(t *testing.T) {
	sink := &recordingSink{}
	orch := newTestOrchestrator(sink)

	plan, err := NewPlan(testTask(), []*Step{
		{ID: "step1", Agent: constAgent("a", `{"result":"ok"}`), Policy: fastPolicy()},
	})
	require.NoError(t, err)

	runID := uuid.New()
	result := orch.Run(context.Background(), runID, plan)

	assert.Equal(t, domain.RunCompleted, result.Status)
	require.Contains(t, result.Steps, "step1")
	assert.Equal(t, domain.StepSucceeded, result.Steps["step1"].Status)
	assert.JSONEq(t, `{"result":"ok"}`, string(result.Steps["step1"].Output))

	events := sink.all()
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventStepStarted, events[0].Type)
	assert.Equal(t, domain.EventStepSucceeded, events[1].Type)
	assert.Equal(t, domain.EventRunCompleted, events[2].Type)

	// Seq is dense and monotonic, and every event carries the run id.
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.Equal(t, runID, e.RunID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestRun_DiamondPassesUpstreamOutputs(t *testing.T) {
	sink := &recordingSink{}
	orch := newTestOrchestrator(sink)

	var joinInput json.RawMessage
	join := &registry.AgentIdentity{
		Name:         "join",
		Capabilities: []string{"test"},
		Invoker: invokeFunc(func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			joinInput = input
			return json.RawMessage(`{"joined":true}`), nil
		}),
	}

	plan, err := NewPlan(testTask(), []*Step{
		{ID: "root", Agent: constAgent("root", `{"v":1}`), Policy: fastPolicy()},
		{ID: "left", Agent: constAgent("left", `{"v":2}`), DependsOn: []string{"root"}, Policy: fastPolicy()},
		{ID: "right", Agent: constAgent("right", `{"v":3}`), DependsOn: []string{"root"}, Policy: fastPolicy()},
		{ID: "join", Agent: join, DependsOn: []string{"left", "right"}, Policy: fastPolicy()},
	})
	require.NoError(t, err)

	result := orch.Run(context.Background(), uuid.New(), plan)
	assert.Equal(t, domain.RunCompleted, result.Status)

	var doc struct {
		Upstream map[string]json.RawMessage `json:"upstream"`
	}
	require.NoError(t, json.Unmarshal(joinInput, &doc))
	assert.JSONEq(t, `{"v":2}`, string(doc.Upstream["left"]))
	assert.JSONEq(t, `{"v":3}`, string(doc.Upstream["right"]))

	// join must start only after both branches succeeded.
	events := sink.all()
	joinStart, rightDone, leftDone := -1, -1, -1
	for i, e := range events {
		switch {
		case e.Type == domain.EventStepStarted && e.StepID == "join":
			joinStart = i
		case e.Type == domain.EventStepSucceeded && e.StepID == "left":
			leftDone = i
		case e.Type == domain.EventStepSucceeded && e.StepID == "right":
			rightDone = i
		}
	}
	assert.Greater(t, joinStart, leftDone)
	assert.Greater(t, joinStart, rightDone)
}

func TestRun_FailureSkipsDownstream(t *testing.T) {
	sink := &recordingSink{}
	orch := newTestOrchestrator(sink)

	plan, err := NewPlan(testTask(), []*Step{
		{ID: "a", Agent: failingAgent("a", domain.PermanentError(errors.New("boom"))), Policy: fastPolicy()},
		{ID: "b", Agent: constAgent("b", `{}`), DependsOn: []string{"a"}, Policy: fastPolicy()},
		{ID: "c", Agent: constAgent("c", `{}`), DependsOn: []string{"b"}, Policy: fastPolicy()},
	})
	require.NoError(t, err)

	result := orch.Run(context.Background(), uuid.New(), plan)
	assert.Equal(t, domain.RunFailed, result.Status)
	assert.Equal(t, domain.StepFailed, result.Steps["a"].Status)
	assert.Equal(t, domain.StepSkipped, result.Steps["b"].Status)
	assert.Equal(t, domain.StepSkipped, result.Steps["c"].Status)

	// Skipped steps never start.
	for _, e := range sink.ofType(domain.EventStepStarted) {
		assert.Equal(t, "a", e.StepID)
	}

	failed := sink.ofType(domain.EventRunFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "pipeline failed", failed[0].Error)
}

func TestRun_TolerantStepAbsorbsFailure(t *testing.T) {
	sink := &recordingSink{}
	orch := newTestOrchestrator(sink)

	var tolerantInput json.RawMessage
	tolerant := &registry.AgentIdentity{
		Name:         "fallback",
		Capabilities: []string{"test"},
		Invoker: invokeFunc(func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			tolerantInput = input
			return json.RawMessage(`{"recovered":true}`), nil
		}),
	}

	plan, err := NewPlan(testTask(), []*Step{
		{ID: "a", Agent: failingAgent("a", domain.PermanentError(errors.New("boom"))), Policy: fastPolicy()},
		{ID: "b", Agent: tolerant, DependsOn: []string{"a"}, Tolerant: true, Policy: fastPolicy()},
	})
	require.NoError(t, err)

	result := orch.Run(context.Background(), uuid.New(), plan)

	// The failed step is absorbed by its tolerant dependent.
	assert.Equal(t, domain.RunCompleted, result.Status)
	assert.Equal(t, domain.StepFailed, result.Steps["a"].Status)
	assert.Equal(t, domain.StepSucceeded, result.Steps["b"].Status)

	var doc struct {
		Upstream map[string]struct {
			UpstreamFailed bool `json:"upstream_failed"`
		} `json:"upstream"`
	}
	require.NoError(t, json.Unmarshal(tolerantInput, &doc))
	assert.True(t, doc.Upstream["a"].UpstreamFailed)
}

func TestRun_IndependentFailuresBothReported(t *testing.T) {
	sink := &recordingSink{}
	orch := newTestOrchestrator(sink)

	plan, err := NewPlan(testTask(), []*Step{
		{ID: "a", Agent: failingAgent("a", domain.PermanentError(errors.New("first"))), Policy: fastPolicy()},
		{ID: "b", Agent: failingAgent("b", domain.PermanentError(errors.New("second"))), Policy: fastPolicy()},
	})
	require.NoError(t, err)

	result := orch.Run(context.Background(), uuid.New(), plan)
	assert.Equal(t, domain.RunFailed, result.Status)
	assert.Equal(t, domain.StepFailed, result.Steps["a"].Status)
	assert.Equal(t, domain.StepFailed, result.Steps["b"].Status)
	assert.Contains(t, result.Steps["a"].Error, "first")
	assert.Contains(t, result.Steps["b"].Error, "second")
}

func TestRun_InputMappingFailureFailsStep(t *testing.T) {
	sink := &recordingSink{}
	orch := newTestOrchestrator(sink)

	plan, err := NewPlan(testTask(), []*Step{
		{
			ID:     "a",
			Agent:  constAgent("a", `{}`),
			Policy: fastPolicy(),
			MapInput: func(task *domain.TaskDescriptor, upstream map[string]domain.StepResult) (json.RawMessage, error) {
				return nil, errors.New("cannot build input")
			},
		},
		{ID: "b", Agent: constAgent("b", `{}`), DependsOn: []string{"a"}, Policy: fastPolicy()},
	})
	require.NoError(t, err)

	result := orch.Run(context.Background(), uuid.New(), plan)
	assert.Equal(t, domain.RunFailed, result.Status)
	assert.Equal(t, domain.StepFailed, result.Steps["a"].Status)
	assert.Equal(t, domain.StepSkipped, result.Steps["b"].Status)
	assert.Empty(t, sink.ofType(domain.EventStepStarted))
}

func TestLaunch_CancelStopsPendingSteps(t *testing.T) {
	sink := &recordingSink{}
	orch := newTestOrchestrator(sink)

	started := make(chan struct{})
	blocking := &registry.AgentIdentity{
		Name:         "slow",
		Capabilities: []string{"test"},
		Invoker: invokeFunc(func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	}

	plan, err := NewPlan(testTask(), []*Step{
		{ID: "a", Agent: blocking, Policy: fastPolicy()},
		{ID: "b", Agent: constAgent("b", `{}`), DependsOn: []string{"a"}, Policy: fastPolicy()},
	})
	require.NoError(t, err)

	runID := uuid.New()
	orch.Launch(runID, plan)

	<-started
	assert.True(t, orch.Cancel(runID))

	require.Eventually(t, func() bool {
		return len(sink.ofType(domain.EventRunFailed)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	failed := sink.ofType(domain.EventRunFailed)[0]
	assert.Equal(t, "cancelled", failed.Error)

	var result domain.RunResult
	require.NoError(t, json.Unmarshal(failed.Payload, &result))
	assert.Equal(t, domain.StepCancelled, result.Steps["a"].Status)
	assert.Equal(t, domain.StepCancelled, result.Steps["b"].Status)

	// The pending step never started.
	for _, e := range sink.ofType(domain.EventStepStarted) {
		assert.Equal(t, "a", e.StepID)
	}

	// A finished run can no longer be cancelled.
	require.Eventually(t, func() bool {
		return !orch.Cancel(runID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRun_PreCancelledContextMarksStepsCancelled(t *testing.T) {
	sink := &recordingSink{}
	orch := newTestOrchestrator(sink)

	plan, err := NewPlan(testTask(), []*Step{
		{ID: "a", Agent: constAgent("a", `{}`), Policy: fastPolicy()},
		{ID: "b", Agent: constAgent("b", `{}`), DependsOn: []string{"a"}, Policy: fastPolicy()},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Even when a step's cancelled outcome races ahead of the cancel branch,
	// scheduling must not relabel pending dependents as skipped.
	result := orch.Run(ctx, uuid.New(), plan)
	assert.Equal(t, domain.RunFailed, result.Status)
	assert.Equal(t, domain.StepCancelled, result.Steps["a"].Status)
	assert.Equal(t, domain.StepCancelled, result.Steps["b"].Status)
	assert.Empty(t, sink.ofType(domain.EventStepStarted))

	failed := sink.ofType(domain.EventRunFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "cancelled", failed[0].Error)
}

func TestRun_WorkerPoolBoundsConcurrency(t *testing.T) {
	sink := &recordingSink{}
	orch := New(executor.New(nil), sink, 2, nil)

	var mu sync.Mutex
	active, peak := 0, 0
	agent := &registry.AgentIdentity{
		Name:         "counting",
		Capabilities: []string{"test"},
		Invoker: invokeFunc(func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return json.RawMessage(`{}`), nil
		}),
	}

	steps := make([]*Step, 6)
	for i := range steps {
		steps[i] = &Step{ID: string(rune('a' + i)), Agent: agent, Policy: fastPolicy()}
	}
	plan, err := NewPlan(testTask(), steps)
	require.NoError(t, err)

	result := orch.Run(context.Background(), uuid.New(), plan)
	assert.Equal(t, domain.RunCompleted, result.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}
