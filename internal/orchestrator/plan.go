package orchestrator

import (
	"encoding/json"
	"fmt"

	"go-baton/internal/domain"
	"go-baton/internal/registry"
)

// InputMapper derives a step's input from the original task and the terminal
// results of its upstream dependencies.
type InputMapper func(task *domain.TaskDescriptor, upstream map[string]domain.StepResult) (json.RawMessage, error)

// Step is one node of a pipeline: a single agent invocation with its
// dependency set and per-step policy. Failure tolerance is explicit, never
// inferred: a tolerant step still runs when a dependency failed and receives
// an upstream-failed sentinel in its input instead of being skipped.
type Step struct {
	ID        string
	Agent     *registry.AgentIdentity
	DependsOn []string
	Tolerant  bool
	Policy    domain.StepPolicy
	MapInput  InputMapper
}

// Plan is a validated step DAG for one task, ready to run.
type Plan struct {
	task       *domain.TaskDescriptor
	steps      []*Step
	byID       map[string]*Step
	dependents map[string][]string
}

// NewPlan validates the step graph and rejects cycles, dangling dependency
// references, duplicate ids, and steps without an agent. Validation happens
// here, at construction, never at runtime.
func NewPlan(task *domain.TaskDescriptor, steps []*Step) (*Plan, error) {
	if task == nil {
		return nil, &domain.InvalidPipelineError{Reason: "task cannot be nil"}
	}
	if len(steps) == 0 {
		return nil, &domain.InvalidPipelineError{Reason: "pipeline has no steps"}
	}

	byID := make(map[string]*Step, len(steps))
	for _, step := range steps {
		if step.ID == "" {
			return nil, &domain.InvalidPipelineError{Reason: "step id cannot be empty"}
		}
		if step.Agent == nil {
			return nil, &domain.InvalidPipelineError{Reason: fmt.Sprintf("step %s has no agent", step.ID)}
		}
		if _, dup := byID[step.ID]; dup {
			return nil, &domain.InvalidPipelineError{Reason: fmt.Sprintf("duplicate step id %s", step.ID)}
		}
		byID[step.ID] = step
	}

	dependents := make(map[string][]string, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return nil, &domain.InvalidPipelineError{Reason: fmt.Sprintf("step %s depends on itself", step.ID)}
			}
			if _, ok := byID[dep]; !ok {
				return nil, &domain.InvalidPipelineError{Reason: fmt.Sprintf("step %s depends on unknown step %s", step.ID, dep)}
			}
			dependents[dep] = append(dependents[dep], step.ID)
		}
		if step.MapInput == nil {
			step.MapInput = DefaultInput
		}
	}

	if hasCycle(steps, dependents) {
		return nil, &domain.InvalidPipelineError{Reason: "dependency cycle detected"}
	}

	return &Plan{
		task:       task,
		steps:      steps,
		byID:       byID,
		dependents: dependents,
	}, nil
}

// hasCycle runs Kahn's algorithm over the dependency graph.
func hasCycle(steps []*Step, dependents map[string][]string) bool {
	indegree := make(map[string]int, len(steps))
	for _, step := range steps {
		indegree[step.ID] = len(step.DependsOn)
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	processed := 0
	for len(ready) > 0 {
		id := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		processed++
		for _, child := range dependents[id] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	return processed != len(steps)
}

// Task returns the descriptor this plan was built for.
func (p *Plan) Task() *domain.TaskDescriptor { return p.task }

// Steps returns the plan's steps.
func (p *Plan) Steps() []*Step { return p.steps }

// absorbed reports whether a failed or skipped step is rescued by a tolerant
// dependent that still succeeded. Such a step does not fail the run.
func (p *Plan) absorbed(stepID string, results map[string]domain.StepResult) bool {
	for _, childID := range p.dependents[stepID] {
		child := p.byID[childID]
		if child.Tolerant && results[childID].Status == domain.StepSucceeded {
			return true
		}
	}
	return false
}

// Chain builds a sequential pipeline, one step per agent, each depending on
// the previous one. Step ids are step1..stepN.
func Chain(agents []*registry.AgentIdentity, policy domain.StepPolicy) []*Step {
	steps := make([]*Step, 0, len(agents))
	for i, agent := range agents {
		step := &Step{
			ID:     fmt.Sprintf("step%d", i+1),
			Agent:  agent,
			Policy: policy,
		}
		if i > 0 {
			step.DependsOn = []string{steps[i-1].ID}
		}
		steps = append(steps, step)
	}
	return steps
}

// DefaultInput composes the original task payload with upstream outputs
// keyed by step id. A dependency that did not succeed appears as an
// upstream-failed sentinel so tolerant steps can react to it.
func DefaultInput(task *domain.TaskDescriptor, upstream map[string]domain.StepResult) (json.RawMessage, error) {
	doc := make(map[string]any, 2)
	if task.Payload != nil {
		doc["task"] = task.Payload
	}
	if len(upstream) > 0 {
		ups := make(map[string]any, len(upstream))
		for id, result := range upstream {
			if result.Status == domain.StepSucceeded {
				ups[id] = result.Output
			} else {
				ups[id] = map[string]any{"upstream_failed": true, "error": result.Error}
			}
		}
		doc["upstream"] = ups
	}
	return json.Marshal(doc)
}
