// Package router selects which agents handle a task. Routing is a pure
// function over the frozen registry and the task descriptor: no side
// effects, no I/O, identical inputs always yield identical orderings.
package router

import (
	"sort"

	"go-baton/internal/domain"
	"go-baton/internal/registry"
)

type Router struct {
	reg *registry.Registry
}

func New(reg *registry.Registry) *Router {
	return &Router{reg: reg}
}

// Route returns the ordered agents capable of handling the task, or
// domain.ErrNoCapableAgent when nothing matches.
//
// A hint that exactly names a registered agent pins routing to that agent.
// Otherwise an agent matches when its capability tags include the task kind;
// agents matching more hints rank earlier, and ties keep registry
// declaration order (the sort is stable).
func (r *Router) Route(task *domain.TaskDescriptor) ([]*registry.AgentIdentity, error) {
	for _, hint := range task.Hints {
		if agent, ok := r.reg.Get(hint); ok {
			return []*registry.AgentIdentity{agent}, nil
		}
	}

	type candidate struct {
		agent *registry.AgentIdentity
		hits  int
	}

	var matches []candidate
	for _, agent := range r.reg.All() {
		if !agent.HasCapability(string(task.Kind)) {
			continue
		}
		hits := 0
		for _, hint := range task.Hints {
			if agent.HasCapability(hint) {
				hits++
			}
		}
		matches = append(matches, candidate{agent: agent, hits: hits})
	}

	if len(matches) == 0 {
		return nil, domain.ErrNoCapableAgent
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].hits > matches[j].hits
	})

	agents := make([]*registry.AgentIdentity, len(matches))
	for i, m := range matches {
		agents[i] = m.agent
	}
	return agents, nil
}
