// Package registry holds the process-wide set of agents. The registry is
// populated once at startup and frozen before the server accepts requests,
// so the read path needs no locking by construction.
package registry

import (
	"fmt"
	"sync"

	"go-baton/internal/core/ports"
)

// AgentIdentity is a stable agent name plus its declared capability tags and
// the invoker that backs it.
type AgentIdentity struct {
	Name         string
	Capabilities []string
	Invoker      ports.AgentInvoker
}

// HasCapability reports whether the agent declares the given tag.
func (a *AgentIdentity) HasCapability(tag string) bool {
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Registry stores agents in declaration order. Declaration order is the tie
// breaker for routing, so it is preserved exactly.
type Registry struct {
	mu     sync.Mutex
	order  []*AgentIdentity
	byName map[string]*AgentIdentity
	frozen bool
}

func New() *Registry {
	return &Registry{
		byName: make(map[string]*AgentIdentity),
	}
}

// Register adds an agent. It fails after Freeze and on duplicate names.
func (r *Registry) Register(agent *AgentIdentity) error {
	if agent == nil || agent.Name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	if agent.Invoker == nil {
		return fmt.Errorf("agent %s has no invoker", agent.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %s", agent.Name)
	}
	if _, exists := r.byName[agent.Name]; exists {
		return fmt.Errorf("agent %s already registered", agent.Name)
	}

	r.order = append(r.order, agent)
	r.byName[agent.Name] = agent
	return nil
}

// Freeze makes the registry read-only. Call once, before serving.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns the agent with the given name.
func (r *Registry) Get(name string) (*AgentIdentity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.byName[name]
	return agent, ok
}

// All returns every agent in declaration order.
func (r *Registry) All() []*AgentIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	agents := make([]*AgentIdentity, len(r.order))
	copy(agents, r.order)
	return agents
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
