package router

import (
	"context"
	"encoding/json"
	"testing"

	"go-baton/internal/domain"
	"go-baton/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopInvoker struct{}

func (nopInvoker) Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return input, nil
}

func buildRegistry(t *testing.T, agents ...*registry.AgentIdentity) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, a := range agents {
		if a.Invoker == nil {
			a.Invoker = nopInvoker{}
		}
		require.NoError(t, reg.Register(a))
	}
	reg.Freeze()
	return reg
}

func names(agents []*registry.AgentIdentity) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.Name
	}
	return out
}

func TestRoute_MatchesByKind(t *testing.T) {
	reg := buildRegistry(t,
		&registry.AgentIdentity{Name: "summarizer", Capabilities: []string{"summarize"}},
		&registry.AgentIdentity{Name: "translator", Capabilities: []string{"translate"}},
	)
	r := New(reg)

	agents, err := r.Route(domain.NewTaskDescriptor("summarize", nil, nil, "caller-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"summarizer"}, names(agents))
}

func TestRoute_NoCapableAgent(t *testing.T) {
	reg := buildRegistry(t,
		&registry.AgentIdentity{Name: "summarizer", Capabilities: []string{"summarize"}},
	)
	r := New(reg)

	agents, err := r.Route(domain.NewTaskDescriptor("translate", nil, nil, "caller-1"))
	assert.ErrorIs(t, err, domain.ErrNoCapableAgent)
	assert.Nil(t, agents)
}

func TestRoute_HintsRankMatches(t *testing.T) {
	reg := buildRegistry(t,
		&registry.AgentIdentity{Name: "basic", Capabilities: []string{"summarize"}},
		&registry.AgentIdentity{Name: "multilingual", Capabilities: []string{"summarize", "german"}},
	)
	r := New(reg)

	agents, err := r.Route(domain.NewTaskDescriptor("summarize", nil, []string{"german"}, "caller-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"multilingual", "basic"}, names(agents))
}

func TestRoute_TiesKeepDeclarationOrder(t *testing.T) {
	reg := buildRegistry(t,
		&registry.AgentIdentity{Name: "first", Capabilities: []string{"summarize"}},
		&registry.AgentIdentity{Name: "second", Capabilities: []string{"summarize"}},
		&registry.AgentIdentity{Name: "third", Capabilities: []string{"summarize"}},
	)
	r := New(reg)

	agents, err := r.Route(domain.NewTaskDescriptor("summarize", nil, nil, "caller-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, names(agents))
}

func TestRoute_HintNamingAgentPinsRouting(t *testing.T) {
	reg := buildRegistry(t,
		&registry.AgentIdentity{Name: "summarizer", Capabilities: []string{"summarize"}},
		&registry.AgentIdentity{Name: "special", Capabilities: []string{"other"}},
	)
	r := New(reg)

	// The pinned agent wins even though its capabilities do not include the
	// task kind.
	agents, err := r.Route(domain.NewTaskDescriptor("summarize", nil, []string{"special"}, "caller-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"special"}, names(agents))
}

func TestRoute_IsPureAndRepeatable(t *testing.T) {
	reg := buildRegistry(t,
		&registry.AgentIdentity{Name: "a", Capabilities: []string{"summarize", "fast"}},
		&registry.AgentIdentity{Name: "b", Capabilities: []string{"summarize"}},
		&registry.AgentIdentity{Name: "c", Capabilities: []string{"summarize", "fast"}},
	)
	r := New(reg)
	task := domain.NewTaskDescriptor("summarize", nil, []string{"fast"}, "caller-1")

	first, err := r.Route(task)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Route(task)
		require.NoError(t, err)
		assert.Equal(t, names(first), names(again))
	}
	assert.Equal(t, []string{"a", "c", "b"}, names(first))
}
