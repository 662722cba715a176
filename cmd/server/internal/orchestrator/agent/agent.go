// Package agent hosts the participant runtimes that produce conversation
// turns when the turn-taking logic selects them. The Agent interface is
// deliberately small so rule-based, templated, or model-backed participants
// are interchangeable.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/conversation"
)

// Agent is one meeting participant runtime. RespondTo receives the turn that
// selected this agent (the question, trigger, or mention it is answering) and
// returns the agent's own turn.
type Agent interface {
	Name() string
	RespondTo(ctx context.Context, prompt conversation.Turn) (conversation.Turn, error)
}

// Registry maps participant identifiers to their agent runtimes.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent under its own name, replacing any previous runtime
// for that participant.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name()] = a
}

// Get resolves a participant identifier to its agent.
func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// Names lists registered participant identifiers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	return names
}

// Len reports how many agents are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// String implements fmt.Stringer for log output.
func (r *Registry) String() string {
	return fmt.Sprintf("agent.Registry(%d agents)", r.Len())
}
