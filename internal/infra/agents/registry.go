// Package agents contains the adapter implementations of the specialist
// analysis tasks: the web scraper, the screenshot capture client, and the
// LLM-backed analysts, plus the report synthesizer.
package agents

import (
	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
)

// Registry maps task IDs to their agent adapters.
type Registry struct {
	agents map[string]audit.AgentTask
}

// NewRegistry creates a registry from the given agents, keyed by their IDs.
func NewRegistry(agents ...audit.AgentTask) *Registry {
	r := &Registry{agents: make(map[string]audit.AgentTask, len(agents))}
	for _, agent := range agents {
		r.agents[agent.ID()] = agent
	}
	return r
}

// Register adds or replaces the adapter for its task ID.
func (r *Registry) Register(agent audit.AgentTask) {
	r.agents[agent.ID()] = agent
}

// Get returns the adapter for a task ID.
func (r *Registry) Get(taskID string) (audit.AgentTask, bool) {
	agent, ok := r.agents[taskID]
	return agent, ok
}
