package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// AgentInfo describes a registered agent and the actions it can perform.
type AgentInfo struct {
	ID           string
	Name         string
	Capabilities []string
}

// Registry tracks the agents a workflow may dispatch steps to.
// Thread-safe for concurrent access.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]AgentInfo
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]AgentInfo)}
}

// Register adds an agent. The ID must be non-empty and unused.
func (r *Registry) Register(info AgentInfo) error {
	if info.ID == "" {
		return ErrEmptyAgentID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[info.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAgentExists, info.ID)
	}

	caps := make([]string, len(info.Capabilities))
	copy(caps, info.Capabilities)
	sort.Strings(caps)
	info.Capabilities = caps

	r.agents[info.ID] = info
	return nil
}

// Deregister removes an agent. Unknown IDs are a no-op.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Capabilities returns the sorted action set of a registered agent.
func (r *Registry) Capabilities(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.agents[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	caps := make([]string, len(info.Capabilities))
	copy(caps, info.Capabilities)
	return caps, nil
}

// Supports reports whether the agent is registered and can perform the
// action.
func (r *Registry) Supports(id, action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.agents[id]
	if !exists {
		return false
	}

	i := sort.SearchStrings(info.Capabilities, action)
	return i < len(info.Capabilities) && info.Capabilities[i] == action
}

// List returns all registered agents, sorted by ID.
func (r *Registry) List() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]AgentInfo, 0, len(r.agents))
	for _, info := range r.agents {
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}
