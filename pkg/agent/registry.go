package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps roles to registered agents. Registration happens at startup;
// lookups happen on every dispatch and route, so reads take the shared lock.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	role := a.Role()
	if _, exists := r.agents[role]; exists {
		return fmt.Errorf("agent already registered for role %q", role)
	}

	r.agents[role] = a

	return nil
}

func (r *Registry) Get(role string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[role]

	return a, ok
}

// Roles returns the registered roles in stable order.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]string, 0, len(r.agents))
	for role := range r.agents {
		roles = append(roles, role)
	}

	sort.Strings(roles)

	return roles
}

// StopAll stops every registered agent, keeping the first error.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var firstErr error

	for role, a := range r.agents {
		err := a.Stop(ctx)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to stop agent %q: %w", role, err)
		}
	}

	return firstErr
}
