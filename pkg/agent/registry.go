package agent

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry tracks every live agent by unique name. Workers reference
// their parent by name only; the registry validates the reference at
// spawn time and never hands ownership over.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Spawn creates an agent from cfg and registers it. Worker configs must
// name a registered parent; primaries must not.
func (r *Registry) Spawn(cfg Config) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.agents[cfg.Name]; taken {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, cfg.Name)
	}

	if cfg.Role == RoleWorker {
		if cfg.Parent == "" {
			return nil, fmt.Errorf("%w: worker %s has no parent", ErrUnknownParent, cfg.Name)
		}
		if _, ok := r.agents[cfg.Parent]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParent, cfg.Parent)
		}
	} else if cfg.Parent != "" {
		return nil, fmt.Errorf("primary agent %s must not have a parent", cfg.Name)
	}

	a, err := New(cfg)
	if err != nil {
		return nil, err
	}

	r.agents[a.name] = a
	r.order = append(r.order, a.name)

	log.Info().
		Str("agent", a.name).
		Str("role", string(a.role)).
		Str("parent", a.parent).
		Msg("Agent spawned")

	return a, nil
}

// Get looks up an agent by name
func (r *Registry) Get(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

// List returns all agents in spawn order
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name])
	}
	return out
}

// Workers returns the registered workers of a parent, in spawn order
func (r *Registry) Workers(parent string) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Agent
	for _, name := range r.order {
		a := r.agents[name]
		if a.role == RoleWorker && a.parent == parent {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of registered agents
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Dismiss removes an agent and clears its commitments. An agent with a
// turn in flight must be cancelled and settled first.
func (r *Registry) Dismiss(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}

	if state := a.State(); !state.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrDismissWhileWorking, name, state)
	}

	a.commitments.Clear()
	delete(r.agents, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	log.Info().Str("agent", name).Msg("Agent dismissed")
	return nil
}

// CancelAll aborts every in-flight turn. Dismissal is still explicit;
// this only unwinds work in progress, for shutdown.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	agents := make([]*Agent, 0, len(r.order))
	for _, name := range r.order {
		agents = append(agents, r.agents[name])
	}
	r.mu.RUnlock()

	for _, a := range agents {
		a.Cancel()
	}
}
