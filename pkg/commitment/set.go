package commitment

import (
	"fmt"
	"sync"
)

// Set is an ordered collection of commitments owned by a single agent.
// The owning agent is the only writer; the mutex exists so read-only
// observers (status displays, schedulers) can inspect it safely.
type Set struct {
	items []*Commitment
	mu    sync.RWMutex
}

// NewSet creates an empty commitment set
func NewSet() *Set {
	return &Set{}
}

// Add appends a commitment to the set
func (s *Set) Add(c *Commitment) error {
	if c == nil {
		return fmt.Errorf("%w: nil commitment", ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if existing.ID == c.ID {
			return fmt.Errorf("%w: %s", ErrDuplicate, c.ID)
		}
	}

	s.items = append(s.items, c)
	return nil
}

// Declare creates a new pending commitment and adds it to the set
func (s *Set) Declare(description, assertion string) (*Commitment, error) {
	c, err := New(description, assertion)
	if err != nil {
		return nil, err
	}

	if err := s.Add(c); err != nil {
		return nil, err
	}

	return c, nil
}

// Remove withdraws a commitment from the set
func (s *Set) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.items {
		if c.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Get retrieves a commitment by ID
func (s *Set) Get(id string) (*Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.items {
		if c.ID == id {
			return c, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns the commitments in declaration order
func (s *Set) List() []*Commitment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Commitment, len(s.items))
	copy(out, s.items)
	return out
}

// ByStatus returns the commitments currently in the given status
func (s *Set) ByStatus(status Status) []*Commitment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Commitment, 0)
	for _, c := range s.items {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of commitments in the set
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// AllPassed reports whether every commitment in the set has passed.
// An empty set counts as passed.
func (s *Set) AllPassed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.items {
		if c.Status != StatusPassed {
			return false
		}
	}
	return true
}

// AnyFailed reports whether at least one commitment has failed
func (s *Set) AnyFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.items {
		if c.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Clear removes all commitments. Called when the owning agent is dismissed.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}
