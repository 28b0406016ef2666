package session

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps device names to live sessions. Lookup is an exact keyed
// match; there is deliberately no fuzzy or substring dispatch.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.Name()]; exists {
		return fmt.Errorf("session %q already registered", s.Name())
	}
	r.sessions[s.Name()] = s
	return nil
}

func (r *Registry) Get(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Names returns the registered device names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered session, ordered by name.
func (r *Registry) All() []*Session {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(names))
	for _, name := range names {
		out = append(out, r.sessions[name])
	}
	return out
}
