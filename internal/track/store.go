package track

import (
	"sync"
)

// Store holds the state of every attached target. Reads return copies;
// callers never share memory with the store.
type Store struct {
	mu      sync.RWMutex
	targets map[string]*TargetState
}

func NewStore() *Store {
	return &Store{
		targets: make(map[string]*TargetState),
	}
}

func (s *Store) Get(id string) (*TargetState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.targets[id]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

func (s *Store) GetAll() []*TargetState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*TargetState, 0, len(s.targets))
	for _, st := range s.targets {
		result = append(result, st.Clone())
	}
	return result
}

func (s *Store) Update(state *TargetState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[state.ID] = state.Clone()
}

// UpdateAndNotify commits the state and runs notify under the same lock,
// so an HTTP reader cannot observe the new state before broadcast
// clients have been queued the change.
func (s *Store) UpdateAndNotify(state *TargetState, notify func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[state.ID] = state.Clone()
	if notify != nil {
		notify()
	}
}

func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, id)
}

// BatchRemoveAndNotify removes the given ids and runs notify atomically
// with the removal.
func (s *Store) BatchRemoveAndNotify(ids []string, notify func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.targets, id)
	}
	if notify != nil {
		notify()
	}
}

// Count returns the number of tracked targets.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.targets)
}

// ScrollingCount returns the number of targets currently mid-gesture.
func (s *Store) ScrollingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, st := range s.targets {
		if st.Phase == Scrolling {
			count++
		}
	}
	return count
}
