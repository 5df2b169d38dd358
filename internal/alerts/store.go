// Package alerts keeps the rolling in-memory record of raised fraud alerts
// and their acknowledge/resolve lifecycle.
package alerts

import (
	"errors"
	"sync"

	"splitguard/internal/model"
)

// ErrNotFound is returned when the alert id is unknown or has rolled out of
// the store.
var ErrNotFound = errors.New("alert not found")

// Store is a bounded rolling buffer of alerts, newest kept. Lifecycle flags
// are mutated in place; readers get copies.
type Store struct {
	mu     sync.Mutex
	limit  int
	alerts []model.Alert
	byID   map[string]int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{
		limit: limit,
		byID:  make(map[string]int),
	}
}

// Add appends the alert, dropping the oldest once the limit is reached.
func (s *Store) Add(a model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.alerts) >= s.limit {
		drop := len(s.alerts) - s.limit + 1
		for _, old := range s.alerts[:drop] {
			delete(s.byID, old.ID)
		}
		s.alerts = append([]model.Alert{}, s.alerts[drop:]...)
		for i, kept := range s.alerts {
			s.byID[kept.ID] = i
		}
	}
	s.byID[a.ID] = len(s.alerts)
	s.alerts = append(s.alerts, a)
}

// Recent returns up to n alerts, newest first.
func (s *Store) Recent(n int) []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.alerts) {
		n = len(s.alerts)
	}
	out := make([]model.Alert, 0, n)
	for i := len(s.alerts) - 1; i >= len(s.alerts)-n; i-- {
		out = append(out, s.alerts[i])
	}
	return out
}

// Active returns unresolved alerts, newest first.
func (s *Store) Active() []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Alert
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if !s.alerts[i].Resolved {
			out = append(out, s.alerts[i])
		}
	}
	return out
}

// Get returns a copy of the alert with the given id.
func (s *Store) Get(id string) (model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return model.Alert{}, ErrNotFound
	}
	return s.alerts[i], nil
}

// Acknowledge marks the alert as seen by an operator.
func (s *Store) Acknowledge(id string) error {
	return s.mutate(id, func(a *model.Alert) {
		a.Acknowledged = true
	})
}

// Resolve closes the alert; resolving also acknowledges it.
func (s *Store) Resolve(id string) error {
	return s.mutate(id, func(a *model.Alert) {
		a.Acknowledged = true
		a.Resolved = true
	})
}

func (s *Store) mutate(id string, fn func(*model.Alert)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(&s.alerts[i])
	return nil
}

// Len reports how many alerts are currently retained.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}
