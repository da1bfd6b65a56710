// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/sieve/internal/triage"
)

// Store holds triage results in memory, keyed by alert ID. Suitable for
// dev/testing and batch runs.
type Store struct {
	mu      sync.RWMutex
	results map[string]*triage.Result
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{results: make(map[string]*triage.Result)}
}

// Get retrieves the result for an alert ID. Returns a copy.
func (s *Store) Get(_ context.Context, alertID string) (*triage.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[alertID]
	if !ok {
		return nil, false, nil
	}
	cp := *r
	return &cp, true, nil
}

// Put stores a copy of the result, replacing any earlier result for the
// same alert.
func (s *Store) Put(_ context.Context, r *triage.Result) error {
	if r.AlertID == "" {
		return triage.ErrNoAlertID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results[r.AlertID] = &cp
	return nil
}

// Len reports how many alerts have a stored result.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
