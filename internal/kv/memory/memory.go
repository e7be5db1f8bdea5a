package memory

import (
	"context"
	"errors"
	"sync"

	"aidat/internal/kv"
)

var errInjected = errors.New("memory store: injected failure")

// Store is an in-process kv.Store. Values are copied on the way in and out.
type Store struct {
	mu     sync.Mutex
	data   map[kv.Slot][]byte
	writes int
	fail   map[kv.Slot]bool
}

var _ kv.BatchStore = (*Store)(nil)

func New() *Store {
	return &Store{data: map[kv.Slot][]byte{}, fail: map[kv.Slot]bool{}}
}

func (s *Store) Get(_ context.Context, slot kv.Slot) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[slot] {
		return nil, false, errInjected
	}
	v, ok := s.data[slot]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Set(_ context.Context, slot kv.Slot, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[slot] {
		return errInjected
	}
	s.data[slot] = append([]byte(nil), value...)
	s.writes++
	return nil
}

// SetMany writes every value or, when any slot is failing, none of them.
func (s *Store) SetMany(_ context.Context, values map[kv.Slot][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slot := range values {
		if s.fail[slot] {
			return errInjected
		}
	}
	for slot, value := range values {
		s.data[slot] = append([]byte(nil), value...)
		s.writes++
	}
	return nil
}

// Writes counts successful slot writes.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// FailSlot makes every access to slot fail until cleared. Used by tests.
func (s *Store) FailSlot(slot kv.Slot, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[slot] = fail
}
