package programstore

import (
	"sort"
	"sync"

	"github.com/fortiblox/tensorvm/internal/types"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	programs map[types.ProgramID]storedRecord
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{programs: make(map[types.ProgramID]storedRecord)}
}

// Put stores a program.
func (s *MemoryStore) Put(raw []byte) (types.ProgramID, error) {
	id := types.ComputeProgramID(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return id, ErrClosed
	}
	if _, ok := s.programs[id]; !ok {
		s.programs[id] = newStoredRecord(raw)
	}
	return id, nil
}

// Get returns a program.
func (s *MemoryStore) Get(id types.ProgramID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	r, ok := s.programs[id]
	if !ok {
		return nil, ErrProgramNotFound
	}
	return r.raw()
}

// Has reports whether a program is stored.
func (s *MemoryStore) Has(id types.ProgramID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.programs[id]
	return ok, nil
}

// Delete removes a program.
func (s *MemoryStore) Delete(id types.ProgramID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.programs[id]; !ok {
		return ErrProgramNotFound
	}
	delete(s.programs, id)
	return nil
}

// List returns all records ordered by ID.
func (s *MemoryStore) List() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Record, 0, len(s.programs))
	for id, r := range s.programs {
		out = append(out, r.record(id))
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].ID[:]) < string(out[j].ID[:])
	})
	return out, nil
}

// Stats returns store statistics.
func (s *MemoryStore) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	if s.closed {
		return st, ErrClosed
	}
	for id, r := range s.programs {
		st.add(r.record(id))
	}
	return st, nil
}

// Close releases the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.programs = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
