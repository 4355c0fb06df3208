package checkpoint

import "sync"

// InMemoryStore is a trivial in-process Store implementation useful for
// tests, examples and single-process runs. It keeps all records in a map
// guarded by an RWMutex. Buffers are copied on save and load to avoid
// accidental external mutation of internal state.
//
// This implementation is intentionally minimal; it does not survive process
// restarts. Production runs typically supply a durable implementation backed
// by a parallel file format.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[int]Record
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[int]Record)}
}

// Save stores (or overwrites) the record for the given global index. The
// buffer is copied before storage.
func (s *InMemoryStore) Save(globalIndex int, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec
	cp.Data = append([]complex128(nil), rec.Data...)
	s.records[globalIndex] = cp
	return nil
}

// Load retrieves a copy of the record for the given global index.
func (s *InMemoryStore) Load(globalIndex int) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[globalIndex]
	if !ok {
		return Record{}, ErrNotFound
	}
	cp := rec
	cp.Data = append([]complex128(nil), rec.Data...)
	return cp, nil
}

// Indices lists the stored global indices.
func (s *InMemoryStore) Indices() ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.records))
	for idx := range s.records {
		out = append(out, idx)
	}
	return out, nil
}

// Delete removes the record for the given global index, if present.
func (s *InMemoryStore) Delete(globalIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, globalIndex)
	return nil
}
