package storage

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when no finished problem is stored under an id.
var ErrNotFound = errors.New("problem not found")

// FinishedStore keeps the encoded solution sets of problems that reached finality.
// All implementations must be safe for concurrent use.
type FinishedStore interface {
	// Save stores data for problemID, overwriting any previous value.
	Save(problemID uint64, data []byte) error

	// Load returns the stored data or ErrNotFound.
	Load(problemID uint64) ([]byte, error)

	// Remove deletes a stored problem. Removing an unknown id is not an error.
	Remove(problemID uint64) error

	// IDs returns the stored problem ids in ascending order.
	IDs() ([]uint64, error)

	// Stats returns storage statistics
	Stats() StoreStats

	// Close releases resources held by the store.
	Close() error
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Problems int // Number of stored problems
	Bytes    int // Total size of all values in bytes
}

// MemoryStore implements FinishedStore in process memory.
type MemoryStore struct {
	mu   sync.RWMutex      // Protects concurrent access
	data map[uint64][]byte // problemID -> encoded solutions
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[uint64][]byte),
	}
}

// Save stores a copy of data so later changes by the caller are not visible.
func (m *MemoryStore) Save(problemID uint64, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[problemID] = stored
	return nil
}

// Load returns a copy of the stored value.
func (m *MemoryStore) Load(problemID uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[problemID]
	if !exists {
		return nil, ErrNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Remove deletes a problem (idempotent).
func (m *MemoryStore) Remove(problemID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, problemID)
	return nil
}

// IDs returns all stored problem ids in ascending order.
func (m *MemoryStore) IDs() ([]uint64, error) {
	m.mu.RLock()
	ids := make([]uint64, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalBytes := 0
	for _, value := range m.data {
		totalBytes += len(value)
	}

	return StoreStats{
		Problems: len(m.data),
		Bytes:    totalBytes,
	}
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }
