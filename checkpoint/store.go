package checkpoint

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a checkpoint id is unknown or was pruned.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists encoded checkpoints. Implementations must never overwrite
// an existing id and must list an execution's ids in save order.
type Store interface {
	// Put stores data under id. It reports false, without error, when the
	// id already exists.
	Put(ctx context.Context, executionID string, id ID, data []byte) (bool, error)
	Get(ctx context.Context, id ID) ([]byte, error)
	// List returns the execution's ids, oldest first.
	List(ctx context.Context, executionID string) ([]ID, error)
	Delete(ctx context.Context, executionID string, ids ...ID) error
}

// MemoryStore is an in‑process Store useful for tests, examples and
// single‑process deployments. Data is copied on Put and Get.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[ID][]byte
	index map[string][]ID // executionID -> ids in save order
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[ID][]byte{}, index: map[string][]ID{}}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, executionID string, id ID, data []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[id]; exists {
		return false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[id] = cp
	m.index[executionID] = append(m.index[executionID], id)
	return true, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id ID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, executionID string) ([]ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ID{}, m.index[executionID]...), nil
}

// Delete implements Store. Unknown ids are ignored.
func (m *MemoryStore) Delete(_ context.Context, executionID string, ids ...ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[ID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
		delete(m.data, id)
	}
	kept := m.index[executionID][:0]
	for _, id := range m.index[executionID] {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(m.index, executionID)
		return nil
	}
	m.index[executionID] = kept
	return nil
}
