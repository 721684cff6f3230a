package preview

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps previews in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	images map[string]Image
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{images: make(map[string]Image)}
}

// Put stores img under a fresh id.
func (m *MemoryStore) Put(ctx context.Context, img Image) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	m.images[id] = img
	m.mu.Unlock()
	return id, nil
}

// Get returns the preview stored under id.
func (m *MemoryStore) Get(ctx context.Context, id string) (*Image, error) {
	m.mu.RLock()
	img, ok := m.images[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &img, nil
}

// Release forgets id. Unknown ids are ignored.
func (m *MemoryStore) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.images, id)
	m.mu.Unlock()
	return nil
}

// Len reports how many previews are held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images)
}
