package storage

import (
	"context"
	"sync"

	"github.com/chefsync/onboarding/internal/apperr"
)

// MemoryBlobs is a map-backed blob store.
type MemoryBlobs struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryBlobs constructs a MemoryBlobs.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{objects: make(map[string][]byte)}
}

// Put stores a copy of data under key.
func (b *MemoryBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

// Get returns the bytes stored under key.
func (b *MemoryBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return data, nil
}

// Delete removes key. Missing keys are not an error.
func (b *MemoryBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}
