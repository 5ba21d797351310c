// Package storage contains the in-memory registration store and blob store
// used by the CLI, tests and memory mode of the server.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/model"
)

// MemoryStore keeps registrations in a map guarded by an RWMutex.
type MemoryStore struct {
	mu            sync.RWMutex
	registrations map[string]*model.Registration
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		registrations: make(map[string]*model.Registration),
	}
}

// Create inserts a new registration.
func (m *MemoryStore) Create(_ context.Context, reg *model.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = now
	}
	reg.UpdatedAt = now
	m.registrations[reg.ID] = clone(reg)
	return nil
}

// Get returns a deep copy of the registration.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.Registration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.registrations[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return clone(reg), nil
}

// Save replaces the registration fields. Documents are written only through
// the document methods.
func (m *MemoryStore) Save(_ context.Context, reg *model.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.registrations[reg.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	reg.UpdatedAt = time.Now().UTC()
	next := clone(reg)
	next.Documents = cur.Documents
	m.registrations[reg.ID] = next
	return nil
}

// AddDocument appends a newly selected document.
func (m *MemoryStore) AddDocument(_ context.Context, registrationID string, doc model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.registrations[registrationID]
	if !ok {
		return apperr.ErrNotFound
	}
	reg.Documents = append(reg.Documents, doc)
	sort.SliceStable(reg.Documents, func(i, j int) bool { return reg.Documents[i].Position < reg.Documents[j].Position })
	return nil
}

// SaveDocument updates an existing document. A document removed in the
// meantime yields ErrNotFound.
func (m *MemoryStore) SaveDocument(_ context.Context, registrationID string, doc model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.registrations[registrationID]
	if !ok {
		return apperr.ErrNotFound
	}
	cur, ok := reg.Document(doc.ID)
	if !ok {
		return apperr.ErrNotFound
	}
	*cur = doc
	return nil
}

// DeleteDocument removes a document from the working list.
func (m *MemoryStore) DeleteDocument(_ context.Context, registrationID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.registrations[registrationID]
	if !ok {
		return apperr.ErrNotFound
	}
	for i, d := range reg.Documents {
		if d.ID == documentID {
			reg.Documents = append(reg.Documents[:i:i], reg.Documents[i+1:]...)
			return nil
		}
	}
	return apperr.ErrNotFound
}

// Delete drops a registration.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registrations[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.registrations, id)
	return nil
}

func clone(reg *model.Registration) *model.Registration {
	c := *reg
	c.DocumentTypes = append([]model.DocumentType(nil), reg.DocumentTypes...)
	c.Documents = append([]model.Document(nil), reg.Documents...)
	if reg.Tokens != nil {
		t := *reg.Tokens
		c.Tokens = &t
	}
	return &c
}
