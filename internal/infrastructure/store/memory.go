// Package store provides an in-memory BindingStore for tests and for runs
// without Redis configured.
package store

import (
	"context"
	"sync"

	"github.com/quickdash/storefront-core/internal/core/domain"
)

// MemoryBindingStore keeps session bindings in process memory.
type MemoryBindingStore struct {
	mu       sync.RWMutex
	bindings map[string]domain.ServiceabilityBinding
}

func NewMemoryBindingStore() *MemoryBindingStore {
	return &MemoryBindingStore{bindings: make(map[string]domain.ServiceabilityBinding)}
}

func (s *MemoryBindingStore) Save(_ context.Context, sessionID string, b domain.ServiceabilityBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[sessionID] = b
	return nil
}

func (s *MemoryBindingStore) Load(_ context.Context, sessionID string) (*domain.ServiceabilityBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[sessionID]
	if !ok {
		return nil, domain.ErrNoBinding
	}
	return &b, nil
}

func (s *MemoryBindingStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, sessionID)
	return nil
}
