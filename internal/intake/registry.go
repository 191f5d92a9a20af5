package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/lingosum/intake/internal/model"
)

// ErrNotFound is returned when no tier holds a payload for a handle.
var ErrNotFound = errors.New("file not found")

// Store is one tier of the file registry.
type Store interface {
	Put(ctx context.Context, handle model.Handle, payload []byte) error
	// Get returns ErrNotFound when the handle has no association.
	Get(ctx context.Context, handle model.Handle) ([]byte, error)
	Delete(ctx context.Context, handle model.Handle) error
}

// Registry associates item handles with their payloads.
//
// Lookups consult the primary store first and then the shared store, which is
// populated by other intake surfaces (for example the CLI stage command).
// Both stores are injected; there is no package-level registry.
type Registry struct {
	primary Store
	shared  Store
}

// NewRegistry creates a registry. shared may be nil.
func NewRegistry(primary, shared Store) *Registry {
	if primary == nil {
		primary = NewMemoryStore()
	}
	return &Registry{primary: primary, shared: shared}
}

// NewHandle returns a fresh opaque handle.
func NewHandle() model.Handle {
	return model.Handle(uuid.New().String())
}

// Associate stores payload under handle in the primary store.
func (r *Registry) Associate(ctx context.Context, handle model.Handle, payload []byte) error {
	if err := r.primary.Put(ctx, handle, payload); err != nil {
		return fmt.Errorf("failed to associate %s: %w", handle, err)
	}
	return nil
}

// AssociateShared stores payload under handle in the shared store.
func (r *Registry) AssociateShared(ctx context.Context, handle model.Handle, payload []byte) error {
	if r.shared == nil {
		return errors.New("shared registry not configured")
	}
	if err := r.shared.Put(ctx, handle, payload); err != nil {
		return fmt.Errorf("failed to stage %s: %w", handle, err)
	}
	return nil
}

// Lookup returns the payload for handle, falling back to the shared store.
func (r *Registry) Lookup(ctx context.Context, handle model.Handle) ([]byte, error) {
	payload, err := r.primary.Get(ctx, handle)
	if err == nil {
		return payload, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("primary registry: %w", err)
	}

	if r.shared == nil {
		return nil, ErrNotFound
	}
	payload, err = r.shared.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("shared registry: %w", err)
	}
	return payload, nil
}

// Release drops the association for handle from every tier.
func (r *Registry) Release(ctx context.Context, handle model.Handle) error {
	err := r.primary.Delete(ctx, handle)
	if r.shared != nil {
		err = errors.Join(err, r.shared.Delete(ctx, handle))
	}
	return err
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	payloads map[model.Handle][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payloads: make(map[model.Handle][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, handle model.Handle, payload []byte) error {
	s.mu.Lock()
	s.payloads[handle] = payload
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, handle model.Handle) ([]byte, error) {
	s.mu.RLock()
	payload, ok := s.payloads[handle]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return payload, nil
}

func (s *MemoryStore) Delete(_ context.Context, handle model.Handle) error {
	s.mu.Lock()
	delete(s.payloads, handle)
	s.mu.Unlock()
	return nil
}

// Len returns the number of associations held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payloads)
}
