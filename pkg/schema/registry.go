package schema

import (
	"github.com/fieldsync/opqueue/pkg/storage"
	"github.com/fieldsync/opqueue/pkg/types"
)

// Registry holds entity schemas and validates payloads against them,
// backed by the durable store.
type Registry struct {
	store storage.Store
}

// NewRegistry creates a Registry over store.
func NewRegistry(store storage.Store) *Registry {
	return &Registry{store: store}
}

// Register persists a schema for its entity type.
func (r *Registry) Register(s *types.EntitySchema) error {
	return r.store.PutSchema(s)
}

// Get returns the schema registered for entityType, or storage.ErrNotFound.
func (r *Registry) Get(entityType string) (*types.EntitySchema, error) {
	return r.store.GetSchema(entityType)
}

// Validate fetches the schema for entityType and validates payload against
// it. An entity type with no registered schema validates trivially (no
// errors) — schema registration is opt-in per spec's data model.
func (r *Registry) Validate(entityType string, payload map[string]any) ([]string, error) {
	s, err := r.store.GetSchema(entityType)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ValidatePayload(s, payload), nil
}
