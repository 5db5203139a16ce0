package inference

import (
	"context"
	"sync"

	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// MemStore is an in-memory Store used by tests of packages that read service records.
type MemStore struct {
	mu       sync.Mutex
	services map[string]model.InferenceService
}

// NewMemStore returns a MemStore holding svcs.
func NewMemStore(svcs ...model.InferenceService) *MemStore {
	m := &MemStore{services: map[string]model.InferenceService{}}
	for _, s := range svcs {
		m.services[s.ServiceName] = s
	}
	return m
}

// ByName implements Store.
func (m *MemStore) ByName(_ context.Context, serviceName string) (*model.InferenceService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[serviceName]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &svc, nil
}

// Add implements Store.
func (m *MemStore) Add(_ context.Context, svc *model.InferenceService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[svc.ServiceName]; ok {
		return db.ErrDuplicateRecord
	}
	m.services[svc.ServiceName] = *svc
	return nil
}

// Delete implements Store.
func (m *MemStore) Delete(_ context.Context, serviceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services, serviceName)
	return nil
}
