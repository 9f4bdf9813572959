package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// ErrNotFound is returned when an incident id is unknown.
var ErrNotFound = errors.New("incident not found")

// Store persists incidents. Implementations return deep copies, so every
// change must be written back with Put.
type Store interface {
	Get(ctx context.Context, id string) (*models.Incident, error)
	Put(ctx context.Context, inc *models.Incident) error
	List(ctx context.Context) ([]*models.Incident, error)
	Delete(ctx context.Context, id string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu        sync.RWMutex
	incidents map[string]*models.Incident
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{incidents: make(map[string]*models.Incident)}
}

// Get returns a copy of the incident.
func (m *Memory) Get(_ context.Context, id string) (*models.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inc.Clone(), nil
}

// Put stores a copy of inc.
func (m *Memory) Put(_ context.Context, inc *models.Incident) error {
	if inc == nil || inc.ID == "" {
		return errors.New("incident id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents[inc.ID] = inc.Clone()
	return nil
}

// List returns copies of every incident, newest detection first.
func (m *Memory) List(_ context.Context) ([]*models.Incident, error) {
	m.mu.RLock()
	out := make([]*models.Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		out = append(out, inc.Clone())
	}
	m.mu.RUnlock()
	SortNewestFirst(out)
	return out, nil
}

// Delete removes an incident. Deleting an unknown id is not an error.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.incidents, id)
	return nil
}

// SortNewestFirst orders incidents by detection time, newest first, then by id.
func SortNewestFirst(incidents []*models.Incident) {
	sort.Slice(incidents, func(i, j int) bool {
		if incidents[i].DetectedAt.Equal(incidents[j].DetectedAt) {
			return incidents[i].ID < incidents[j].ID
		}
		return incidents[i].DetectedAt.After(incidents[j].DetectedAt)
	})
}
