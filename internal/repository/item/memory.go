package item

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kailas-cloud/itemrec/internal/domain"
	domitem "github.com/kailas-cloud/itemrec/internal/domain/item"
)

// Memory is an in-process item repository.
type Memory struct {
	mu    sync.RWMutex
	items map[string]map[string]domitem.Item
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]map[string]domitem.Item)}
}

// Upsert implements catalog.Repository. Items are values with private fields, so storing them copies.
func (m *Memory) Upsert(_ context.Context, deployment string, items []domitem.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.items[deployment]
	if !ok {
		byID = make(map[string]domitem.Item, len(items))
		m.items[deployment] = byID
	}
	for _, it := range items {
		byID[it.ID()] = domitem.Reconstruct(it.ID(), it.Fields(), it.Domain())
	}
	return nil
}

// Get implements catalog.Repository.
func (m *Memory) Get(_ context.Context, deployment, id string) (domitem.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[deployment][id]
	if !ok {
		return domitem.Item{}, fmt.Errorf("item %q: %w", id, domain.ErrItemNotFound)
	}
	return it, nil
}

// List implements catalog.Repository.
func (m *Memory) List(_ context.Context, deployment string) ([]domitem.Item, error) {
	m.mu.RLock()
	out := make([]domitem.Item, 0, len(m.items[deployment]))
	for _, it := range m.items[deployment] {
		out = append(out, it)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domitem.Item) int { return cmp.Compare(a.ID(), b.ID()) })
	return out, nil
}

// Count implements catalog.Repository.
func (m *Memory) Count(_ context.Context, deployment string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items[deployment]), nil
}
