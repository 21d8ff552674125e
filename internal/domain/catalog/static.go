package catalog

import (
	"context"
	"sort"
)

var _ Source = (*StaticSource)(nil)

// StaticSource serves a fixed set of catalog items from memory. It backs the
// sample merchant when no database is configured, and tests.
type StaticSource struct {
	items map[string]Item
}

// NewStaticSource builds a StaticSource from the given items.
func NewStaticSource(items []Item) *StaticSource {
	m := make(map[string]Item, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return &StaticSource{items: m}
}

// GetByIDs returns the subset of requested items that exist.
func (s *StaticSource) GetByIDs(_ context.Context, ids []string) ([]Item, error) {
	found := make([]Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			found = append(found, it)
		}
	}
	return found, nil
}

// List returns all items ordered by id.
func (s *StaticSource) List(_ context.Context) ([]Item, error) {
	items := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}
