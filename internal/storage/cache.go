package storage

import (
	"context"

	"campaign-preview-engine/internal/cache"
)

// TemplateLoader is the part of Store the cache rebuilds from.
type TemplateLoader interface {
	LoadTemplates(ctx context.Context) ([]TemplateRow, error)
}

// TemplateCache is a read-mostly snapshot of all email templates keyed by id.
// Readers never block; Reload swaps the whole map.
type TemplateCache struct {
	snap cache.Snapshot[map[string]TemplateRow]
}

func NewTemplateCache() *TemplateCache {
	return &TemplateCache{}
}

// Get returns a cached template. The second result is false on a miss or
// before the first load.
func (c *TemplateCache) Get(id string) (TemplateRow, bool) {
	m, ok := c.snap.Load()
	if !ok {
		return TemplateRow{}, false
	}
	t, ok := m[id]
	return t, ok
}

// Len reports how many templates the current snapshot holds.
func (c *TemplateCache) Len() int {
	m, _ := c.snap.Load()
	return len(m)
}

// Update replaces the snapshot with the given templates.
func (c *TemplateCache) Update(templates []TemplateRow) {
	m := make(map[string]TemplateRow, len(templates))
	for _, t := range templates {
		m[t.ID] = t
	}
	c.snap.Store(m)
}

// Reload rebuilds the snapshot from the loader. On error the previous
// snapshot stays in place.
func (c *TemplateCache) Reload(ctx context.Context, l TemplateLoader) (int, error) {
	templates, err := l.LoadTemplates(ctx)
	if err != nil {
		return 0, err
	}
	c.Update(templates)
	return len(templates), nil
}
