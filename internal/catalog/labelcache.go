package catalog

import (
	"context"
	"fmt"
	"sync"
)

// LabelCache idempotently resolves label names to catalog ids, creating the
// label on first use. It mirrors the original implementation's split between
// a generic tag manager and a catalog-specific one (kometa_ai/common and
// kometa_ai/radarr tag_manager.py): callers only ever think in names, the
// cache hides id plumbing and guarantees a name is created at most once per
// process even under repeated lookups.
type LabelCache struct {
	client Client

	mu  sync.Mutex
	ids map[string]int
}

// NewLabelCache creates an empty cache backed by client.
func NewLabelCache(client Client) *LabelCache {
	return &LabelCache{
		client: client,
		ids:    make(map[string]int),
	}
}

// Warm populates the cache from the catalog's current label list, avoiding
// one GetLabel round-trip per distinct name during reconciliation.
func (c *LabelCache) Warm(ctx context.Context) error {
	labels, err := c.client.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("warm label cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range labels {
		c.ids[l.Name] = l.ID
	}
	return nil
}

// Cached returns the id previously resolved for name without making any
// catalog call, for callers (e.g. the reconciler) that need to read a
// movie's already-known label ids without risking a create-on-miss.
func (c *LabelCache) Cached(name string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[name]
	return id, ok
}

// ResolveID returns the id for name, creating the label in the catalog if it
// does not already exist. Safe for concurrent use, though the orchestrator
// never calls it concurrently (spec §5).
func (c *LabelCache) ResolveID(ctx context.Context, name string) (int, error) {
	c.mu.Lock()
	if id, ok := c.ids[name]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	label, err := c.client.GetLabel(ctx, name)
	if err == nil {
		c.mu.Lock()
		c.ids[name] = label.ID
		c.mu.Unlock()
		return label.ID, nil
	}
	if err != ErrNotFound {
		return 0, fmt.Errorf("resolve label %q: %w", name, err)
	}

	label, err = c.client.CreateLabel(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("create label %q: %w", name, err)
	}

	c.mu.Lock()
	c.ids[name] = label.ID
	c.mu.Unlock()
	return label.ID, nil
}
