// Package content caches the editable sections of one public page.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alfredjeanlab/sitegate/internal/metrics"
	"github.com/alfredjeanlab/sitegate/internal/model"
)

// Store is the content table.
type Store interface {
	ListContent(ctx context.Context, pageName string) ([]*model.ContentEntry, error)
	UpdateContent(ctx context.Context, id, value string) (*model.ContentEntry, error)
}

// Cache holds the entries of one page (or of every page when the page is
// ""). It is not push-synchronized: writers call Refetch or go through
// Update.
type Cache struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	page    string
	entries []*model.ContentEntry
	err     error
	loading bool
	loaded  bool
	closed  bool
	gen     uint64
}

// New returns an empty cache for page. Nothing is fetched until SetPage or
// Refetch.
func New(st Store, page string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: st, page: page, logger: logger}
}

// SetPage switches the cache to page and refetches when it differs from
// the current one or nothing was fetched yet.
func (c *Cache) SetPage(ctx context.Context, page string) {
	c.mu.Lock()
	if c.closed || (page == c.page && c.loaded) {
		c.mu.Unlock()
		return
	}
	c.page = page
	c.mu.Unlock()
	c.Refetch(ctx)
}

// Refetch reloads the current page. A failed fetch leaves an empty result
// and sets Err. The result of a fetch overtaken by a newer one, a page
// change or Close is dropped.
func (c *Cache) Refetch(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen, page := c.gen, c.page
	c.loading = true
	c.mu.Unlock()

	entries, err := c.store.ListContent(ctx, page)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		c.logger.Debug("dropping superseded content fetch", "page", page)
		return
	}
	c.loading = false
	c.loaded = true
	if err != nil {
		metrics.ContentFetchErrors.Inc()
		c.logger.Warn("content fetch failed", "page", page, "error", err)
		c.entries = nil
		c.err = fmt.Errorf("fetching content for %q: %w", page, err)
		return
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Order < entries[j].Order })
	c.entries = entries
	c.err = nil
}

// Update writes one entry's value and refetches on success.
func (c *Cache) Update(ctx context.Context, id, value string) error {
	if _, err := c.store.UpdateContent(ctx, id, value); err != nil {
		return fmt.Errorf("updating content %s: %w", id, err)
	}
	c.Refetch(ctx)
	return nil
}

// Page returns the page the cache currently follows.
func (c *Cache) Page() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Entries returns a copy of the cached entries ordered by display order.
func (c *Cache) Entries() []model.ContentEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ContentEntry, len(c.entries))
	for i, e := range c.entries {
		out[i] = *e
	}
	return out
}

// Lookup returns the value of the first entry with the given section key,
// or "" when there is none.
func (c *Cache) Lookup(sectionKey string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.SectionKey == sectionKey {
			return e.Value
		}
	}
	return ""
}

// Loading reports whether a fetch is in flight.
func (c *Cache) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the error of the last completed fetch.
func (c *Cache) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close drops any fetch still in flight.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.loading = false
	c.mu.Unlock()
}
