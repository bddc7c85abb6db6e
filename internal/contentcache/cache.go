// Package contentcache bounds the memory spent on fully-hydrated article
// bodies. Eviction is insertion-order (FIFO): reads do not bump an entry's
// position. The cache is never persisted; every process starts empty so
// stale bodies are not served across restarts.
package contentcache

import (
	"context"
	"sync"
	"time"

	"github.com/greg-hass/feedsync/internal/debuglog"
	"github.com/greg-hass/feedsync/internal/model"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 50

const prefetchTimeout = 30 * time.Second

// Fetcher hydrates an article body from the remote gateway.
type Fetcher interface {
	GetArticle(ctx context.Context, id int64) (*model.ArticleDetail, error)
}

type Cache struct {
	mu       sync.Mutex
	capacity int
	fetcher  Fetcher
	entries  map[int64]*model.ArticleDetail
	order    []int64 // insertion order, oldest first
}

func New(fetcher Fetcher, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		fetcher:  fetcher,
		entries:  make(map[int64]*model.ArticleDetail),
	}
}

// Get returns the cached detail for id, fetching and caching it on a miss.
// Returned values are copies; callers cannot corrupt the cache.
func (c *Cache) Get(ctx context.Context, id int64) (*model.ArticleDetail, error) {
	c.mu.Lock()
	if d, ok := c.entries[id]; ok {
		out := *d
		c.mu.Unlock()
		return &out, nil
	}
	c.mu.Unlock()

	detail, err := c.fetcher.GetArticle(ctx, id)
	if err != nil {
		return nil, err
	}

	c.insert(detail)

	out := *detail
	return &out, nil
}

// Peek returns the cached detail without triggering a fetch.
func (c *Cache) Peek(id int64) (*model.ArticleDetail, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	out := *d
	return &out, true
}

// Prefetch populates the cache ahead of scroll position. Fire-and-forget:
// failures are logged and swallowed.
func (c *Cache) Prefetch(id int64) {
	c.mu.Lock()
	_, cached := c.entries[id]
	c.mu.Unlock()
	if cached {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), prefetchTimeout)
		defer cancel()

		detail, err := c.fetcher.GetArticle(ctx, id)
		if err != nil {
			debuglog.Debugf("prefetch of article %d failed: %v", id, err)
			return
		}
		c.insert(detail)
	}()
}

// Update applies fn to the cached detail for id, if present. Used by the
// stores to keep cached bodies in agreement with the list projections on
// read/bookmark flips.
func (c *Cache) Update(id int64, fn func(*model.ArticleDetail)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.entries[id]; ok {
		fn(d)
	}
}

// InvalidateByFeed patches feed metadata (title/icon/type edits) into every
// cached detail belonging to the feed, without a remote round-trip.
func (c *Cache) InvalidateByFeed(feedID int64, meta model.FeedMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.entries {
		if d.FeedID != feedID {
			continue
		}
		if meta.Title != "" {
			d.FeedTitle = meta.Title
		}
		if meta.IconURL != "" {
			d.FeedIconURL = meta.IconURL
		}
		if meta.Type != "" {
			d.FeedType = meta.Type
		}
	}
}

// Remove drops the entry for id, if cached.
func (c *Cache) Remove(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return
	}
	delete(c.entries, id)
	c.order = removeID(c.order, id)
}

// RemoveFeed drops every cached entry belonging to the feed. Used when a
// feed deletion cascades through the local projections.
func (c *Cache) RemoveFeed(feedID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, d := range c.entries {
		if d.FeedID == feedID {
			delete(c.entries, id)
			c.order = removeID(c.order, id)
		}
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) insert(detail *model.ArticleDetail) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := *detail
	if _, ok := c.entries[d.ID]; ok {
		// Overwrite in place, keeping the original insertion position.
		c.entries[d.ID] = &d
		return
	}

	c.entries[d.ID] = &d
	c.order = append(c.order, d.ID)

	for len(c.entries) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func removeID(order []int64, id int64) []int64 {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
