// Package syncer drives cursor-based incremental sync against the gateway:
// pulling change-sets and distributing them to the entity stores, and
// pushing locally queued read-state transitions upstream.
package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/greg-hass/feedsync/internal/debuglog"
	"github.com/greg-hass/feedsync/internal/gateway"
	"github.com/greg-hass/feedsync/internal/model"
)

// Gateway is the slice of the remote contract the coordinator consumes.
type Gateway interface {
	Sync(ctx context.Context, cursor string) (*gateway.SyncResult, error)
	PushReadState(ctx context.Context, entries []gateway.ReadStateEntry) (accepted, rejected int, err error)
}

// ArticleApplier receives the article side of a pull and produces the
// read-state batch for a push. Implemented by the article store.
type ArticleApplier interface {
	ApplySyncChanges(changes *model.ArticleChanges, readState *model.ReadStateDelta)
	DrainPendingReadState() []gateway.ReadStateEntry
	RequeueReadState(entries []gateway.ReadStateEntry)
}

// FeedApplier receives the feed and folder side of a pull. Implemented by
// the feed store.
type FeedApplier interface {
	ApplySyncChanges(feeds *model.FeedChanges, folders *model.FolderChanges)
}

// CursorStore persists the sync cursor across restarts.
type CursorStore interface {
	SaveSyncCursor(cursor string) error
}

// Coordinator owns the sync cursor and serializes pulls and pushes.
type Coordinator struct {
	mu sync.Mutex

	gw       Gateway
	articles ArticleApplier
	feeds    FeedApplier
	persist  CursorStore // optional

	cursor    string
	pushBatch int
}

// DefaultPushBatch caps how many read-state transitions one push uploads.
const DefaultPushBatch = 200

func New(gw Gateway, articles ArticleApplier, feeds FeedApplier) *Coordinator {
	return &Coordinator{
		gw:        gw,
		articles:  articles,
		feeds:     feeds,
		pushBatch: DefaultPushBatch,
	}
}

// SetPushBatch overrides the per-push upload cap.
func (c *Coordinator) SetPushBatch(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > 0 {
		c.pushBatch = n
	}
}

// SetCursorStore wires cursor persistence.
func (c *Coordinator) SetCursorStore(store CursorStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persist = store
}

// Cursor returns the current sync position. Empty means no pull has
// completed yet and the next one fetches a full baseline.
func (c *Coordinator) Cursor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// SetCursor seeds the position from a persisted snapshot. Call before the
// first pull.
func (c *Coordinator) SetCursor(cursor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = cursor
}

// Pull fetches the change stream from the current cursor, distributes the
// delta to both stores, and only then advances and persists the cursor. A
// failed application leaves the cursor where it was so the same delta is
// replayed next time; application is idempotent, so replays are safe.
func (c *Coordinator) Pull(ctx context.Context) error {
	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()

	result, err := c.gw.Sync(ctx, cursor)
	if err != nil {
		return fmt.Errorf("sync pull: %w", err)
	}

	c.feeds.ApplySyncChanges(result.Changes.Feeds, result.Changes.Folders)
	c.articles.ApplySyncChanges(result.Changes.Articles, result.Changes.ReadState)

	c.mu.Lock()
	c.cursor = result.NextCursor
	persist := c.persist
	c.mu.Unlock()

	if persist != nil {
		if err := persist.SaveSyncCursor(result.NextCursor); err != nil {
			debuglog.Warnf("persisting sync cursor: %v", err)
		}
	}

	debuglog.Debugf("sync pull advanced cursor to %q (server time %s)",
		result.NextCursor, result.ServerTime.Format("15:04:05"))
	return nil
}

// Push uploads the queued read-state transitions. On transport failure the
// batch is requeued for the next push. Rejected entries are logged and
// dropped: the server is authoritative and the next pull reconciles any
// divergence.
func (c *Coordinator) Push(ctx context.Context) error {
	entries := c.articles.DrainPendingReadState()
	if len(entries) == 0 {
		return nil
	}

	c.mu.Lock()
	batch := c.pushBatch
	c.mu.Unlock()
	if len(entries) > batch {
		// Overflow waits for the next push rather than growing the request.
		c.articles.RequeueReadState(entries[batch:])
		entries = entries[:batch]
	}

	accepted, rejected, err := c.gw.PushReadState(ctx, entries)
	if err != nil {
		c.articles.RequeueReadState(entries)
		return fmt.Errorf("sync push: %w", err)
	}

	if rejected > 0 {
		debuglog.Warnf("sync push: server rejected %d of %d read-state entries", rejected, len(entries))
	}
	debuglog.Debugf("sync push: %d accepted, %d rejected", accepted, rejected)
	return nil
}
