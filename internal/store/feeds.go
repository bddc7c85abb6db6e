package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/greg-hass/feedsync/internal/contentcache"
	"github.com/greg-hass/feedsync/internal/debuglog"
	"github.com/greg-hass/feedsync/internal/gateway"
	"github.com/greg-hass/feedsync/internal/model"
	"github.com/greg-hass/feedsync/internal/snapshot"
)

// FeedsGateway is the slice of the remote contract the feed store consumes.
type FeedsGateway interface {
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	ListFolders(ctx context.Context) (*gateway.FolderList, error)
	CreateFeed(ctx context.Context, req gateway.CreateFeedRequest) (*model.Feed, error)
	UpdateFeed(ctx context.Context, id int64, req gateway.UpdateFeedRequest) (*model.Feed, error)
	DeleteFeed(ctx context.Context, id int64) error
	PauseFeed(ctx context.Context, id int64) (*model.Feed, error)
	ResumeFeed(ctx context.Context, id int64) (*model.Feed, error)
	CreateFolder(ctx context.Context, name string) (*model.Folder, error)
	DeleteFolder(ctx context.Context, id int64) error
}

// ArticleCascade receives the article-side consequences of feed mutations.
// Implemented by ArticleStore.
type ArticleCascade interface {
	RemoveFeedArticles(feedID int64)
	ApplyFeedMeta(feedID int64, meta model.FeedMeta)
}

// FeedStore owns the mirrored feed and folder collections.
type FeedStore struct {
	mu sync.Mutex

	gw       FeedsGateway
	cache    *contentcache.Cache
	articles ArticleCascade // optional
	search   SearchIndexer  // optional

	feeds        []model.Feed
	folders      []model.Folder
	smartFolders []model.SmartFolder
	totalUnread  int

	now func() time.Time
}

func NewFeedStore(gw FeedsGateway, cache *contentcache.Cache) *FeedStore {
	return &FeedStore{
		gw:    gw,
		cache: cache,
		now:   time.Now,
	}
}

// SetArticleCascade wires the article store for feed deletion and metadata
// propagation.
func (s *FeedStore) SetArticleCascade(a ArticleCascade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles = a
}

// SetSearchIndex attaches the offline search index for feed purges.
func (s *FeedStore) SetSearchIndex(idx SearchIndexer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = idx
}

func (s *FeedStore) Feeds() []model.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Feed, len(s.feeds))
	copy(out, s.feeds)
	return out
}

func (s *FeedStore) Folders() []model.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Folder, len(s.folders))
	copy(out, s.folders)
	return out
}

func (s *FeedStore) SmartFolders() []model.SmartFolder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SmartFolder, len(s.smartFolders))
	copy(out, s.smartFolders)
	return out
}

func (s *FeedStore) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalUnread
}

// FeedByID resolves a feed from the mirror. Used for folder and type filter
// matching on the article side.
func (s *FeedStore) FeedByID(id int64) (model.Feed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.feeds {
		if f.ID == id {
			return f, true
		}
	}
	return model.Feed{}, false
}

// Refresh replaces the mirror with full fetches of feeds and folders.
// Counts are server-derived; this is the only way they are recomputed.
func (s *FeedStore) Refresh(ctx context.Context) error {
	feeds, err := s.gw.ListFeeds(ctx)
	if err != nil {
		return fmt.Errorf("fetching feeds: %w", err)
	}
	folders, err := s.gw.ListFolders(ctx)
	if err != nil {
		return fmt.Errorf("fetching folders: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds = feeds
	s.folders = folders.Folders
	s.smartFolders = folders.SmartFolders
	s.totalUnread = folders.TotalUnread
	return nil
}

// AddFeed creates the feed server-side and splices the returned record into
// the mirror.
func (s *FeedStore) AddFeed(ctx context.Context, req gateway.CreateFeedRequest) (*model.Feed, error) {
	feed, err := s.gw.CreateFeed(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("creating feed: %w", err)
	}

	s.mu.Lock()
	s.upsertFeed(*feed)
	s.mu.Unlock()
	return feed, nil
}

// UpdateFeed patches the feed server-side. When the server's response
// carries changed display metadata, the change fans out to the article
// projections and the detail cache so stale feed titles and icons never
// linger.
func (s *FeedStore) UpdateFeed(ctx context.Context, id int64, req gateway.UpdateFeedRequest) (*model.Feed, error) {
	s.mu.Lock()
	var prev model.Feed
	for _, f := range s.feeds {
		if f.ID == id {
			prev = f
		}
	}
	s.mu.Unlock()

	feed, err := s.gw.UpdateFeed(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("updating feed %d: %w", id, err)
	}

	s.mu.Lock()
	s.upsertFeed(*feed)
	articles := s.articles
	s.mu.Unlock()

	var meta model.FeedMeta
	if feed.Title != prev.Title {
		meta.Title = feed.Title
	}
	if feed.IconURL != prev.IconURL {
		meta.IconURL = feed.IconURL
	}
	if feed.Type != prev.Type {
		meta.Type = feed.Type
	}
	if meta != (model.FeedMeta{}) && articles != nil {
		articles.ApplyFeedMeta(id, meta)
	}
	return feed, nil
}

// DeleteFeed removes the feed server-side, then cascades through every
// article projection, the detail cache and the search index.
func (s *FeedStore) DeleteFeed(ctx context.Context, id int64) error {
	if err := s.gw.DeleteFeed(ctx, id); err != nil {
		return fmt.Errorf("deleting feed %d: %w", id, err)
	}
	s.dropFeedLocally(id)
	return nil
}

func (s *FeedStore) dropFeedLocally(id int64) {
	s.mu.Lock()
	for i := range s.feeds {
		if s.feeds[i].ID == id {
			s.feeds = append(s.feeds[:i], s.feeds[i+1:]...)
			break
		}
	}
	articles := s.articles
	search := s.search
	s.mu.Unlock()

	if articles != nil {
		articles.RemoveFeedArticles(id)
	}
	if s.cache != nil {
		s.cache.RemoveFeed(id)
	}
	if search != nil {
		search.RemoveFeed(id)
	}
}

func (s *FeedStore) PauseFeed(ctx context.Context, id int64) error {
	feed, err := s.gw.PauseFeed(ctx, id)
	if err != nil {
		return fmt.Errorf("pausing feed %d: %w", id, err)
	}
	s.mu.Lock()
	s.upsertFeed(*feed)
	s.mu.Unlock()
	return nil
}

func (s *FeedStore) ResumeFeed(ctx context.Context, id int64) error {
	feed, err := s.gw.ResumeFeed(ctx, id)
	if err != nil {
		return fmt.Errorf("resuming feed %d: %w", id, err)
	}
	s.mu.Lock()
	s.upsertFeed(*feed)
	s.mu.Unlock()
	return nil
}

func (s *FeedStore) CreateFolder(ctx context.Context, name string) (*model.Folder, error) {
	folder, err := s.gw.CreateFolder(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("creating folder: %w", err)
	}
	s.mu.Lock()
	s.folders = append(s.folders, *folder)
	s.mu.Unlock()
	return folder, nil
}

// DeleteFolder removes the folder server-side and then refetches both
// collections: the server decides what happens to the folder's feeds, so
// the mirror cannot be patched locally.
func (s *FeedStore) DeleteFolder(ctx context.Context, id int64) error {
	if err := s.gw.DeleteFolder(ctx, id); err != nil {
		return fmt.Errorf("deleting folder %d: %w", id, err)
	}
	if err := s.Refresh(ctx); err != nil {
		debuglog.Warnf("collection refetch after folder delete failed: %v", err)
	}
	return nil
}

// ApplySyncChanges applies one pull's feed and folder deltas: deletions
// (with their article cascade), then id-guarded creations, then updates.
func (s *FeedStore) ApplySyncChanges(feeds *model.FeedChanges, folders *model.FolderChanges) {
	if feeds != nil {
		for _, id := range feeds.Deleted {
			s.dropFeedLocally(id)
		}

		s.mu.Lock()
		for _, created := range feeds.Created {
			s.upsertFeed(created)
		}
		for _, updated := range feeds.Updated {
			s.upsertFeed(updated)
		}
		s.mu.Unlock()
	}

	if folders != nil {
		s.mu.Lock()
		if len(folders.Deleted) > 0 {
			drop := make(map[int64]struct{}, len(folders.Deleted))
			for _, id := range folders.Deleted {
				drop[id] = struct{}{}
			}
			kept := s.folders[:0]
			for _, f := range s.folders {
				if _, ok := drop[f.ID]; !ok {
					kept = append(kept, f)
				}
			}
			s.folders = kept
		}
		for _, created := range folders.Created {
			s.upsertFolder(created)
		}
		for _, updated := range folders.Updated {
			s.upsertFolder(updated)
		}
		s.mu.Unlock()
	}
}

// ApplyRefreshComplete folds a per-feed refresh outcome into the mirror:
// unread count grows by the new articles, fetch timestamps advance, and any
// discovered metadata correction fans out.
func (s *FeedStore) ApplyRefreshComplete(ev gateway.FeedCompleteEvent) {
	s.mu.Lock()
	var meta model.FeedMeta
	if ev.FeedMeta != nil {
		meta = *ev.FeedMeta
	}
	found := false
	for i := range s.feeds {
		if s.feeds[i].ID != ev.FeedID {
			continue
		}
		found = true
		s.feeds[i].UnreadCount += ev.NewCount
		now := s.now()
		s.feeds[i].LastFetchedAt = &now
		s.feeds[i].NextFetchAt = ev.NextFetchAt
		s.feeds[i].ErrorCount = 0
		s.feeds[i].LastError = ""
		if meta.Title != "" {
			s.feeds[i].Title = meta.Title
		}
		if meta.IconURL != "" {
			s.feeds[i].IconURL = meta.IconURL
		}
		if meta.Type != "" {
			s.feeds[i].Type = meta.Type
		}
	}
	if found {
		// Events for feeds not in the mirror (removed mid-refresh) must not
		// drift the global unread count.
		s.totalUnread += ev.NewCount
	}
	articles := s.articles
	s.mu.Unlock()

	if meta != (model.FeedMeta{}) && articles != nil {
		articles.ApplyFeedMeta(ev.FeedID, meta)
	}
}

// ApplyRefreshError records a per-feed refresh failure without touching
// counts.
func (s *FeedStore) ApplyRefreshError(ev gateway.FeedErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.feeds {
		if s.feeds[i].ID == ev.FeedID {
			s.feeds[i].ErrorCount++
			s.feeds[i].LastError = ev.Message
		}
	}
}

// upsertFeed replaces or appends a feed record. Caller holds the lock.
func (s *FeedStore) upsertFeed(feed model.Feed) {
	for i := range s.feeds {
		if s.feeds[i].ID == feed.ID {
			s.feeds[i] = feed
			return
		}
	}
	s.feeds = append(s.feeds, feed)
}

// upsertFolder replaces or appends a folder record. Caller holds the lock.
func (s *FeedStore) upsertFolder(folder model.Folder) {
	for i := range s.folders {
		if s.folders[i].ID == folder.ID {
			s.folders[i] = folder
			return
		}
	}
	s.folders = append(s.folders, folder)
}

// SnapshotState captures the persistable collections.
func (s *FeedStore) SnapshotState() snapshot.Collections {
	s.mu.Lock()
	defer s.mu.Unlock()

	feeds := make([]model.Feed, len(s.feeds))
	copy(feeds, s.feeds)
	folders := make([]model.Folder, len(s.folders))
	copy(folders, s.folders)
	smart := make([]model.SmartFolder, len(s.smartFolders))
	copy(smart, s.smartFolders)

	return snapshot.Collections{
		Feeds:        feeds,
		Folders:      folders,
		SmartFolders: smart,
		TotalUnread:  s.totalUnread,
	}
}

// RestoreSnapshot seeds the mirror from a persisted snapshot.
func (s *FeedStore) RestoreSnapshot(c *snapshot.Collections) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds = c.Feeds
	s.folders = c.Folders
	s.smartFolders = c.SmartFolders
	s.totalUnread = c.TotalUnread
}
