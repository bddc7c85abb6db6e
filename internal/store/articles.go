// Package store holds the authoritative in-memory mirrors of server-held
// entities: the article timeline with its bookmarks projection, and the
// feed/folder collections. Every mutation is an atomic lock → compute →
// replace step; remote calls happen outside the locks, and late responses
// from superseded fetches are discarded by a generation guard.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/greg-hass/feedsync/internal/contentcache"
	"github.com/greg-hass/feedsync/internal/debuglog"
	"github.com/greg-hass/feedsync/internal/gateway"
	"github.com/greg-hass/feedsync/internal/merge"
	"github.com/greg-hass/feedsync/internal/model"
	"github.com/greg-hass/feedsync/internal/snapshot"
)

// ArticlesGateway is the slice of the remote contract the article store
// consumes.
type ArticlesGateway interface {
	ListArticles(ctx context.Context, filter model.ArticleFilter, cursor string, limit int) (*gateway.ArticlePage, error)
	MarkRead(ctx context.Context, id int64) error
	MarkUnread(ctx context.Context, id int64) error
	SetBookmark(ctx context.Context, id int64, bookmarked bool) error
	MarkAllRead(ctx context.Context, scope gateway.MarkReadScope) (int, error)
}

// SearchIndexer mirrors timeline changes into the offline search index.
type SearchIndexer interface {
	IndexArticles(articles []model.Article)
	RemoveArticles(ids []int64)
	RemoveFeed(feedID int64)
}

// ArticleStore owns the filtered timeline window, the bookmarks projection
// and the content cache's coherence with both.
type ArticleStore struct {
	mu sync.Mutex

	gw    ArticlesGateway
	cache *contentcache.Cache

	search       SearchIndexer              // optional
	feedLookup   func(int64) (model.Feed, bool) // optional, resolves folder/type filters
	onBulkChange func(context.Context)      // optional, resyncs the feed store after bulk ops

	pageSize int

	articles    []model.Article
	bookmarks   []model.Article
	cursor      string
	hasMore     bool
	totalUnread int
	filter      model.ArticleFilter

	// fetchGen invalidates in-flight list fetches when the filter changes
	// underneath them.
	fetchGen uint64

	// pendingPush holds read-state transitions whose direct remote call
	// failed; the sync coordinator drains them on the next push.
	pendingPush map[int64]bool
}

func NewArticleStore(gw ArticlesGateway, cache *contentcache.Cache, pageSize int) *ArticleStore {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &ArticleStore{
		gw:          gw,
		cache:       cache,
		pageSize:    pageSize,
		pendingPush: make(map[int64]bool),
	}
}

// SetSearchIndex attaches an optional offline search index.
func (s *ArticleStore) SetSearchIndex(idx SearchIndexer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = idx
}

// SetFeedLookup wires feed resolution used by folder/type filter matching.
func (s *ArticleStore) SetFeedLookup(fn func(int64) (model.Feed, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedLookup = fn
}

// SetBulkChangeHook wires the feed/folder resync run after bulk mark-read.
func (s *ArticleStore) SetBulkChangeHook(fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBulkChange = fn
}

// Articles returns a copy of the current timeline window.
func (s *ArticleStore) Articles() []model.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Article, len(s.articles))
	copy(out, s.articles)
	return out
}

// Bookmarks returns a copy of the bookmarks projection.
func (s *ArticleStore) Bookmarks() []model.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Article, len(s.bookmarks))
	copy(out, s.bookmarks)
	return out
}

func (s *ArticleStore) Filter() model.ArticleFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

func (s *ArticleStore) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

func (s *ArticleStore) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalUnread
}

// SetFilter merges the patch into the active filter, resets the window and
// cursor, invalidates any in-flight fetch, and issues a fresh fetch.
func (s *ArticleStore) SetFilter(ctx context.Context, patch model.FilterPatch) error {
	s.mu.Lock()
	s.filter = patch.Apply(s.filter)
	s.articles = nil
	s.cursor = ""
	s.hasMore = false
	s.fetchGen++
	s.mu.Unlock()

	return s.FetchArticles(ctx, true, false)
}

// FetchArticles requests one page from the gateway and merges it into the
// window. reset replaces the window from the top; live prepends only
// genuinely new articles; otherwise the next page is appended using the
// stored cursor. A response whose generation was superseded by a filter
// change is discarded.
func (s *ArticleStore) FetchArticles(ctx context.Context, reset, live bool) error {
	s.mu.Lock()
	gen := s.fetchGen
	filter := s.filter
	cursor := ""
	if !reset && !live {
		cursor = s.cursor
	}
	s.mu.Unlock()

	page, err := s.gw.ListArticles(ctx, filter, cursor, s.pageSize)
	if err != nil {
		return fmt.Errorf("fetching articles: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.fetchGen {
		debuglog.Debugf("discarding stale article page (gen %d, current %d)", gen, s.fetchGen)
		return nil
	}

	switch {
	case live:
		s.articles = merge.LivePrepend(s.articles, page.Articles)
	case reset:
		s.articles = merge.Reset(page.Articles)
		s.cursor = page.NextCursor
		s.hasMore = page.NextCursor != ""
	default:
		s.articles = merge.Paginate(s.articles, page.Articles)
		s.cursor = page.NextCursor
		s.hasMore = page.NextCursor != ""
	}
	s.totalUnread = page.TotalUnread

	if s.search != nil {
		s.search.IndexArticles(page.Articles)
	}
	return nil
}

// LoadMore fetches the next page when the server indicated one exists.
func (s *ArticleStore) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	more := s.hasMore
	s.mu.Unlock()
	if !more {
		return nil
	}
	return s.FetchArticles(ctx, false, false)
}

// MarkRead flips is_read locally and fires the remote call. Failures are
// swallowed: the local flag stands and the transition is queued for the
// next sync push. Read state is low-stakes and reconverges on pull.
func (s *ArticleStore) MarkRead(ctx context.Context, id int64) {
	s.setRead(ctx, id, true)
}

// MarkUnread is the inverse of MarkRead, with the same failure policy.
func (s *ArticleStore) MarkUnread(ctx context.Context, id int64) {
	s.setRead(ctx, id, false)
}

func (s *ArticleStore) setRead(ctx context.Context, id int64, read bool) {
	s.mu.Lock()
	s.applyReadFlag(id, read)
	s.mu.Unlock()

	var err error
	if read {
		err = s.gw.MarkRead(ctx, id)
	} else {
		err = s.gw.MarkUnread(ctx, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		debuglog.Warnf("read-state call for article %d failed, queued for push: %v", id, err)
		s.pendingPush[id] = read
		return
	}
	// The server confirmed this transition; an older queued one is moot.
	delete(s.pendingPush, id)
}

// applyReadFlag flips is_read in all projections. Caller holds the lock.
func (s *ArticleStore) applyReadFlag(id int64, read bool) {
	for i := range s.articles {
		if s.articles[i].ID == id {
			s.articles[i].IsRead = read
		}
	}
	for i := range s.bookmarks {
		if s.bookmarks[i].ID == id {
			s.bookmarks[i].IsRead = read
		}
	}
	if s.cache != nil {
		s.cache.Update(id, func(d *model.ArticleDetail) { d.IsRead = read })
	}
}

// ToggleBookmark flips is_bookmarked optimistically in the timeline, the
// bookmarks projection and the detail cache. If the remote call fails all
// three are rolled back to the pre-toggle state: a diverged bookmarks list
// would never self-correct, so bookmark state is high-stakes.
func (s *ArticleStore) ToggleBookmark(ctx context.Context, id int64) error {
	s.mu.Lock()

	article, ok := s.lookupArticle(id)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("article %d not in local projections", id)
	}
	prev := article.IsBookmarked
	next := !prev

	s.applyBookmarkFlag(id, next, article)
	s.mu.Unlock()

	if err := s.gw.SetBookmark(ctx, id, next); err != nil {
		s.mu.Lock()
		s.applyBookmarkFlag(id, prev, article)
		s.mu.Unlock()
		return fmt.Errorf("toggling bookmark for article %d: %w", id, err)
	}
	return nil
}

// lookupArticle finds the freshest local record for id across the timeline,
// bookmarks and detail cache. Caller holds the lock.
func (s *ArticleStore) lookupArticle(id int64) (model.Article, bool) {
	for _, a := range s.articles {
		if a.ID == id {
			return a, true
		}
	}
	for _, a := range s.bookmarks {
		if a.ID == id {
			return a, true
		}
	}
	if s.cache != nil {
		if d, ok := s.cache.Peek(id); ok {
			return d.Article, true
		}
	}
	return model.Article{}, false
}

// applyBookmarkFlag sets is_bookmarked in all three projections, adding or
// removing the bookmarks entry as needed. base carries the article fields
// used when inserting into the bookmarks list. Caller holds the lock.
func (s *ArticleStore) applyBookmarkFlag(id int64, bookmarked bool, base model.Article) {
	for i := range s.articles {
		if s.articles[i].ID == id {
			s.articles[i].IsBookmarked = bookmarked
		}
	}

	if bookmarked {
		found := false
		for i := range s.bookmarks {
			if s.bookmarks[i].ID == id {
				s.bookmarks[i].IsBookmarked = true
				found = true
			}
		}
		if !found {
			entry := base
			entry.IsBookmarked = true
			s.bookmarks = append(s.bookmarks, entry)
			merge.SortTimeline(s.bookmarks)
		}
	} else {
		for i := range s.bookmarks {
			if s.bookmarks[i].ID == id {
				s.bookmarks = append(s.bookmarks[:i], s.bookmarks[i+1:]...)
				break
			}
		}
	}

	if s.cache != nil {
		s.cache.Update(id, func(d *model.ArticleDetail) { d.IsBookmarked = bookmarked })
	}
}

// MarkAllRead runs the remote bulk call, then fully resyncs the timeline
// and, via the bulk-change hook, the feed/folder store. Counts are not
// derived locally for bulk scope changes.
func (s *ArticleStore) MarkAllRead(ctx context.Context, scope gateway.MarkReadScope) (int, error) {
	marked, err := s.gw.MarkAllRead(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("bulk mark-read: %w", err)
	}

	if err := s.FetchArticles(ctx, true, false); err != nil {
		debuglog.Warnf("timeline resync after bulk mark-read failed: %v", err)
	}

	s.mu.Lock()
	hook := s.onBulkChange
	s.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return marked, nil
}

// ApplySyncChanges applies one pull's article delta in order: deletions,
// creations (id-guarded, spliced in only when they match the active
// filter), updates, then the read-state delta. Applying the same delta
// twice yields the same state.
func (s *ArticleStore) ApplySyncChanges(changes *model.ArticleChanges, readState *model.ReadStateDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if changes != nil {
		if len(changes.Deleted) > 0 {
			s.removeByID(changes.Deleted)
			if s.search != nil {
				s.search.RemoveArticles(changes.Deleted)
			}
		}

		if len(changes.Created) > 0 {
			existing := make(map[int64]struct{}, len(s.articles))
			for _, a := range s.articles {
				existing[a.ID] = struct{}{}
			}
			inserted := false
			for _, created := range changes.Created {
				if _, ok := existing[created.ID]; ok {
					continue
				}
				if !s.filter.Matches(created, s.feedLookup) {
					continue
				}
				s.articles = append(s.articles, created)
				existing[created.ID] = struct{}{}
				inserted = true
			}
			if inserted {
				merge.SortTimeline(s.articles)
			}

			for _, created := range changes.Created {
				if created.IsBookmarked {
					s.upsertBookmark(created)
				}
			}
			if s.search != nil {
				s.search.IndexArticles(changes.Created)
			}
		}

		for _, updated := range changes.Updated {
			s.replaceByID(updated)
		}
		if s.search != nil && len(changes.Updated) > 0 {
			s.search.IndexArticles(changes.Updated)
		}
	}

	if readState != nil {
		for _, id := range readState.Read {
			s.applyReadFlag(id, true)
		}
		for _, id := range readState.Unread {
			s.applyReadFlag(id, false)
		}
		if s.filter.UnreadOnly && len(readState.Read) > 0 {
			read := make(map[int64]struct{}, len(readState.Read))
			for _, id := range readState.Read {
				read[id] = struct{}{}
			}
			kept := s.articles[:0]
			for _, a := range s.articles {
				if _, ok := read[a.ID]; !ok {
					kept = append(kept, a)
				}
			}
			s.articles = kept
		}
	}
}

// removeByID drops ids from all projections. Caller holds the lock.
func (s *ArticleStore) removeByID(ids []int64) {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	keptArticles := s.articles[:0]
	for _, a := range s.articles {
		if _, ok := drop[a.ID]; !ok {
			keptArticles = append(keptArticles, a)
		}
	}
	s.articles = keptArticles

	keptBookmarks := s.bookmarks[:0]
	for _, a := range s.bookmarks {
		if _, ok := drop[a.ID]; !ok {
			keptBookmarks = append(keptBookmarks, a)
		}
	}
	s.bookmarks = keptBookmarks

	if s.cache != nil {
		for _, id := range ids {
			s.cache.Remove(id)
		}
	}
	for _, id := range ids {
		delete(s.pendingPush, id)
	}
}

// replaceByID overwrites the record in every projection, reconciling the
// bookmarks list with the updated flag. Caller holds the lock.
func (s *ArticleStore) replaceByID(updated model.Article) {
	for i := range s.articles {
		if s.articles[i].ID == updated.ID {
			s.articles[i] = updated
		}
	}

	if updated.IsBookmarked {
		s.upsertBookmark(updated)
	} else {
		for i := range s.bookmarks {
			if s.bookmarks[i].ID == updated.ID {
				s.bookmarks = append(s.bookmarks[:i], s.bookmarks[i+1:]...)
				break
			}
		}
	}

	if s.cache != nil {
		s.cache.Update(updated.ID, func(d *model.ArticleDetail) { d.Article = updated })
	}
}

// upsertBookmark adds or replaces a bookmarks entry, keeping sort order.
// Caller holds the lock.
func (s *ArticleStore) upsertBookmark(a model.Article) {
	for i := range s.bookmarks {
		if s.bookmarks[i].ID == a.ID {
			s.bookmarks[i] = a
			return
		}
	}
	s.bookmarks = append(s.bookmarks, a)
	merge.SortTimeline(s.bookmarks)
}

// RemoveFeedArticles cascades a feed deletion through the timeline,
// bookmarks, detail cache and search index.
func (s *ArticleStore) RemoveFeedArticles(feedID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.articles[:0]
	for _, a := range s.articles {
		if a.FeedID != feedID {
			kept = append(kept, a)
		}
	}
	s.articles = kept

	keptBookmarks := s.bookmarks[:0]
	for _, a := range s.bookmarks {
		if a.FeedID != feedID {
			keptBookmarks = append(keptBookmarks, a)
		}
	}
	s.bookmarks = keptBookmarks

	if s.cache != nil {
		s.cache.RemoveFeed(feedID)
	}
	if s.search != nil {
		s.search.RemoveFeed(feedID)
	}
}

// ApplyFeedMeta patches feed metadata into both list projections and the
// detail cache, without a remote round-trip.
func (s *ArticleStore) ApplyFeedMeta(feedID int64, meta model.FeedMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	patch := func(list []model.Article) {
		for i := range list {
			if list[i].FeedID != feedID {
				continue
			}
			if meta.Title != "" {
				list[i].FeedTitle = meta.Title
			}
			if meta.IconURL != "" {
				list[i].FeedIconURL = meta.IconURL
			}
			if meta.Type != "" {
				list[i].FeedType = meta.Type
			}
		}
	}
	patch(s.articles)
	patch(s.bookmarks)

	if s.cache != nil {
		s.cache.InvalidateByFeed(feedID, meta)
	}
}

// DrainPendingReadState hands the queued read-state transitions to the sync
// coordinator and clears the queue.
func (s *ArticleStore) DrainPendingReadState() []gateway.ReadStateEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pendingPush) == 0 {
		return nil
	}
	entries := make([]gateway.ReadStateEntry, 0, len(s.pendingPush))
	for id, read := range s.pendingPush {
		entries = append(entries, gateway.ReadStateEntry{ArticleID: id, IsRead: read})
	}
	s.pendingPush = make(map[int64]bool)
	return entries
}

// RequeueReadState restores entries after a failed push. Transitions that
// re-queued in the meantime win over the restored batch.
func (s *ArticleStore) RequeueReadState(entries []gateway.ReadStateEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, ok := s.pendingPush[e.ArticleID]; !ok {
			s.pendingPush[e.ArticleID] = e.IsRead
		}
	}
}

// SnapshotState captures the persistable projections.
func (s *ArticleStore) SnapshotState() (snapshot.Timeline, []model.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()

	articles := make([]model.Article, len(s.articles))
	copy(articles, s.articles)
	bookmarks := make([]model.Article, len(s.bookmarks))
	copy(bookmarks, s.bookmarks)

	return snapshot.Timeline{
		Articles: articles,
		Cursor:   s.cursor,
		HasMore:  s.hasMore,
		Filter:   s.filter,
	}, bookmarks
}

// RestoreSnapshot seeds the store from a persisted snapshot. Call before
// any fetch; restored state is served until the first pull corrects it.
func (s *ArticleStore) RestoreSnapshot(t *snapshot.Timeline, bookmarks []model.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t != nil {
		s.articles = t.Articles
		s.cursor = t.Cursor
		s.hasMore = t.HasMore
		s.filter = t.Filter
	}
	if bookmarks != nil {
		s.bookmarks = bookmarks
	}
}
