package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/greg-hass/feedsync/internal/model"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	tmpDir, err := os.MkdirTemp("", "snapshot-test-*")
	if err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := Open(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatal(err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func TestTimeline_SaveAndLoad(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	published := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	feedID := int64(2)
	timeline := Timeline{
		Articles: []model.Article{
			{ID: 2, FeedID: 2, Title: "Second", PublishedAt: &published},
			{ID: 1, FeedID: 2, Title: "First", IsRead: true},
		},
		Cursor:  "cur-9",
		HasMore: true,
		Filter:  model.ArticleFilter{FeedID: &feedID, UnreadOnly: true},
	}

	if err := store.SaveTimeline(timeline, 100); err != nil {
		t.Fatalf("SaveTimeline() error = %v", err)
	}

	got, err := store.LoadTimeline()
	if err != nil {
		t.Fatalf("LoadTimeline() error = %v", err)
	}
	if got == nil {
		t.Fatal("LoadTimeline() returned nil for saved timeline")
	}

	if len(got.Articles) != 2 {
		t.Errorf("got %d articles, want 2", len(got.Articles))
	}
	if got.Cursor != "cur-9" || !got.HasMore {
		t.Errorf("cursor/hasMore not restored: %q %v", got.Cursor, got.HasMore)
	}
	if got.Filter.FeedID == nil || *got.Filter.FeedID != 2 || !got.Filter.UnreadOnly {
		t.Errorf("filter not restored: %+v", got.Filter)
	}
	if got.Articles[0].PublishedAt == nil || !got.Articles[0].PublishedAt.Equal(published) {
		t.Error("published timestamp not restored")
	}
}

func TestTimeline_SaveCapsArticles(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	articles := make([]model.Article, 150)
	for i := range articles {
		articles[i] = model.Article{ID: int64(150 - i), Title: fmt.Sprintf("article %d", i)}
	}

	if err := store.SaveTimeline(Timeline{Articles: articles}, 100); err != nil {
		t.Fatalf("SaveTimeline() error = %v", err)
	}

	got, err := store.LoadTimeline()
	if err != nil {
		t.Fatalf("LoadTimeline() error = %v", err)
	}
	if len(got.Articles) != 100 {
		t.Errorf("got %d persisted articles, want cap of 100", len(got.Articles))
	}
	// The head of the window survives, not the tail.
	if got.Articles[0].ID != 150 {
		t.Errorf("first persisted article id = %d, want 150", got.Articles[0].ID)
	}
}

func TestLoadTimeline_EmptyStore(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	got, err := store.LoadTimeline()
	if err != nil {
		t.Fatalf("LoadTimeline() error = %v", err)
	}
	if got != nil {
		t.Error("expected nil timeline from empty store")
	}
}

func TestBookmarks_RoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	bookmarks := []model.Article{
		{ID: 7, FeedID: 1, Title: "Saved", IsBookmarked: true},
	}
	if err := store.SaveBookmarks(bookmarks); err != nil {
		t.Fatalf("SaveBookmarks() error = %v", err)
	}

	got, err := store.LoadBookmarks()
	if err != nil {
		t.Fatalf("LoadBookmarks() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != 7 || !got[0].IsBookmarked {
		t.Errorf("bookmarks not restored: %+v", got)
	}
}

func TestCollections_RoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	folderID := int64(1)
	collections := Collections{
		Feeds: []model.Feed{
			{ID: 1, Title: "Go Blog", Type: model.FeedTypeRSS, FolderID: &folderID, UnreadCount: 4},
		},
		Folders:      []model.Folder{{ID: 1, Name: "Tech", FeedCount: 1, UnreadCount: 4}},
		SmartFolders: []model.SmartFolder{{ID: "youtube", Name: "YouTube", Type: model.FeedTypeYouTube}},
		TotalUnread:  4,
	}
	if err := store.SaveCollections(collections); err != nil {
		t.Fatalf("SaveCollections() error = %v", err)
	}

	got, err := store.LoadCollections()
	if err != nil {
		t.Fatalf("LoadCollections() error = %v", err)
	}
	if got == nil {
		t.Fatal("LoadCollections() returned nil for saved collections")
	}
	if len(got.Feeds) != 1 || got.Feeds[0].Title != "Go Blog" {
		t.Errorf("feeds not restored: %+v", got.Feeds)
	}
	if got.Feeds[0].FolderID == nil || *got.Feeds[0].FolderID != 1 {
		t.Error("feed folder id not restored")
	}
	if got.TotalUnread != 4 {
		t.Errorf("TotalUnread = %d, want 4", got.TotalUnread)
	}
}

func TestSyncCursor_RoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	cursor, err := store.LoadSyncCursor()
	if err != nil {
		t.Fatalf("LoadSyncCursor() error = %v", err)
	}
	if cursor != "" {
		t.Errorf("empty store cursor = %q, want empty", cursor)
	}

	if err := store.SaveSyncCursor("opaque-token-42"); err != nil {
		t.Fatalf("SaveSyncCursor() error = %v", err)
	}

	cursor, err = store.LoadSyncCursor()
	if err != nil {
		t.Fatalf("LoadSyncCursor() error = %v", err)
	}
	if cursor != "opaque-token-42" {
		t.Errorf("cursor = %q, want opaque-token-42", cursor)
	}
}
