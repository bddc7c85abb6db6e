// Package snapshot persists the lightweight local mirror (list projections,
// filter, cursors, feed/folder collections) so the reader is usable offline
// before the first pull. The content cache is deliberately excluded: bodies
// are refetched fresh each process.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/greg-hass/feedsync/internal/model"
)

var stateBucket = []byte("state")

var (
	keyTimeline    = []byte("timeline")
	keyBookmarks   = []byte("bookmarks")
	keyCollections = []byte("collections")
	keySyncCursor  = []byte("sync_cursor")
)

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(stateBucket)
		return createErr
	})
	if err != nil {
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Timeline is the persisted article window plus the state needed to resume
// pagination under the same filter.
type Timeline struct {
	Articles []model.Article     `json:"articles"`
	Cursor   string              `json:"cursor"`
	HasMore  bool                `json:"has_more"`
	Filter   model.ArticleFilter `json:"filter"`
}

// Collections is the persisted feed/folder mirror.
type Collections struct {
	Feeds        []model.Feed        `json:"feeds"`
	Folders      []model.Folder      `json:"folders"`
	SmartFolders []model.SmartFolder `json:"smart_folders"`
	TotalUnread  int                 `json:"total_unread"`
}

// SaveTimeline persists the article window, capped to limit entries when
// limit is positive.
func (s *Store) SaveTimeline(t Timeline, limit int) error {
	if limit > 0 && len(t.Articles) > limit {
		t.Articles = t.Articles[:limit]
	}
	return s.putJSON(keyTimeline, t)
}

// LoadTimeline returns the persisted timeline, or nil when none was saved.
func (s *Store) LoadTimeline() (*Timeline, error) {
	var t Timeline
	ok, err := s.getJSON(keyTimeline, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

func (s *Store) SaveBookmarks(articles []model.Article) error {
	return s.putJSON(keyBookmarks, articles)
}

func (s *Store) LoadBookmarks() ([]model.Article, error) {
	var articles []model.Article
	if _, err := s.getJSON(keyBookmarks, &articles); err != nil {
		return nil, err
	}
	return articles, nil
}

func (s *Store) SaveCollections(c Collections) error {
	return s.putJSON(keyCollections, c)
}

// LoadCollections returns the persisted collections, or nil when none were
// saved.
func (s *Store) LoadCollections() (*Collections, error) {
	var c Collections
	ok, err := s.getJSON(keyCollections, &c)
	if err != nil || !ok {
		return nil, err
	}
	return &c, nil
}

func (s *Store) SaveSyncCursor(cursor string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put(keySyncCursor, []byte(cursor))
	})
}

func (s *Store) LoadSyncCursor() (string, error) {
	var cursor string
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(stateBucket).Get(keySyncCursor); data != nil {
			cursor = string(data)
		}
		return nil
	})
	return cursor, err
}

func (s *Store) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(stateBucket).Put(key, data)
	})
}

func (s *Store) getJSON(key []byte, v any) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(stateBucket).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	if err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return found, nil
}
