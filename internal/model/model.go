package model

import (
	"time"
)

// FeedType identifies the source kind of a feed.
type FeedType string

const (
	FeedTypeRSS     FeedType = "rss"
	FeedTypeYouTube FeedType = "youtube"
	FeedTypeReddit  FeedType = "reddit"
	FeedTypePodcast FeedType = "podcast"
)

type Feed struct {
	ID              int64      `json:"id"`
	FolderID        *int64     `json:"folder_id,omitempty"`
	Type            FeedType   `json:"type"`
	Title           string     `json:"title"`
	URL             string     `json:"url"`
	IconURL         string     `json:"icon_url,omitempty"`
	UnreadCount     int        `json:"unread_count"`
	RefreshInterval int        `json:"refresh_interval"` // minutes between fetches
	LastFetchedAt   *time.Time `json:"last_fetched_at"`
	NextFetchAt     *time.Time `json:"next_fetch_at"`
	ErrorCount      int        `json:"error_count"`
	LastError       string     `json:"last_error,omitempty"`
	PausedAt        *time.Time `json:"paused_at,omitempty"`
}

// Folder counts are derived server-side and refreshed by full fetches,
// they are not maintained incrementally.
type Folder struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Position    int    `json:"position"`
	FeedCount   int    `json:"feed_count"`
	UnreadCount int    `json:"unread_count"`
}

// SmartFolder is a server-derived virtual folder (e.g. "All YouTube").
type SmartFolder struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        FeedType `json:"type,omitempty"`
	UnreadCount int      `json:"unread_count"`
}

type Article struct {
	ID           int64      `json:"id"`
	FeedID       int64      `json:"feed_id"`
	FeedTitle    string     `json:"feed_title,omitempty"`
	FeedIconURL  string     `json:"feed_icon_url,omitempty"`
	FeedType     FeedType   `json:"feed_type,omitempty"`
	Title        string     `json:"title"`
	URL          string     `json:"url,omitempty"`
	Summary      string     `json:"summary"`
	PublishedAt  *time.Time `json:"published_at"`
	IsRead       bool       `json:"is_read"`
	IsBookmarked bool       `json:"is_bookmarked"`
	HasAudio     bool       `json:"has_audio"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	HeroImageURL string     `json:"hero_image_url,omitempty"`
}

// ArticleDetail is an Article hydrated with its full body. Fetched lazily
// and held only in the content cache, never persisted.
type ArticleDetail struct {
	Article
	Content            string `json:"content"`
	ReadabilityContent string `json:"readability_content,omitempty"`
}

// FeedMeta is a partial feed-metadata patch discovered during a refresh or
// edit. Empty fields mean "unchanged".
type FeedMeta struct {
	Title   string   `json:"title,omitempty"`
	IconURL string   `json:"icon_url,omitempty"`
	Type    FeedType `json:"type,omitempty"`
}

type FeedChanges struct {
	Created []Feed  `json:"created,omitempty"`
	Updated []Feed  `json:"updated,omitempty"`
	Deleted []int64 `json:"deleted,omitempty"`
}

type FolderChanges struct {
	Created []Folder `json:"created,omitempty"`
	Updated []Folder `json:"updated,omitempty"`
	Deleted []int64  `json:"deleted,omitempty"`
}

type ArticleChanges struct {
	Created []Article `json:"created,omitempty"`
	Updated []Article `json:"updated,omitempty"`
	Deleted []int64   `json:"deleted,omitempty"`
}

type ReadStateDelta struct {
	Read   []int64 `json:"read,omitempty"`
	Unread []int64 `json:"unread,omitempty"`
}

// ChangeSet is the per-entity delta returned by a sync pull.
type ChangeSet struct {
	Feeds     *FeedChanges    `json:"feeds,omitempty"`
	Folders   *FolderChanges  `json:"folders,omitempty"`
	Articles  *ArticleChanges `json:"articles,omitempty"`
	ReadState *ReadStateDelta `json:"read_state,omitempty"`
}
