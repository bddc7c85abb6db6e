package model

// ArticleFilter scopes the timeline to a feed, folder or feed type, and
// optionally to unread articles only. Nil fields mean "no restriction".
type ArticleFilter struct {
	FeedID     *int64    `json:"feed_id,omitempty"`
	FolderID   *int64    `json:"folder_id,omitempty"`
	Type       *FeedType `json:"type,omitempty"`
	UnreadOnly bool      `json:"unread_only,omitempty"`
}

// Matches reports whether an article belongs in a list filtered by f.
// Folder and type scoping need feed metadata; feedOf resolves a feed id to
// its record. With a nil feedOf those scopes reject, which keeps splices
// conservative until the next full fetch corrects the window.
func (f ArticleFilter) Matches(a Article, feedOf func(int64) (Feed, bool)) bool {
	if f.FeedID != nil && a.FeedID != *f.FeedID {
		return false
	}
	if f.UnreadOnly && a.IsRead {
		return false
	}
	if f.FolderID != nil || f.Type != nil {
		if feedOf == nil {
			return false
		}
		feed, ok := feedOf(a.FeedID)
		if !ok {
			return false
		}
		if f.FolderID != nil && (feed.FolderID == nil || *feed.FolderID != *f.FolderID) {
			return false
		}
		if f.Type != nil && feed.Type != *f.Type {
			return false
		}
	}
	return true
}

// FilterPatch merges into an ArticleFilter. Nil fields are left untouched;
// the Clear flags reset a scope explicitly.
type FilterPatch struct {
	FeedID      *int64
	FolderID    *int64
	Type        *FeedType
	UnreadOnly  *bool
	ClearFeed   bool
	ClearFolder bool
	ClearType   bool
}

func (p FilterPatch) Apply(f ArticleFilter) ArticleFilter {
	if p.ClearFeed {
		f.FeedID = nil
	}
	if p.ClearFolder {
		f.FolderID = nil
	}
	if p.ClearType {
		f.Type = nil
	}
	if p.FeedID != nil {
		v := *p.FeedID
		f.FeedID = &v
	}
	if p.FolderID != nil {
		v := *p.FolderID
		f.FolderID = &v
	}
	if p.Type != nil {
		v := *p.Type
		f.Type = &v
	}
	if p.UnreadOnly != nil {
		f.UnreadOnly = *p.UnreadOnly
	}
	return f
}
