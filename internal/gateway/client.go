// Package gateway is the typed HTTP client for the remote feed gateway: the
// paginated article list, mutations, feed/folder CRUD, the cursor-based
// incremental sync endpoints, and the bulk-refresh progress stream.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/greg-hass/feedsync/internal/model"
)

type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration, userAgent string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ArticlePage is one page of the filtered timeline.
type ArticlePage struct {
	Articles    []model.Article `json:"articles"`
	NextCursor  string          `json:"next_cursor"`
	TotalUnread int             `json:"total_unread"`
}

// FolderList is the full folder fetch, including server-derived virtual
// folders and the global unread count.
type FolderList struct {
	Folders      []model.Folder      `json:"folders"`
	SmartFolders []model.SmartFolder `json:"smart_folders"`
	TotalUnread  int                 `json:"total_unread"`
}

// SyncResult is one pull of the change stream.
type SyncResult struct {
	Changes    model.ChangeSet `json:"changes"`
	NextCursor string          `json:"next_cursor"`
	ServerTime time.Time       `json:"server_time"`
}

// ReadStateEntry is one locally observed read/unread transition.
type ReadStateEntry struct {
	ArticleID int64 `json:"article_id"`
	IsRead    bool  `json:"is_read"`
}

// MarkReadScope selects which articles a bulk mark-read covers.
type MarkReadScope struct {
	Scope      string          `json:"scope"` // feed | folder | type | all | ids
	ScopeID    *int64          `json:"scope_id,omitempty"`
	Type       *model.FeedType `json:"type,omitempty"`
	ArticleIDs []int64         `json:"article_ids,omitempty"`
}

type CreateFeedRequest struct {
	URL      string         `json:"url"`
	Title    string         `json:"title,omitempty"`
	Type     model.FeedType `json:"type,omitempty"`
	FolderID *int64         `json:"folder_id,omitempty"`
}

type UpdateFeedRequest struct {
	Title           *string `json:"title,omitempty"`
	FolderID        *int64  `json:"folder_id,omitempty"`
	RefreshInterval *int    `json:"refresh_interval,omitempty"`
}

func (c *Client) ListArticles(ctx context.Context, filter model.ArticleFilter, cursor string, limit int) (*ArticlePage, error) {
	q := url.Values{}
	if filter.FeedID != nil {
		q.Set("feed_id", strconv.FormatInt(*filter.FeedID, 10))
	}
	if filter.FolderID != nil {
		q.Set("folder_id", strconv.FormatInt(*filter.FolderID, 10))
	}
	if filter.Type != nil {
		q.Set("type", string(*filter.Type))
	}
	if filter.UnreadOnly {
		q.Set("unread_only", "true")
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var page ArticlePage
	if err := c.do(ctx, http.MethodGet, "/articles", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetArticle(ctx context.Context, id int64) (*model.ArticleDetail, error) {
	var detail model.ArticleDetail
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/articles/%d", id), nil, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (c *Client) MarkRead(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/articles/%d/read", id), nil, nil, nil)
}

func (c *Client) MarkUnread(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/articles/%d/unread", id), nil, nil, nil)
}

func (c *Client) SetBookmark(ctx context.Context, id int64, bookmarked bool) error {
	body := map[string]bool{"bookmarked": bookmarked}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/articles/%d/bookmark", id), nil, body, nil)
}

// MarkAllRead returns the number of articles the server marked.
func (c *Client) MarkAllRead(ctx context.Context, scope MarkReadScope) (int, error) {
	var out struct {
		Marked int `json:"marked"`
	}
	if err := c.do(ctx, http.MethodPost, "/articles/mark-read", nil, scope, &out); err != nil {
		return 0, err
	}
	return out.Marked, nil
}

func (c *Client) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	var out struct {
		Feeds []model.Feed `json:"feeds"`
	}
	if err := c.do(ctx, http.MethodGet, "/feeds", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Feeds, nil
}

func (c *Client) ListFolders(ctx context.Context) (*FolderList, error) {
	var out FolderList
	if err := c.do(ctx, http.MethodGet, "/folders", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateFeed(ctx context.Context, req CreateFeedRequest) (*model.Feed, error) {
	var feed model.Feed
	if err := c.do(ctx, http.MethodPost, "/feeds", nil, req, &feed); err != nil {
		return nil, err
	}
	return &feed, nil
}

func (c *Client) UpdateFeed(ctx context.Context, id int64, req UpdateFeedRequest) (*model.Feed, error) {
	var feed model.Feed
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/feeds/%d", id), nil, req, &feed); err != nil {
		return nil, err
	}
	return &feed, nil
}

func (c *Client) DeleteFeed(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/feeds/%d", id), nil, nil, nil)
}

func (c *Client) PauseFeed(ctx context.Context, id int64) (*model.Feed, error) {
	var feed model.Feed
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/feeds/%d/pause", id), nil, nil, &feed); err != nil {
		return nil, err
	}
	return &feed, nil
}

func (c *Client) ResumeFeed(ctx context.Context, id int64) (*model.Feed, error) {
	var feed model.Feed
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/feeds/%d/resume", id), nil, nil, &feed); err != nil {
		return nil, err
	}
	return &feed, nil
}

func (c *Client) CreateFolder(ctx context.Context, name string) (*model.Folder, error) {
	body := map[string]string{"name": name}
	var folder model.Folder
	if err := c.do(ctx, http.MethodPost, "/folders", nil, body, &folder); err != nil {
		return nil, err
	}
	return &folder, nil
}

func (c *Client) DeleteFolder(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/folders/%d", id), nil, nil, nil)
}

// Sync pulls the change stream from the given cursor. The cursor is opaque;
// an empty cursor asks for a full baseline.
func (c *Client) Sync(ctx context.Context, cursor string) (*SyncResult, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var out SyncResult
	if err := c.do(ctx, http.MethodGet, "/sync", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PushReadState uploads batched read/unread transitions and reports how
// many the server accepted and rejected.
func (c *Client) PushReadState(ctx context.Context, entries []ReadStateEntry) (accepted, rejected int, err error) {
	body := map[string]any{"read_state": entries}
	var out struct {
		ReadState struct {
			Accepted int `json:"accepted"`
			Rejected int `json:"rejected"`
		} `json:"read_state"`
	}
	if err := c.do(ctx, http.MethodPost, "/sync/push", nil, body, &out); err != nil {
		return 0, 0, err
	}
	return out.ReadState.Accepted, out.ReadState.Rejected, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp, readErrorMessage(resp.Body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// readErrorMessage extracts a server-provided message from an error body,
// falling back to the raw text.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no response body"
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(data))
}
