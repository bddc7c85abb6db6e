package gateway

import (
	"bufio"
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

// Event is one message on the bulk-refresh progress stream. The vocabulary
// is closed: Start, FeedRefreshing, FeedComplete, FeedError, Complete.
type Event interface {
	refreshEvent()
}

// StartEvent opens the stream and announces how many feeds it covers.
type StartEvent struct {
	Total int `json:"total"`
}

// FeedRefreshingEvent announces that a feed's fetch has begun.
type FeedRefreshingEvent struct {
	FeedID int64  `json:"id"`
	Title  string `json:"title"`
}

// FeedCompleteEvent carries the per-feed outcome: how many new articles
// landed, the next scheduled fetch, and an optional metadata correction
// discovered during the fetch.
type FeedCompleteEvent struct {
	FeedID      int64           `json:"id"`
	Title       string          `json:"title"`
	NewCount    int             `json:"new_count"`
	NextFetchAt *time.Time      `json:"next_fetch_at"`
	FeedMeta    *model.FeedMeta `json:"feed_meta,omitempty"`
}

// FeedErrorEvent reports a per-feed failure; the refresh keeps going.
type FeedErrorEvent struct {
	FeedID  int64  `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// RefreshStats summarizes a finished bulk refresh.
type RefreshStats struct {
	Refreshed   int `json:"refreshed"`
	Errors      int `json:"errors"`
	NewArticles int `json:"new_articles"`
}

// CompleteEvent terminates the stream.
type CompleteEvent struct {
	Stats RefreshStats `json:"stats"`
}

func (StartEvent) refreshEvent()          {}
func (FeedRefreshingEvent) refreshEvent() {}
func (FeedCompleteEvent) refreshEvent()   {}
func (FeedErrorEvent) refreshEvent()      {}
func (CompleteEvent) refreshEvent()       {}

// EventStream yields refresh events until io.EOF. Implemented by
// RefreshStream; faked in tests.
type EventStream interface {
	Next() (Event, error)
	Close() error
}

// RefreshStream reads the server-sent event stream of a bulk refresh.
type RefreshStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// RefreshStream opens a progress stream scoped to ids, or to all feeds when
// ids is empty. The stream is canceled through ctx.
func (c *Client) RefreshStream(ctx context.Context, ids []int64) (*RefreshStream, error) {
	q := url.Values{}
	if len(ids) > 0 {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = strconv.FormatInt(id, 10)
		}
		q.Set("ids", strings.Join(parts, ","))
	}

	endpoint := c.baseURL + "/feeds-stream/refresh-multiple"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The stream outlives the client's request timeout; rely on ctx for
	// cancellation instead.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, networkError(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, statusError(resp, readErrorMessage(resp.Body))
	}

	return &RefreshStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
	}, nil
}

// Next returns the next event, or io.EOF when the stream ends. Unrecognized
// event names are skipped so vocabulary additions don't break old clients.
func (s *RefreshStream) Next() (Event, error) {
	var eventName string
	var data strings.Builder

	for s.scanner.Scan() {
		line := s.scanner.Text()

		switch {
		case line == "":
			// Blank line terminates one SSE message.
			if eventName == "" && data.Len() == 0 {
				continue
			}
			ev, err := decodeEvent(eventName, data.String())
			if err != nil {
				return nil, err
			}
			if ev == nil {
				eventName = ""
				data.Reset()
				continue
			}
			return ev, nil
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			// Continuation data lines join with a newline, per SSE framing.
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		}
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading refresh stream: %w", err)
	}

	// Stream ended mid-message or cleanly; either way callers see EOF and
	// the orchestrator's final reconciliation covers a truncated stream.
	return nil, io.EOF
}

func (s *RefreshStream) Close() error {
	return s.body.Close()
}

func decodeEvent(name, data string) (Event, error) {
	unmarshal := func(v any) error {
		if data == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return fmt.Errorf("decoding %s event: %w", name, err)
		}
		return nil
	}

	switch name {
	case "start":
		var ev StartEvent
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case "feed_refreshing":
		var ev FeedRefreshingEvent
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case "feed_complete":
		var ev FeedCompleteEvent
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case "feed_error":
		var ev FeedErrorEvent
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case "complete":
		var ev CompleteEvent
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, nil
	}
}
