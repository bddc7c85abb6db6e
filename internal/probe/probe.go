// Package probe validates a candidate feed URL before it is submitted to
// the gateway, detecting the source kind and pre-filling the title so the
// add-feed form can be seeded without a server round-trip.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/greg-hass/feedsync/internal/model"
)

const defaultTimeout = 15 * time.Second

// Result is what a successful probe learned about the URL.
type Result struct {
	URL         string
	Title       string
	Type        model.FeedType
	Description string
	ItemCount   int
}

type Prober struct {
	client    *http.Client
	parser    *gofeed.Parser
	userAgent string
}

func New(timeout time.Duration, userAgent string) *Prober {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Prober{
		client:    &http.Client{Timeout: timeout},
		parser:    gofeed.NewParser(),
		userAgent: userAgent,
	}
}

// Probe fetches and parses the URL, rejecting anything that is not a
// well-formed http(s) feed.
func (p *Prober) Probe(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL has no host")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetching %s: status %d", u.Host, resp.StatusCode)
	}

	feed, err := p.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	return &Result{
		URL:         u.String(),
		Title:       strings.TrimSpace(feed.Title),
		Type:        detectType(u, feed),
		Description: strings.TrimSpace(feed.Description),
		ItemCount:   len(feed.Items),
	}, nil
}

// detectType classifies the feed by host first, then by podcast markers.
func detectType(u *url.URL, feed *gofeed.Feed) model.FeedType {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case host == "youtube.com" || host == "youtu.be" || strings.HasSuffix(host, ".youtube.com"):
		return model.FeedTypeYouTube
	case host == "reddit.com" || strings.HasSuffix(host, ".reddit.com"):
		return model.FeedTypeReddit
	}

	if feed.ITunesExt != nil {
		return model.FeedTypePodcast
	}
	for _, item := range feed.Items {
		for _, enc := range item.Enclosures {
			if strings.HasPrefix(enc.Type, "audio/") {
				return model.FeedTypePodcast
			}
		}
	}
	return model.FeedTypeRSS
}
