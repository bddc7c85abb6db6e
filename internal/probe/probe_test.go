package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greg-hass/feedsync/internal/model"
)

const rssBody = `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Example Blog</title>
    <description>Posts about things</description>
    <item><title>First</title><link>https://example.com/1</link></item>
    <item><title>Second</title><link>https://example.com/2</link></item>
  </channel>
</rss>`

const podcastBody = `<?xml version="1.0"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Example Show</title>
    <itunes:author>Host</itunes:author>
    <item>
      <title>Episode 1</title>
      <enclosure url="https://example.com/ep1.mp3" type="audio/mpeg" length="1"/>
    </item>
  </channel>
</rss>`

func serveFeed(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbe_RSS(t *testing.T) {
	srv := serveFeed(t, rssBody)
	p := New(0, "feedsync-test")

	res, err := p.Probe(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Example Blog", res.Title)
	assert.Equal(t, model.FeedTypeRSS, res.Type)
	assert.Equal(t, "Posts about things", res.Description)
	assert.Equal(t, 2, res.ItemCount)
}

func TestProbe_PodcastByEnclosure(t *testing.T) {
	srv := serveFeed(t, podcastBody)
	p := New(0, "feedsync-test")

	res, err := p.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, model.FeedTypePodcast, res.Type)
}

func TestProbe_RejectsBadURLs(t *testing.T) {
	p := New(0, "feedsync-test")

	cases := []string{
		"ftp://example.com/feed.xml",
		"not a url at all::",
		"https://",
	}
	for _, raw := range cases {
		_, err := p.Probe(context.Background(), raw)
		assert.Error(t, err, "expected rejection for %q", raw)
	}
}

func TestProbe_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	p := New(0, "feedsync-test")
	_, err := p.Probe(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestProbe_NotAFeed(t *testing.T) {
	srv := serveFeed(t, "<html><body>hello</body></html>")
	p := New(0, "feedsync-test")

	_, err := p.Probe(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestDetectType_ByHost(t *testing.T) {
	cases := map[string]model.FeedType{
		"https://www.youtube.com/feeds/videos.xml?channel_id=abc": model.FeedTypeYouTube,
		"https://www.reddit.com/r/golang/.rss":                    model.FeedTypeReddit,
		"https://blog.example.com/feed":                           model.FeedTypeRSS,
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, detectType(u, &gofeed.Feed{}), raw)
	}
}
