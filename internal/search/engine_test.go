package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greg-hass/feedsync/internal/model"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := New("")
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func testArticles() []model.Article {
	return []model.Article{
		{ID: 1, FeedID: 10, Title: "Generics in Go", Summary: "Type parameters explained", URL: "https://blog.example.com/generics"},
		{ID: 2, FeedID: 10, Title: "Error handling patterns", Summary: "Wrapping and unwrapping errors", URL: "https://blog.example.com/errors"},
		{ID: 3, FeedID: 20, Title: "Sourdough basics", Summary: "A starter guide to bread", URL: "https://bake.example.com/sourdough"},
	}
}

func TestIndexAndSearch(t *testing.T) {
	engine := newTestEngine(t)
	engine.IndexArticles(testArticles())

	count, err := engine.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	matches, err := engine.Search("generics", 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, int64(1), matches[0].ArticleID)
	assert.Equal(t, int64(10), matches[0].FeedID)
	assert.Equal(t, "Generics in Go", matches[0].Title)
}

func TestSearch_TitleOutranksSummary(t *testing.T) {
	engine := newTestEngine(t)
	engine.IndexArticles([]model.Article{
		{ID: 1, FeedID: 1, Title: "Kubernetes networking", Summary: "cluster basics"},
		{ID: 2, FeedID: 1, Title: "Weekly roundup", Summary: "mostly about kubernetes"},
	})

	matches, err := engine.Search("kubernetes", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, int64(1), matches[0].ArticleID, "title match should outrank summary match")
}

func TestSearch_ShortQueryReturnsNothing(t *testing.T) {
	engine := newTestEngine(t)
	engine.IndexArticles(testArticles())

	matches, err := engine.Search("g", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestIndexArticles_UpsertsByID(t *testing.T) {
	engine := newTestEngine(t)
	engine.IndexArticles(testArticles())

	updated := testArticles()[0]
	updated.Title = "Generics in Go, revisited"
	engine.IndexArticles([]model.Article{updated})

	count, err := engine.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count, "re-indexing must not duplicate documents")

	matches, err := engine.Search("revisited", 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, int64(1), matches[0].ArticleID)
}

func TestRemoveArticles(t *testing.T) {
	engine := newTestEngine(t)
	engine.IndexArticles(testArticles())

	engine.RemoveArticles([]int64{1, 2})

	count, err := engine.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestRemoveFeed_SpansMultiplePages(t *testing.T) {
	orig := removeFeedPageSize
	removeFeedPageSize = 2
	t.Cleanup(func() { removeFeedPageSize = orig })

	engine := newTestEngine(t)
	articles := make([]model.Article, 0, 6)
	for i := int64(1); i <= 5; i++ {
		articles = append(articles, model.Article{ID: i, FeedID: 10, Title: "Go news", Summary: "weekly"})
	}
	articles = append(articles, model.Article{ID: 6, FeedID: 20, Title: "Sourdough basics", Summary: "bread"})
	engine.IndexArticles(articles)

	engine.RemoveFeed(10)

	count, err := engine.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count, "purge terminates after draining every page")
}

func TestRemoveFeed_PurgesOnlyThatFeed(t *testing.T) {
	engine := newTestEngine(t)
	engine.IndexArticles(testArticles())

	engine.RemoveFeed(10)

	count, err := engine.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	matches, err := engine.Search("sourdough", 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, int64(3), matches[0].ArticleID)
}
