package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = `event: start
data: {"total":3}

event: feed_refreshing
data: {"id":1,"title":"Go Blog"}

event: feed_complete
data: {"id":1,"title":"Go Blog","new_count":2,"next_fetch_at":"2025-06-01T13:00:00Z","feed_meta":{"title":"The Go Blog"}}

event: feed_error
data: {"id":2,"title":"Broken Feed","message":"fetch timed out"}

: keep-alive

event: wobble
data: {"unknown":true}

event: complete
data: {"stats":{"refreshed":2,"errors":1,"new_articles":2}}

`

func serveStream(t *testing.T, body string) *RefreshStream {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, 5*time.Second, "feedsync-test/1.0")
	stream, err := client.RefreshStream(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { stream.Close() })
	return stream
}

func TestRefreshStream_EventSequence(t *testing.T) {
	stream := serveStream(t, sampleStream)

	ev, err := stream.Next()
	require.NoError(t, err)
	start, ok := ev.(StartEvent)
	require.True(t, ok, "expected StartEvent, got %T", ev)
	assert.Equal(t, 3, start.Total)

	ev, err = stream.Next()
	require.NoError(t, err)
	refreshing, ok := ev.(FeedRefreshingEvent)
	require.True(t, ok, "expected FeedRefreshingEvent, got %T", ev)
	assert.Equal(t, int64(1), refreshing.FeedID)
	assert.Equal(t, "Go Blog", refreshing.Title)

	ev, err = stream.Next()
	require.NoError(t, err)
	complete, ok := ev.(FeedCompleteEvent)
	require.True(t, ok, "expected FeedCompleteEvent, got %T", ev)
	assert.Equal(t, 2, complete.NewCount)
	require.NotNil(t, complete.NextFetchAt)
	require.NotNil(t, complete.FeedMeta)
	assert.Equal(t, "The Go Blog", complete.FeedMeta.Title)

	ev, err = stream.Next()
	require.NoError(t, err)
	feedErr, ok := ev.(FeedErrorEvent)
	require.True(t, ok, "expected FeedErrorEvent, got %T", ev)
	assert.Equal(t, "fetch timed out", feedErr.Message)

	// The unknown "wobble" event is skipped; next is complete.
	ev, err = stream.Next()
	require.NoError(t, err)
	done, ok := ev.(CompleteEvent)
	require.True(t, ok, "expected CompleteEvent, got %T", ev)
	assert.Equal(t, 2, done.Stats.Refreshed)
	assert.Equal(t, 1, done.Stats.Errors)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRefreshStream_MultiLineData(t *testing.T) {
	// A payload split across data lines rejoins with newlines between the
	// fragments. Splitting at token boundaries stays valid JSON.
	stream := serveStream(t, "event: start\ndata: {\"total\":\ndata: 7}\n\nevent: complete\ndata: {}\n\n")

	ev, err := stream.Next()
	require.NoError(t, err)
	start, ok := ev.(StartEvent)
	require.True(t, ok, "expected StartEvent, got %T", ev)
	assert.Equal(t, 7, start.Total)
}

func TestRefreshStream_MultiLineDataDoesNotMergeTokens(t *testing.T) {
	// A number split across data lines must not silently concatenate into a
	// different value; the rejoined payload fails to decode instead.
	stream := serveStream(t, "event: start\ndata: {\"total\": 12\ndata: 3}\n\n")

	_, err := stream.Next()
	require.Error(t, err)
}

func TestRefreshStream_TruncatedStreamReturnsEOF(t *testing.T) {
	stream := serveStream(t, "event: start\ndata: {\"total\":5}\n\nevent: feed_refreshing\ndata: {\"id\":1")

	ev, err := stream.Next()
	require.NoError(t, err)
	_, ok := ev.(StartEvent)
	require.True(t, ok)

	// The second message never terminates; the reader surfaces EOF and the
	// orchestrator's final reconciliation takes over.
	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRefreshStream_IDsParameter(t *testing.T) {
	var gotIDs string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIDs = r.URL.Query().Get("ids")
		w.Write([]byte("event: complete\ndata: {}\n\n"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, "feedsync-test/1.0")
	stream, err := client.RefreshStream(context.Background(), []int64{3, 5, 8})
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "3,5,8", gotIDs)
}

func TestRefreshStream_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, "feedsync-test/1.0")
	_, err := client.RefreshStream(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, KindServer, KindOf(err))
}
