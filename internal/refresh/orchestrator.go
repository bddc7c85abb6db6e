// Package refresh drives bulk feed refreshes over the gateway's progress
// stream, folding per-feed outcomes into the stores as they arrive and
// running a full reconciliation when the stream ends. A new refresh
// supersedes a running one; aborts are never surfaced as errors.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/greg-hass/feedsync/internal/debuglog"
	"github.com/greg-hass/feedsync/internal/gateway"
)

// DefaultDebounce is the quiet period used to coalesce live timeline
// refetches during a burst of feed completions.
const DefaultDebounce = 800 * time.Millisecond

// State describes what the orchestrator is currently doing.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateReconciling
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateReconciling:
		return "reconciling"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Progress is the observable refresh position. Errored feeds count as
// completed so the bar always reaches the end.
type Progress struct {
	Total        int
	Completed    int
	CurrentTitle string
}

// Streamer opens the gateway's bulk-refresh progress stream.
type Streamer interface {
	RefreshStream(ctx context.Context, ids []int64) (gateway.EventStream, error)
}

// ClientStreamer adapts *gateway.Client to Streamer.
type ClientStreamer struct {
	Client *gateway.Client
}

func (c ClientStreamer) RefreshStream(ctx context.Context, ids []int64) (gateway.EventStream, error) {
	return c.Client.RefreshStream(ctx, ids)
}

// FeedApplier folds per-feed outcomes and runs the post-stream collection
// refetch. Implemented by the feed store.
type FeedApplier interface {
	ApplyRefreshComplete(ev gateway.FeedCompleteEvent)
	ApplyRefreshError(ev gateway.FeedErrorEvent)
	Refresh(ctx context.Context) error
}

// TimelineRefresher refetches the article window. Implemented by the
// article store.
type TimelineRefresher interface {
	FetchArticles(ctx context.Context, reset, live bool) error
}

// Syncer advances the incremental sync cursor after a refresh.
type Syncer interface {
	Pull(ctx context.Context) error
}

// Orchestrator owns at most one in-flight refresh. Starting a new one
// cancels the previous; a run id guards every state mutation so a
// superseded run's stragglers (late events, the debounce timer) cannot
// touch current state.
type Orchestrator struct {
	mu sync.Mutex

	streams  Streamer
	feeds    FeedApplier
	timeline TimelineRefresher
	syncer   Syncer // optional

	debounce   time.Duration
	onProgress func(State, Progress) // optional

	state     State
	progress  Progress
	lastStats gateway.RefreshStats

	runID  uint64
	cancel context.CancelFunc

	// Live-refetch coalescing: the first completion with new articles
	// refetches immediately, a burst collapses into one trailing refetch.
	// timerGen invalidates callbacks of timers that were stopped while
	// already firing (Stop cannot interrupt a running callback).
	liveSeen      bool
	livePending   bool
	debounceTimer *time.Timer
	timerGen      uint64
}

func New(streams Streamer, feeds FeedApplier, timeline TimelineRefresher) *Orchestrator {
	return &Orchestrator{
		streams:  streams,
		feeds:    feeds,
		timeline: timeline,
		debounce: DefaultDebounce,
	}
}

// SetSyncer wires the post-refresh sync pull.
func (o *Orchestrator) SetSyncer(s Syncer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.syncer = s
}

// SetDebounce overrides the live-refetch quiet period.
func (o *Orchestrator) SetDebounce(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if d > 0 {
		o.debounce = d
	}
}

// SetProgressFunc registers a callback invoked on every state or progress
// change, from the orchestrator's goroutines.
func (o *Orchestrator) SetProgressFunc(fn func(State, Progress)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onProgress = fn
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// LastStats reports the summary of the most recent completed refresh.
func (o *Orchestrator) LastStats() gateway.RefreshStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastStats
}

// Abort cancels the in-flight refresh, if any. The state reads as aborted
// until the run's teardown settles back to idle.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.state = StateAborted
		o.notifyLocked()
	}
}

// RefreshAll refreshes the given feeds (all feeds when ids is empty),
// blocking until the stream ends and reconciliation finishes. Starting a
// refresh while one is running supersedes it. An aborted or superseded run
// returns nil.
func (o *Orchestrator) RefreshAll(ctx context.Context, ids []int64) error {
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	if o.cancel != nil {
		debuglog.Infof("refresh superseded by a new request")
		o.cancel()
	}
	o.runID++
	runID := o.runID
	o.cancel = cancel
	o.state = StateStreaming
	o.progress = Progress{}
	o.liveSeen = false
	o.livePending = false
	o.stopDebounceLocked()
	o.notifyLocked()
	o.mu.Unlock()

	err := o.run(runCtx, runID, ids)

	o.mu.Lock()
	if runID == o.runID {
		o.state = StateIdle
		o.cancel = nil
		o.stopDebounceLocked()
		o.notifyLocked()
	}
	o.mu.Unlock()
	cancel()

	if err != nil && (errors.Is(err, context.Canceled) || runCtx.Err() != nil) {
		// Aborted or superseded; the winning run owns reconciliation.
		return nil
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, runID uint64, ids []int64) error {
	stream, err := o.streams.RefreshStream(ctx, ids)
	if err != nil {
		return fmt.Errorf("opening refresh stream: %w", err)
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Clean end or truncation; reconciliation covers both.
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			debuglog.Warnf("refresh stream error, reconciling early: %v", err)
			break
		}

		if done := o.handleEvent(ctx, runID, ev); done {
			break
		}
	}

	return o.reconcile(ctx, runID)
}

// handleEvent folds one stream event into the stores and progress, and
// reports whether the stream is finished. Events from a superseded run are
// dropped. Store application happens inside the same guarded critical
// section as the run id check: a superseding run blocks on the lock until
// the in-flight event has fully applied, so once the new run has started no
// stale event can touch the stores. The stores take their own independent
// locks and never call back in, so holding the lock across the call is safe.
func (o *Orchestrator) handleEvent(ctx context.Context, runID uint64, ev gateway.Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if runID != o.runID {
		return true
	}

	switch e := ev.(type) {
	case gateway.StartEvent:
		o.progress.Total = e.Total
		o.notifyLocked()

	case gateway.FeedRefreshingEvent:
		o.progress.CurrentTitle = e.Title
		o.notifyLocked()

	case gateway.FeedCompleteEvent:
		o.progress.Completed++
		o.notifyLocked()
		if e.NewCount > 0 {
			o.noteNewArticlesLocked(ctx, runID)
		}
		o.feeds.ApplyRefreshComplete(e)

	case gateway.FeedErrorEvent:
		o.progress.Completed++
		o.notifyLocked()
		o.feeds.ApplyRefreshError(e)
		debuglog.Debugf("feed %d (%s) failed to refresh: %s", e.FeedID, e.Title, e.Message)

	case gateway.CompleteEvent:
		o.lastStats = e.Stats
		return true
	}
	return false
}

// noteNewArticlesLocked schedules live timeline refetches: the first burst
// member refetches immediately, the rest collapse into a single trailing
// refetch after the quiet period. Caller holds the lock.
func (o *Orchestrator) noteNewArticlesLocked(ctx context.Context, runID uint64) {
	if !o.liveSeen {
		o.liveSeen = true
		go o.liveRefetch(ctx, runID)
		return
	}

	o.livePending = true
	o.stopDebounceLocked()
	gen := o.timerGen
	o.debounceTimer = time.AfterFunc(o.debounce, func() {
		o.mu.Lock()
		if gen != o.timerGen || runID != o.runID || !o.livePending {
			o.mu.Unlock()
			return
		}
		o.livePending = false
		o.debounceTimer = nil
		o.mu.Unlock()
		o.liveRefetch(ctx, runID)
	})
}

// stopDebounceLocked disarms the trailing-refetch timer and invalidates any
// callback of it that is already running. Caller holds the lock.
func (o *Orchestrator) stopDebounceLocked() {
	o.timerGen++
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
		o.debounceTimer = nil
	}
}

func (o *Orchestrator) liveRefetch(ctx context.Context, runID uint64) {
	o.mu.Lock()
	current := runID == o.runID
	o.mu.Unlock()
	if !current || ctx.Err() != nil {
		return
	}

	if err := o.timeline.FetchArticles(ctx, false, true); err != nil {
		debuglog.Debugf("live timeline refetch failed: %v", err)
	}
}

// reconcile runs the authoritative post-stream refetch: collections, a full
// timeline reset, and a sync pull to advance the cursor past the refresh's
// changes.
func (o *Orchestrator) reconcile(ctx context.Context, runID uint64) error {
	o.mu.Lock()
	if runID != o.runID {
		o.mu.Unlock()
		return nil
	}
	o.state = StateReconciling
	o.livePending = false
	o.stopDebounceLocked()
	o.notifyLocked()
	syncer := o.syncer
	o.mu.Unlock()

	if err := o.feeds.Refresh(ctx); err != nil {
		return fmt.Errorf("refetching collections: %w", err)
	}
	if err := o.timeline.FetchArticles(ctx, true, false); err != nil {
		return fmt.Errorf("refetching timeline: %w", err)
	}
	if syncer != nil {
		if err := syncer.Pull(ctx); err != nil {
			debuglog.Warnf("post-refresh sync pull failed: %v", err)
		}
	}
	return nil
}

// notifyLocked invokes the progress callback. Caller holds the lock.
func (o *Orchestrator) notifyLocked() {
	if o.onProgress != nil {
		go o.onProgress(o.state, o.progress)
	}
}
