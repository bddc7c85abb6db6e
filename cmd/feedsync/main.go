package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/greg-hass/feedsync/internal/config"
	"github.com/greg-hass/feedsync/internal/contentcache"
	"github.com/greg-hass/feedsync/internal/debuglog"
	"github.com/greg-hass/feedsync/internal/gateway"
	"github.com/greg-hass/feedsync/internal/probe"
	"github.com/greg-hass/feedsync/internal/refresh"
	"github.com/greg-hass/feedsync/internal/scheduler"
	"github.com/greg-hass/feedsync/internal/search"
	"github.com/greg-hass/feedsync/internal/snapshot"
	"github.com/greg-hass/feedsync/internal/store"
	"github.com/greg-hass/feedsync/internal/syncer"
)

// Version is the version of the application, set at build time
var Version = "dev"

func main() {
	var (
		configPath     = flag.String("config", "", "Path to configuration file")
		dbPath         = flag.String("db", "", "Path to snapshot database (overrides config)")
		gatewayURL     = flag.String("gateway", "", "Gateway base URL (overrides config)")
		addFeed        = flag.String("add", "", "Probe and subscribe to a feed URL, then exit")
		generateConfig = flag.Bool("generate-config", false, "Generate default config file")
		version        = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("feedsync %s\n", Version)
		fmt.Println("feed reader sync engine")
		fmt.Println("github.com/greg-hass/feedsync")
		return
	}

	if *generateConfig {
		home, _ := os.UserHomeDir()
		configFile := filepath.Join(home, ".config", "feedsync", "config.toml")

		if err := config.GenerateDefaultConfig(configFile); err != nil {
			log.Fatalf("Failed to generate config: %v", err)
		}
		fmt.Printf("Generated default configuration at: %s\n", configFile)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *gatewayURL != "" {
		cfg.Gateway.BaseURL = *gatewayURL
	}

	if err := debuglog.Setup(debuglog.ParseLogLevel(cfg.Log.Level), cfg.Log.Path); err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer debuglog.Close()

	if err := run(cfg, *addFeed); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, addFeedURL string) error {
	client := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout, cfg.Gateway.UserAgent)
	cache := contentcache.New(client, cfg.Cache.Capacity)

	snap, err := snapshot.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	defer snap.Close()

	articles := store.NewArticleStore(client, cache, cfg.Timeline.PageSize)
	feeds := store.NewFeedStore(client, cache)

	articles.SetFeedLookup(feeds.FeedByID)
	articles.SetBulkChangeHook(func(ctx context.Context) {
		if err := feeds.Refresh(ctx); err != nil {
			debuglog.Warnf("collection resync after bulk change failed: %v", err)
		}
	})
	feeds.SetArticleCascade(articles)

	idx, err := search.New(cfg.Database.SearchIndex)
	if err != nil {
		debuglog.Warnf("search index unavailable, continuing without it: %v", err)
	} else {
		defer idx.Close()
		articles.SetSearchIndex(idx)
		feeds.SetSearchIndex(idx)
	}

	sync := syncer.New(client, articles, feeds)
	sync.SetCursorStore(snap)
	sync.SetPushBatch(cfg.Sync.PushBatch)

	orch := refresh.New(refresh.ClientStreamer{Client: client}, feeds, articles)
	orch.SetSyncer(sync)
	orch.SetDebounce(cfg.Refresh.Debounce)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addFeedURL != "" {
		return subscribe(ctx, cfg, feeds, addFeedURL)
	}

	restoreState(snap, articles, feeds, sync)

	// First contact: converge on the server before the schedules take over.
	if err := feeds.Refresh(ctx); err != nil {
		debuglog.Warnf("initial collection fetch failed: %v", err)
	}
	if err := articles.FetchArticles(ctx, true, false); err != nil {
		debuglog.Warnf("initial timeline fetch failed: %v", err)
	}
	if err := sync.Pull(ctx); err != nil {
		debuglog.Warnf("initial sync pull failed: %v", err)
	}

	sched := scheduler.New()
	if err := sched.AddJob("sync", cfg.Sync.Schedule, func() error {
		if err := sync.Pull(context.Background()); err != nil {
			return err
		}
		return sync.Push(context.Background())
	}); err != nil {
		return err
	}
	if err := sched.AddJob("refresh", cfg.Refresh.Schedule, func() error {
		return orch.RefreshAll(context.Background(), nil)
	}); err != nil {
		return err
	}
	sched.Start()

	debuglog.Infof("feedsync running against %s", cfg.Gateway.BaseURL)
	<-ctx.Done()

	debuglog.Infof("shutting down")
	orch.Abort()
	sched.Stop()
	saveState(cfg, snap, articles, feeds, sync)
	return nil
}

// subscribe probes the URL locally and, if it parses as a feed, creates the
// subscription through the gateway.
func subscribe(ctx context.Context, cfg *config.Config, feeds *store.FeedStore, rawURL string) error {
	prober := probe.New(cfg.Gateway.Timeout, cfg.Gateway.UserAgent)
	res, err := prober.Probe(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("probing %s: %w", rawURL, err)
	}

	feed, err := feeds.AddFeed(ctx, gateway.CreateFeedRequest{
		URL:   res.URL,
		Title: res.Title,
		Type:  res.Type,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Subscribed to %q (%s, feed id %d)\n", feed.Title, feed.Type, feed.ID)
	return nil
}

func restoreState(snap *snapshot.Store, articles *store.ArticleStore, feeds *store.FeedStore, sync *syncer.Coordinator) {
	timeline, err := snap.LoadTimeline()
	if err != nil {
		debuglog.Warnf("loading timeline snapshot: %v", err)
	}
	bookmarks, err := snap.LoadBookmarks()
	if err != nil {
		debuglog.Warnf("loading bookmarks snapshot: %v", err)
	}
	articles.RestoreSnapshot(timeline, bookmarks)

	collections, err := snap.LoadCollections()
	if err != nil {
		debuglog.Warnf("loading collections snapshot: %v", err)
	}
	feeds.RestoreSnapshot(collections)

	cursor, err := snap.LoadSyncCursor()
	if err != nil {
		debuglog.Warnf("loading sync cursor: %v", err)
	}
	sync.SetCursor(cursor)
}

func saveState(cfg *config.Config, snap *snapshot.Store, articles *store.ArticleStore, feeds *store.FeedStore, sync *syncer.Coordinator) {
	timeline, bookmarks := articles.SnapshotState()
	if err := snap.SaveTimeline(timeline, cfg.Timeline.SnapshotLimit); err != nil {
		debuglog.Warnf("saving timeline snapshot: %v", err)
	}
	if err := snap.SaveBookmarks(bookmarks); err != nil {
		debuglog.Warnf("saving bookmarks snapshot: %v", err)
	}
	if err := snap.SaveCollections(feeds.SnapshotState()); err != nil {
		debuglog.Warnf("saving collections snapshot: %v", err)
	}
	if err := snap.SaveSyncCursor(sync.Cursor()); err != nil {
		debuglog.Warnf("saving sync cursor: %v", err)
	}
}
