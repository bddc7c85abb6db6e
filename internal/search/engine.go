// Package search maintains a bleve full-text index over the locally
// mirrored article projections, serving offline "find that article" lookups
// without a server round-trip. Indexing is best-effort: failures are logged
// and never block reconciliation.
package search

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	bleveQuery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/greg-hass/feedsync/internal/debuglog"
	"github.com/greg-hass/feedsync/internal/model"
)

type Engine struct {
	idx bleve.Index
}

// Match is one search hit, reconstructed from stored fields.
type Match struct {
	ArticleID int64
	FeedID    int64
	Title     string
	Summary   string
	Score     float64
}

// New creates or opens a bleve index at indexPath. An empty path builds an
// in-memory index (used by tests and ephemeral runs).
func New(indexPath string) (*Engine, error) {
	if indexPath == "" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, err
		}
		return &Engine{idx: idx}, nil
	}

	if mkErr := os.MkdirAll(filepath.Dir(indexPath), 0o755); mkErr != nil {
		// continue; Open/New below will still error and be returned
		_ = mkErr
	}

	idx, err := bleve.Open(indexPath)
	if err != nil {
		idx, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, err
		}
	}
	return &Engine{idx: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	dm := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = standard.Name
	title.Store = true
	title.IncludeTermVectors = true

	summary := bleve.NewTextFieldMapping()
	summary.Analyzer = standard.Name
	summary.Store = true

	url := bleve.NewTextFieldMapping()
	url.Analyzer = standard.Name
	url.Store = true

	feedID := bleve.NewTextFieldMapping()
	feedID.Analyzer = standard.Name
	feedID.Store = true

	dm.AddFieldMappingsAt("title", title)
	dm.AddFieldMappingsAt("summary", summary)
	dm.AddFieldMappingsAt("url", url)
	dm.AddFieldMappingsAt("feed_id", feedID)

	im.DefaultMapping = dm
	return im
}

// IndexArticles upserts the given articles into the index.
func (e *Engine) IndexArticles(articles []model.Article) {
	if len(articles) == 0 {
		return
	}
	batch := e.idx.NewBatch()
	for _, a := range articles {
		err := batch.Index(docID(a.ID), map[string]any{
			"feed_id": strconv.FormatInt(a.FeedID, 10),
			"title":   a.Title,
			"summary": a.Summary,
			"url":     a.URL,
		})
		if err != nil {
			debuglog.Debugf("indexing article %d: %v", a.ID, err)
		}
	}
	if err := e.idx.Batch(batch); err != nil {
		debuglog.Warnf("search index batch failed: %v", err)
	}
}

// RemoveArticles deletes the given article ids from the index.
func (e *Engine) RemoveArticles(ids []int64) {
	for _, id := range ids {
		if err := e.idx.Delete(docID(id)); err != nil {
			debuglog.Debugf("deleting article %d from index: %v", id, err)
		}
	}
}

// removeFeedPageSize bounds how many hits a feed purge deletes per search
// round. Lowered in tests to exercise multi-page removal.
var removeFeedPageSize = 1000

// RemoveFeed deletes every indexed article belonging to the feed, in pages.
// Each round re-queries from the start because deletions shrink the result
// set; a round that deletes nothing stops the loop so a wedged index cannot
// spin it forever.
func (e *Engine) RemoveFeed(feedID int64) {
	tq := bleve.NewTermQuery(strconv.FormatInt(feedID, 10))
	tq.SetField("feed_id")

	size := removeFeedPageSize
	for {
		req := bleve.NewSearchRequestOptions(tq, size, 0, false)
		res, err := e.idx.Search(req)
		if err != nil || res == nil || len(res.Hits) == 0 {
			break
		}
		deleted := 0
		for _, h := range res.Hits {
			if err := e.idx.Delete(h.ID); err != nil {
				debuglog.Debugf("deleting %s from index: %v", h.ID, err)
				continue
			}
			deleted++
		}
		if deleted == 0 || len(res.Hits) < size {
			break
		}
	}
}

// Search runs a boosted disjunction of per-term match and prefix queries
// over title, summary and url.
func (e *Engine) Search(query string, limit int) ([]Match, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []Match{}, nil
	}

	tokens := strings.Fields(strings.TrimSpace(query))
	var qs []bleveQuery.Query
	for _, tok := range tokens {
		qt := bleve.NewMatchQuery(tok)
		qt.SetField("title")
		qt.SetBoost(4.0)
		qs = append(qs, qt)
		qtp := bleve.NewPrefixQuery(strings.ToLower(tok))
		qtp.SetField("title")
		qtp.SetBoost(3.5)
		qs = append(qs, qtp)

		qsm := bleve.NewMatchQuery(tok)
		qsm.SetField("summary")
		qsm.SetBoost(2.0)
		qs = append(qs, qsm)
		qsp := bleve.NewPrefixQuery(strings.ToLower(tok))
		qsp.SetField("summary")
		qsp.SetBoost(1.8)
		qs = append(qs, qsp)

		qu := bleve.NewMatchQuery(tok)
		qu.SetField("url")
		qu.SetBoost(0.5)
		qs = append(qs, qu)
	}

	q := bleve.NewDisjunctionQuery(qs...)
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"title", "summary", "feed_id"}
	res, err := e.idx.Search(req)
	if err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(res.Hits))
	for _, h := range res.Hits {
		m := Match{Score: h.Score}
		m.ArticleID, _ = strconv.ParseInt(h.ID, 10, 64)
		if fid, ok := h.Fields["feed_id"].(string); ok {
			m.FeedID, _ = strconv.ParseInt(fid, 10, 64)
		}
		if title, ok := h.Fields["title"].(string); ok {
			m.Title = title
		}
		if summary, ok := h.Fields["summary"].(string); ok {
			m.Summary = summary
		}
		out = append(out, m)
	}
	return out, nil
}

// DocCount reports total documents in the index.
func (e *Engine) DocCount() (uint64, error) {
	return e.idx.DocCount()
}

func (e *Engine) Close() error {
	return e.idx.Close()
}

func docID(articleID int64) string {
	return strconv.FormatInt(articleID, 10)
}
