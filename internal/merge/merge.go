// Package merge holds the pure reconciliation primitives for article lists:
// a composite sort key, dedup by id, and the three merge strategies used by
// the timeline (reset, paginate, live-prepend). All functions are
// side-effect-free and idempotent; applying the same page twice produces the
// same result.
package merge

import (
	"sort"

	"github.com/greg-hass/feedsync/internal/model"
)

// SortKey returns the composite timeline ordering key for an article:
// publish time in unix seconds (zero when unknown) and the article id.
func SortKey(a model.Article) (int64, int64) {
	var ts int64
	if a.PublishedAt != nil {
		ts = a.PublishedAt.Unix()
	}
	return ts, a.ID
}

// Newer reports whether a sorts strictly before b in the timeline, i.e.
// published later, ties broken by higher id.
func Newer(a, b model.Article) bool {
	ats, aid := SortKey(a)
	bts, bid := SortKey(b)
	if ats != bts {
		return ats > bts
	}
	return aid > bid
}

// SortTimeline stable-sorts articles into timeline order (newest first).
func SortTimeline(articles []model.Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		return Newer(articles[i], articles[j])
	})
}

// DedupByID collapses records sharing an id, keeping the position of the
// first occurrence and the value of the last (freshest wins).
func DedupByID(records []model.Article) []model.Article {
	pos := make(map[int64]int, len(records))
	out := make([]model.Article, 0, len(records))
	for _, r := range records {
		if i, ok := pos[r.ID]; ok {
			out[i] = r
			continue
		}
		pos[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

// Reset replaces the whole window with the new page. The remote side
// already returns pages in timeline order.
func Reset(page []model.Article) []model.Article {
	out := make([]model.Article, len(page))
	copy(out, page)
	return out
}

// Paginate appends the next page to the existing window. When the page
// shares no ids with the window (the common case, page boundaries are
// disjoint) this is a plain O(n) concatenation; on a collision it falls
// back to dedup plus a full re-sort.
func Paginate(existing, page []model.Article) []model.Article {
	seen := make(map[int64]struct{}, len(existing))
	for _, a := range existing {
		seen[a.ID] = struct{}{}
	}

	collision := false
	for _, a := range page {
		if _, ok := seen[a.ID]; ok {
			collision = true
			break
		}
	}

	union := make([]model.Article, 0, len(existing)+len(page))
	union = append(union, existing...)
	union = append(union, page...)
	if !collision {
		return union
	}

	merged := DedupByID(union)
	SortTimeline(merged)
	return merged
}

// LivePrepend injects only genuinely new records into an existing sorted
// window. Candidates whose id is already present are dropped; if none
// remain the existing slice is returned unchanged. Cost is bounded by the
// window plus the candidate page, not the whole history.
func LivePrepend(existing, candidates []model.Article) []model.Article {
	seen := make(map[int64]struct{}, len(existing))
	for _, a := range existing {
		seen[a.ID] = struct{}{}
	}

	var fresh []model.Article
	for _, a := range candidates {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		fresh = append(fresh, a)
	}
	if len(fresh) == 0 {
		return existing
	}

	merged := make([]model.Article, 0, len(existing)+len(fresh))
	merged = append(merged, existing...)
	merged = append(merged, fresh...)
	merged = DedupByID(merged)
	SortTimeline(merged)
	return merged
}
