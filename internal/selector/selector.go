// Package selector turns scored offers into the bounded, deduplicated and
// category-diversified daily shortlist.
package selector

import (
	"sort"

	"go.uber.org/zap"

	"github.com/TobiSchelling/offerpilot/internal/offer"
)

type Config struct {
	MaxItems              int
	MaxPerCategory        int
	MinDistinctCategories int
	PromoWords            []string
}

// Result is the selection set plus diagnostics.
type Result struct {
	Items       []offer.ScoredOffer
	CappedCount int // size after the capped pass
	Backfilled  int
	Categories  map[string]int
}

// Select ranks offers by score (ingestion order breaks ties) and fills the
// shortlist in two passes. The capped pass honours the per-category cap and,
// while fewer than MinDistinctCategories categories are represented, keeps the
// remaining slots for categories not yet seen. The backfill pass first takes
// offers still under the cap, then ignores the cap to reach MaxItems. Title dedup holds in both passes.
func Select(cfg Config, scored []offer.ScoredOffer) Result {
	ranked := Rank(scored)
	titles := offer.NewTitleMatcher(cfg.PromoWords)

	res := Result{Categories: make(map[string]int)}
	usedTitle := make(map[string]bool)
	taken := make([]bool, len(ranked))

	take := func(i int) {
		so := ranked[i]
		taken[i] = true
		usedTitle[titles.DedupKey(so.Offer)] = true
		res.Categories[so.CategoryKey()]++
		res.Items = append(res.Items, so)
	}
	full := func() bool { return cfg.MaxItems > 0 && len(res.Items) >= cfg.MaxItems }
	available := func(i int) bool {
		return !taken[i] && !usedTitle[titles.DedupKey(ranked[i].Offer)]
	}

	// Only categories holding the first offer of some title key can ever be
	// represented; the others lose every offer to dedup.
	reachable := make(map[string]bool)
	seenTitle := make(map[string]bool)
	for _, so := range ranked {
		key := titles.DedupKey(so.Offer)
		if seenTitle[key] {
			continue
		}
		seenTitle[key] = true
		reachable[so.CategoryKey()] = true
	}
	targetCats := min(cfg.MinDistinctCategories, len(reachable))

	for i, so := range ranked {
		if full() {
			break
		}
		if !available(i) {
			continue
		}
		cat := so.CategoryKey()
		if cfg.MaxPerCategory > 0 && res.Categories[cat] >= cfg.MaxPerCategory {
			continue
		}
		if res.Categories[cat] > 0 && cfg.MaxItems > 0 {
			missing := targetCats - len(res.Categories)
			if missing > 0 && cfg.MaxItems-len(res.Items) <= missing {
				continue
			}
		}
		take(i)
	}
	res.CappedCount = len(res.Items)

	underCap := func(i int) bool {
		return cfg.MaxPerCategory <= 0 || res.Categories[ranked[i].CategoryKey()] < cfg.MaxPerCategory
	}
	for _, capped := range []bool{true, false} {
		for i := range ranked {
			if full() {
				break
			}
			if available(i) && (!capped || underCap(i)) {
				take(i)
			}
		}
	}
	res.Backfilled = len(res.Items) - res.CappedCount

	zap.L().Info("selection done",
		zap.Int("candidates", len(scored)),
		zap.Int("capped", res.CappedCount),
		zap.Int("backfilled", res.Backfilled),
		zap.Int("categories", len(res.Categories)))
	return res
}

// Rank returns a copy sorted by score descending, ties broken by ingestion
// order.
func Rank(scored []offer.ScoredOffer) []offer.ScoredOffer {
	ranked := append([]offer.ScoredOffer(nil), scored...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Seq < ranked[j].Seq
	})
	return ranked
}
