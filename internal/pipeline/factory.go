package pipeline

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/TobiSchelling/offerpilot/internal/collect"
	"github.com/TobiSchelling/offerpilot/internal/compose"
	"github.com/TobiSchelling/offerpilot/internal/config"
	"github.com/TobiSchelling/offerpilot/internal/database"
	"github.com/TobiSchelling/offerpilot/internal/dispatch"
	"github.com/TobiSchelling/offerpilot/internal/gate"
	"github.com/TobiSchelling/offerpilot/internal/ledger"
	"github.com/TobiSchelling/offerpilot/internal/lock"
	"github.com/TobiSchelling/offerpilot/internal/media"
	"github.com/TobiSchelling/offerpilot/internal/schedule"
	"github.com/TobiSchelling/offerpilot/internal/score"
	"github.com/TobiSchelling/offerpilot/internal/selector"
	"github.com/TobiSchelling/offerpilot/internal/sheet"
	"github.com/TobiSchelling/offerpilot/internal/sink"
)

// GateConfig maps the gate section.
func GateConfig(cfg *config.Config) gate.Config {
	g := cfg.Gate
	return gate.Config{
		PriceMin:            g.PriceMin,
		PriceMax:            g.PriceMax,
		MinRating:           g.MinRating,
		RatingCoverageMin:   g.RatingCoverageMin,
		MinDiscountPct:      g.MinDiscountPct,
		MinDiscountAbs:      g.MinDiscountAbs,
		BannedTerms:         g.BannedTerms,
		LowAppealRegex:      g.LowAppealRegex,
		AllowedCategories:   g.AllowedCategories,
		MinItemsBeforeRelax: g.MinItemsBeforeRelax,
		RelaxPriceMinFactor: g.RelaxPriceMinFactor,
		RelaxPriceMaxFactor: g.RelaxPriceMaxFactor,
		RelaxRatingDrop:     g.RelaxRatingDrop,
	}
}

// ScoreConfig maps the score section. The price bounds are the ones the gate
// ended up using.
func ScoreConfig(cfg *config.Config, priceMin, priceMax float64) score.Config {
	s := cfg.Score
	return score.Config{
		PriceMin:  priceMin,
		PriceMax:  priceMax,
		IdealLow:  s.IdealLow,
		IdealHigh: s.IdealHigh,
		Weights: score.Weights{
			Offer:    s.Weights.Offer,
			Price:    s.Weights.Price,
			Trust:    s.Weights.Trust,
			Decision: s.Weights.Decision,
		},
		EasyWords: s.EasyWords,
		HardWords: s.HardWords,
	}
}

// SelectorConfig maps the selection section.
func SelectorConfig(cfg *config.Config) selector.Config {
	return selector.Config{
		MaxItems:              cfg.Selection.MaxItems,
		MaxPerCategory:        cfg.Selection.MaxPerCategory,
		MinDistinctCategories: cfg.Selection.MinDistinctCategories,
		PromoWords:            cfg.Normalize.PromoWords,
	}
}

// ComposeConfig maps the compose section.
func ComposeConfig(cfg *config.Config) compose.Config {
	return compose.Config{
		Locale:      cfg.Compose.Locale,
		Currency:    cfg.Compose.Currency,
		CTAVariants: cfg.Compose.CTAVariants,
		Templates:   cfg.Compose.Templates,
	}
}

// Blocks parses the schedule blocks.
func Blocks(cfg *config.Config) ([]schedule.Block, error) {
	out := make([]schedule.Block, 0, len(cfg.Schedule.Blocks))
	for _, b := range cfg.Schedule.Blocks {
		blk, err := schedule.NewBlock(b.ID, b.Start, b.End, b.Quota)
		if err != nil {
			return nil, err
		}
		out = append(out, blk)
	}
	return out, nil
}

// DispatchConfig maps the dispatch section.
func DispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	start, err := schedule.ParseClock(d.WindowStart)
	if err != nil {
		return dispatch.Config{}, err
	}
	end, err := schedule.ParseClock(d.WindowEnd)
	if err != nil {
		return dispatch.Config{}, err
	}
	dc := dispatch.Config{
		WindowStart:     start,
		WindowEnd:       end,
		IntervalMinutes: d.IntervalMinutes,
		JitterSeconds:   d.JitterSeconds,
		DailySends:      d.DailySends,
		TestMode:        d.TestMode,
		Location:        cfg.Location(),
	}
	return dc, dc.Validate()
}

// NewAffiliateClient builds the affiliate client, or nil when disabled.
func NewAffiliateClient(cfg *config.Config) (*collect.AffiliateClient, error) {
	a := cfg.Sources.Affiliate
	if !a.Enabled {
		return nil, nil
	}
	appID, secret := a.Credentials()
	return collect.NewAffiliateClient(collect.AffiliateOptions{
		Endpoint:          a.Endpoint,
		AppID:             appID,
		Secret:            secret,
		Keywords:          a.Keywords,
		SortType:          a.SortType,
		Limit:             a.Limit,
		MaxPages:          a.MaxPages,
		RequestsPerSecond: a.RequestsPerSecond,
		Timeout:           config.Duration(a.Timeout),
	})
}

// BuildCollector wires every configured source: spreadsheet files, product
// feeds and the affiliate API.
func BuildCollector(cfg *config.Config, affiliate *collect.AffiliateClient) *collect.Collector {
	var sources []collect.Source
	if len(cfg.Sources.Files) > 0 {
		sources = append(sources, sheet.FileSource{Paths: cfg.Sources.Files})
	}
	if len(cfg.Sources.Feeds) > 0 {
		feeds := make([]collect.FeedConfig, len(cfg.Sources.Feeds))
		for i, f := range cfg.Sources.Feeds {
			feeds[i] = collect.FeedConfig{URL: f.URL, Name: f.Name}
		}
		sources = append(sources, collect.NewFeedSource(feeds))
	}
	if affiliate != nil {
		sources = append(sources, affiliate)
	}
	return collect.NewCollector(sources...)
}

// NewLocker picks the lock backend. The redis client, if any, is returned so
// the caller can close it.
func NewLocker(cfg *config.Config, db *database.DB) (lock.Locker, *redis.Client) {
	ttl := config.Duration(cfg.Lock.TTL)
	if strings.EqualFold(cfg.Lock.Backend, "redis") && cfg.Lock.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisAddr})
		return lock.NewLocker(client, nil, ttl), client
	}
	return lock.NewLocker(nil, db, ttl), nil
}

// NewLedger builds the cooldown ledger over db.
func NewLedger(cfg *config.Config, db *database.DB, locker lock.Locker) *ledger.Ledger {
	return ledger.New(db, locker, cfg.CooldownDuration(), cfg.Location())
}

// NewSink builds the configured sink. stdout writes to out.
func NewSink(cfg *config.Config, out io.Writer) (sink.Sink, error) {
	switch strings.ToLower(cfg.Dispatch.Sink) {
	case "", "stdout":
		if out == nil {
			out = os.Stdout
		}
		return sink.NewWriter(out), nil
	case "webhook":
		w := cfg.Dispatch.Webhook
		if w.URL == "" {
			return nil, eris.New("pipeline: webhook sink needs dispatch.webhook.url")
		}
		return sink.NewWebhook(w.URL, w.Chat, config.Duration(w.Timeout)), nil
	}
	return nil, eris.Errorf("pipeline: unknown sink %q", cfg.Dispatch.Sink)
}

// NewMediaCache builds the image cache under the data directory.
func NewMediaCache(cfg *config.Config) *media.Cache {
	return media.NewCache(filepath.Join(cfg.GetDataDir(), "images"), cfg.Media.Concurrency, config.Duration(cfg.Media.Timeout))
}
