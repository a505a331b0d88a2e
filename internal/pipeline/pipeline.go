package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/TobiSchelling/offerpilot/internal/collect"
	"github.com/TobiSchelling/offerpilot/internal/compose"
	"github.com/TobiSchelling/offerpilot/internal/config"
	"github.com/TobiSchelling/offerpilot/internal/database"
	"github.com/TobiSchelling/offerpilot/internal/gate"
	"github.com/TobiSchelling/offerpilot/internal/ledger"
	"github.com/TobiSchelling/offerpilot/internal/offer"
	"github.com/TobiSchelling/offerpilot/internal/schedule"
	"github.com/TobiSchelling/offerpilot/internal/score"
	"github.com/TobiSchelling/offerpilot/internal/selector"
	"github.com/TobiSchelling/offerpilot/internal/sheet"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Day        string
	DryRun     bool
	Steps      []StepResult
	Plan       *schedule.Plan
	ReportID   string
	AgendaPath string
}

// Err returns the first failed step's error.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return s.Err
		}
	}
	return nil
}

// Shortener creates tracked short links.
type Shortener interface {
	GenerateShortLink(ctx context.Context, originURL string, subIDs []string) (string, error)
}

// Pipeline orchestrates fetch, pick, shorten, plan and export.
type Pipeline struct {
	cfg       *config.Config
	db        *database.DB
	ledger    *ledger.Ledger
	collector *collect.Collector
	shortener Shortener
	composer  *compose.Composer
	blocks    []schedule.Block
	now       func() time.Time
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithCollector replaces the configured sources.
func WithCollector(c *collect.Collector) Option { return func(p *Pipeline) { p.collector = c } }

// WithShortener replaces the short link provider.
func WithShortener(s Shortener) Option { return func(p *Pipeline) { p.shortener = s } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// New creates a pipeline from config. Sources and the shortener come from the
// config unless overridden by options.
func New(cfg *config.Config, db *database.DB, l *ledger.Ledger, opts ...Option) (*Pipeline, error) {
	composer, err := compose.New(ComposeConfig(cfg))
	if err != nil {
		return nil, err
	}
	blocks, err := Blocks(cfg)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:      cfg,
		db:       db,
		ledger:   l,
		composer: composer,
		blocks:   blocks,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.collector == nil {
		affiliate, err := NewAffiliateClient(cfg)
		if err != nil {
			return nil, err
		}
		p.collector = BuildCollector(cfg, affiliate)
		if p.shortener == nil && affiliate != nil {
			p.shortener = affiliate
		}
	}
	return p, nil
}

// Composer returns the caption composer.
func (p *Pipeline) Composer() *compose.Composer { return p.composer }

// Today returns the current schedule day at midnight in the schedule timezone.
func (p *Pipeline) Today() time.Time {
	now := p.now().In(p.cfg.Location())
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// Fetched is the output of the fetch step.
type Fetched struct {
	Records  int
	Offers   []offer.Offer
	Mapping  offer.Mapping
	CentsFix bool
	Enriched int
}

// Fetch collects records, normalizes them and refreshes the catalog. With
// dryRun the catalog is read but not written.
func (p *Pipeline) Fetch(ctx context.Context, dryRun bool) (*Fetched, error) {
	res, err := p.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}
	offers, mapping, fixed := offer.Normalize(offer.DefaultSchema(), res.Records, p.cfg.CentsThreshold())
	if fixed {
		zap.L().Warn("prices looked like cents; divided batch by 100")
	}

	enriched, err := p.enrichFromCatalog(ctx, offers)
	if err != nil {
		return nil, err
	}
	if !dryRun {
		if _, err := p.db.UpsertProducts(ctx, offers, p.now()); err != nil {
			return nil, err
		}
	}
	return &Fetched{Records: len(res.Records), Offers: offers, Mapping: mapping, CentsFix: fixed, Enriched: enriched}, nil
}

// enrichFromCatalog fills gaps from earlier ingestion passes: the highest sale
// price seen becomes the original price when the feed has none, and a stored
// short link or block is reused.
func (p *Pipeline) enrichFromCatalog(ctx context.Context, offers []offer.Offer) (int, error) {
	ids := make([]string, 0, len(offers))
	for _, o := range offers {
		ids = append(ids, o.ProductID)
	}
	known, err := p.db.ProductsByID(ctx, ids)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range offers {
		o := &offers[i]
		prod, ok := known[o.ProductID]
		if !ok {
			continue
		}
		if o.OriginalPrice == nil && o.SalePrice != nil && prod.MaxPrice != nil && *prod.MaxPrice > *o.SalePrice {
			o.OriginalPrice = offer.Float(*prod.MaxPrice)
			n++
		}
		if o.ShortLink == "" {
			o.ShortLink = prod.ShortLink
		}
		if o.Block == "" {
			o.Block = prod.Block
		}
	}
	return n, nil
}

// Picked is the output of the pick step.
type Picked struct {
	Gate      *gate.Result
	Scored    score.Result
	Selection selector.Result
}

// Pick gates, scores and selects.
func (p *Pipeline) Pick(ctx context.Context, offers []offer.Offer) (*Picked, error) {
	g, err := gate.New(GateConfig(p.cfg))
	if err != nil {
		return nil, err
	}
	paused, err := p.db.PausedIDs(ctx)
	if err != nil {
		return nil, err
	}
	in := gate.Input{Offers: offers, Paused: paused, Now: p.now()}
	if p.ledger != nil {
		in.Ledger = p.ledger
	}
	gr, err := g.Run(ctx, in)
	if err != nil {
		return nil, err
	}

	scored := score.New(ScoreConfig(p.cfg, gr.PriceMin, gr.PriceMax)).Score(gr.Eligible)
	sel := selector.Select(SelectorConfig(p.cfg), scored.Offers)
	zap.L().Info("picked",
		zap.String("pass", string(gr.Pass)),
		zap.Int("eligible", len(gr.Eligible)),
		zap.Int("selected", len(sel.Items)),
		zap.Int("backfilled", sel.Backfilled),
		zap.Strings("dropped_weights", scored.Dropped),
	)
	return &Picked{Gate: gr, Scored: scored, Selection: sel}, nil
}

// Shorten fills missing short links through the shortener and checks the
// share of items with a usable link. Without a shortener the product link
// counts as usable. With dryRun no links are requested.
func (p *Pipeline) Shorten(ctx context.Context, items []offer.ScoredOffer, dryRun bool) (float64, error) {
	if len(items) == 0 {
		return 1, nil
	}
	ok := 0
	for i := range items {
		it := &items[i]
		if it.ShortLink == "" && p.shortener != nil && !dryRun && it.ProductLink != "" {
			link, err := p.shortener.GenerateShortLink(ctx, it.ProductLink, p.cfg.ShortLinks.SubIDs)
			if err != nil {
				zap.L().Warn("short link failed", zap.String("product_id", it.ProductID), zap.Error(err))
			} else {
				it.ShortLink = link
				if err := p.db.SetShortLink(ctx, it.ProductID, link); err != nil {
					return 0, err
				}
			}
		}
		if it.ShortLink != "" || (p.shortener == nil && it.ProductLink != "") {
			ok++
		}
	}
	coverage := float64(ok) / float64(len(items))
	if !dryRun && coverage < p.cfg.ShortLinks.MinCoverage {
		return coverage, eris.Errorf("pipeline: short link coverage %.0f%% below minimum %.0f%%",
			coverage*100, p.cfg.ShortLinks.MinCoverage*100)
	}
	return coverage, nil
}

// Plan builds the day's schedule from the selection, skipping products
// already sent that day, and composes every caption.
func (p *Pipeline) Plan(ctx context.Context, day time.Time, items []offer.ScoredOffer) (schedule.Plan, []database.SelectionRow, error) {
	used := map[string]bool{}
	if p.ledger != nil {
		sent, err := p.ledger.SentToday(ctx, day)
		if err != nil {
			return schedule.Plan{}, nil, err
		}
		used = sent
	}
	plan := schedule.Build(day, p.blocks, schedule.Partition(items, p.blocks), used)

	rows := make([]database.SelectionRow, len(plan.Entries))
	for i, e := range plan.Entries {
		row := database.SelectionRow{
			Day:      plan.Day,
			Position: i,
			SlotTime: e.Time.Format("15:04"),
			Block:    e.Block,
			Valid:    e.Valid,
			Reason:   e.Reason,
		}
		if e.Offer != nil {
			caption, err := p.composer.Caption(e.Offer.Offer)
			if err != nil {
				return schedule.Plan{}, nil, err
			}
			row.ProductID = e.Offer.ProductID
			row.Score = e.Offer.Score
			row.Caption = caption
		}
		rows[i] = row
	}
	return plan, rows, nil
}

// Export writes the agenda as XLSX and CSV into the data directory and
// returns the XLSX path.
func (p *Pipeline) Export(plan schedule.Plan, rows []database.SelectionRow) (string, error) {
	agenda := make([]sheet.AgendaRow, len(rows))
	for i, r := range rows {
		a := sheet.AgendaRow{
			Time:      r.SlotTime,
			Block:     r.Block,
			ProductID: r.ProductID,
			Valid:     r.Valid,
			Reason:    r.Reason,
			Message:   r.Caption,
		}
		if e := plan.Entries[i]; e.Offer != nil {
			a.Title = e.Offer.Title
			a.Link = e.Offer.Link()
			a.ImageURL = e.Offer.ImageURL
			if e.Offer.SalePrice != nil {
				a.Price = fmt.Sprintf("%.2f", *e.Offer.SalePrice)
			}
		}
		agenda[i] = a
	}

	base := filepath.Join(p.cfg.GetDataDir(), "agenda_"+plan.Day)
	if err := sheet.WriteAgendaXLSX(base+".xlsx", agenda); err != nil {
		return "", err
	}
	if err := sheet.WriteAgendaCSV(base+".csv", agenda); err != nil {
		return "", err
	}
	return base + ".xlsx", nil
}

// Run executes fetch, pick, shorten, plan and export for today. With dryRun
// nothing is written and no short links are requested.
func (p *Pipeline) Run(ctx context.Context, dryRun bool) *Result {
	day := p.Today()
	r := &Result{Day: day.Format("2006-01-02"), DryRun: dryRun}
	prefix := ""
	if dryRun {
		prefix = "[dry-run] "
	}

	zap.L().Info("step 1/5: fetching offers")
	fetched, err := p.Fetch(ctx, dryRun)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Fetch", Err: err})
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name: "Fetch",
		Summary: fmt.Sprintf("%s%d records, %d offers, %d prices enriched, cents fix %v",
			prefix, fetched.Records, len(fetched.Offers), fetched.Enriched, fetched.CentsFix),
	})

	zap.L().Info("step 2/5: picking offers")
	picked, err := p.Pick(ctx, fetched.Offers)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Pick", Err: err})
		return r
	}
	gr := picked.Gate
	r.Steps = append(r.Steps, StepResult{
		Name: "Pick",
		Summary: fmt.Sprintf("%s%d eligible (%s pass), %d selected; funnel %s",
			prefix, len(gr.Eligible), gr.Pass, len(picked.Selection.Items), gr.Funnel()),
	})

	zap.L().Info("step 3/5: short links")
	items := picked.Selection.Items
	coverage, err := p.Shorten(ctx, items, dryRun)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Shorten", Err: err})
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Shorten",
		Summary: fmt.Sprintf("%sshort link coverage %.0f%%", prefix, coverage*100),
	})

	zap.L().Info("step 4/5: planning")
	plan, rows, err := p.Plan(ctx, day, items)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Plan", Err: err})
		return r
	}
	r.Plan = &plan
	r.Steps = append(r.Steps, StepResult{
		Name:    "Plan",
		Summary: fmt.Sprintf("%s%d of %d slots filled", prefix, plan.ValidCount(), len(plan.Entries)),
	})

	if dryRun {
		r.Steps = append(r.Steps, StepResult{Name: "Export", Summary: prefix + "nothing written"})
		return r
	}

	zap.L().Info("step 5/5: saving and exporting")
	if err := p.db.ReplaceSelection(ctx, r.Day, rows); err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Export", Err: err})
		return r
	}
	path, err := p.Export(plan, rows)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Export", Err: err})
		return r
	}
	r.AgendaPath = path

	report := database.RunReport{
		Day:        r.Day,
		Pass:       string(gr.Pass),
		Fetched:    len(fetched.Offers),
		Eligible:   len(gr.Eligible),
		Selected:   len(items),
		Planned:    plan.ValidCount(),
		RatingGate: gr.RatingGate,
	}
	for _, s := range gr.Funnel() {
		report.Funnel = append(report.Funnel, database.FunnelStage{Name: s.Name, Count: s.Count})
	}
	id, err := p.db.InsertRunReport(ctx, report)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Export", Err: err})
		return r
	}
	r.ReportID = id
	r.Steps = append(r.Steps, StepResult{
		Name:    "Export",
		Summary: fmt.Sprintf("agenda written to %s (run %s)", path, id),
	})
	return r
}
