// Package gate applies the hard eligibility filters to normalized offers, with
// a single relaxation pass when too few offers survive.
package gate

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/TobiSchelling/offerpilot/internal/offer"
)

// Reason is a rejection code. Checks run in declaration order and the first
// failing check wins.
type Reason string

const (
	MissingField       Reason = "MISSING_FIELD"
	PriceOutOfRange    Reason = "PRICE_OUT_OF_RANGE"
	LowDiscount        Reason = "LOW_DISCOUNT"
	LowRating          Reason = "LOW_RATING"
	BannedTerm         Reason = "BANNED_TERM"
	LowAppeal          Reason = "LOW_APPEAL"
	CategoryNotAllowed Reason = "CATEGORY_NOT_ALLOWED"
	Paused             Reason = "PAUSED"
	CooldownActive     Reason = "COOLDOWN_ACTIVE"
)

// Pass names which gate run produced the final eligible set.
type Pass string

const (
	Strict  Pass = "strict"
	Relaxed Pass = "relaxed"
)

// Config holds the gate thresholds.
type Config struct {
	PriceMin            float64
	PriceMax            float64
	MinRating           float64
	RatingCoverageMin   float64
	MinDiscountPct      float64
	MinDiscountAbs      float64
	BannedTerms         []string
	LowAppealRegex      string
	AllowedCategories   []string
	RequiredFields      []string // title, link, image, category; defaults to title and link
	MinItemsBeforeRelax int
	RelaxPriceMinFactor float64
	RelaxPriceMaxFactor float64
	RelaxRatingDrop     float64
}

// Ledger answers cooldown questions for a product.
type Ledger interface {
	IsEligible(ctx context.Context, productID string, now time.Time) (bool, error)
}

// Input is one gating run.
type Input struct {
	Offers []offer.Offer
	Paused map[string]bool
	Ledger Ledger // nil disables the cooldown check
	Now    time.Time
}

// Rejection pairs an offer with the check that rejected it.
type Rejection struct {
	Offer  offer.Offer
	Reason Reason
}

// Result is the outcome of Run.
type Result struct {
	Eligible       []offer.Offer
	Rejected       []Rejection
	Pass           Pass
	RatingGate     bool
	RatingCoverage float64
	DiscountGate   bool
	PriceMin       float64
	PriceMax       float64
	MinRating      float64
	Strict         offer.Funnel
	Relaxed        offer.Funnel
}

// Funnel returns the funnel of the pass that produced the result.
func (r *Result) Funnel() offer.Funnel {
	if r.Pass == Relaxed {
		return r.Relaxed
	}
	return r.Strict
}

// Reasons counts rejections per reason code.
func (r *Result) Reasons() map[Reason]int {
	out := make(map[Reason]int)
	for _, rej := range r.Rejected {
		out[rej.Reason]++
	}
	return out
}

// Gate is a compiled, immutable gate configuration.
type Gate struct {
	cfg      Config
	banned   *regexp.Regexp
	appeal   *regexp.Regexp
	required []string
	allowed  []string
}

// New compiles the term lists and patterns in cfg.
func New(cfg Config) (*Gate, error) {
	g := &Gate{cfg: cfg, required: cfg.RequiredFields}
	if len(g.required) == 0 {
		g.required = []string{"title", "link"}
	}

	var alts []string
	for _, term := range cfg.BannedTerms {
		term = offer.Fold(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		words := strings.Fields(term)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		alts = append(alts, strings.Join(words, `\s+`))
	}
	if len(alts) > 0 {
		g.banned = regexp.MustCompile(`(^|[^\p{L}\p{N}])(?:` + strings.Join(alts, "|") + `)($|[^\p{L}\p{N}])`)
	}

	if cfg.LowAppealRegex != "" {
		re, err := regexp.Compile("(?i)" + cfg.LowAppealRegex)
		if err != nil {
			return nil, eris.Wrap(err, "gate: compile low appeal pattern")
		}
		g.appeal = re
	}

	for _, c := range cfg.AllowedCategories {
		if c = offer.Fold(strings.TrimSpace(c)); c != "" {
			g.allowed = append(g.allowed, c)
		}
	}
	return g, nil
}

type bounds struct {
	priceMin, priceMax, minRating float64
}

// batch holds decisions that apply to the whole input.
type batch struct {
	ratingGate   bool
	discountGate bool
	cooldown     map[string]bool
}

// Run gates the input. When fewer than MinItemsBeforeRelax offers survive the
// strict pass it re-runs once with relaxed bounds. Zero survivors after that
// returns *offer.DataQualityError.
func (g *Gate) Run(ctx context.Context, in Input) (*Result, error) {
	log := zap.L().With(zap.String("component", "gate"))

	b := batch{cooldown: make(map[string]bool)}
	rated := 0
	for _, o := range in.Offers {
		if o.Rating != nil {
			rated++
		}
		if o.HasDiscountData() {
			b.discountGate = true
		}
	}
	coverage := 0.0
	if len(in.Offers) > 0 {
		coverage = float64(rated) / float64(len(in.Offers))
	}
	b.ratingGate = coverage >= g.cfg.RatingCoverageMin
	b.discountGate = b.discountGate && (g.cfg.MinDiscountPct > 0 || g.cfg.MinDiscountAbs > 0)

	log.Info("rating gate",
		zap.String("state", onOff(b.ratingGate)),
		zap.Float64("coverage", coverage),
		zap.Float64("coverage_min", g.cfg.RatingCoverageMin))

	strictBounds := bounds{g.cfg.PriceMin, g.cfg.PriceMax, g.cfg.MinRating}
	eligible, rejected, funnel, err := g.pass(ctx, in, b, strictBounds)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Eligible:       eligible,
		Rejected:       rejected,
		Pass:           Strict,
		RatingGate:     b.ratingGate,
		RatingCoverage: coverage,
		DiscountGate:   b.discountGate,
		PriceMin:       strictBounds.priceMin,
		PriceMax:       strictBounds.priceMax,
		MinRating:      strictBounds.minRating,
		Strict:         funnel,
	}
	log.Info("strict pass", zap.Stringer("funnel", funnel))

	if len(eligible) < max(1, g.cfg.MinItemsBeforeRelax) {
		relaxed := bounds{
			priceMin:  g.cfg.PriceMin * g.cfg.RelaxPriceMinFactor,
			priceMax:  g.cfg.PriceMax * g.cfg.RelaxPriceMaxFactor,
			minRating: max(0, g.cfg.MinRating-g.cfg.RelaxRatingDrop),
		}
		eligible, rejected, funnel, err = g.pass(ctx, in, b, relaxed)
		if err != nil {
			return nil, err
		}
		res.Eligible, res.Rejected, res.Relaxed = eligible, rejected, funnel
		res.Pass = Relaxed
		res.PriceMin, res.PriceMax, res.MinRating = relaxed.priceMin, relaxed.priceMax, relaxed.minRating
		log.Info("relaxed pass",
			zap.Stringer("funnel", funnel),
			zap.Float64("price_min", relaxed.priceMin),
			zap.Float64("price_max", relaxed.priceMax),
			zap.Float64("min_rating", relaxed.minRating))
	}

	if len(res.Eligible) == 0 {
		return res, &offer.DataQualityError{Strict: res.Strict, Relaxed: res.Relaxed}
	}
	log.Info("gate done", zap.String("pass", string(res.Pass)), zap.Int("eligible", len(res.Eligible)))
	return res, nil
}

func (g *Gate) pass(ctx context.Context, in Input, b batch, bd bounds) ([]offer.Offer, []Rejection, offer.Funnel, error) {
	stages := []Reason{MissingField, PriceOutOfRange, LowDiscount, LowRating, BannedTerm, LowAppeal, CategoryNotAllowed, Paused, CooldownActive}
	dropped := make(map[Reason]int, len(stages))

	var eligible []offer.Offer
	var rejected []Rejection
	for _, o := range in.Offers {
		reason, err := g.check(ctx, in, b, bd, o)
		if err != nil {
			return nil, nil, nil, err
		}
		if reason != "" {
			dropped[reason]++
			rejected = append(rejected, Rejection{Offer: o, Reason: reason})
			continue
		}
		eligible = append(eligible, o)
	}

	funnel := offer.Funnel{{Name: "start", Count: len(in.Offers)}}
	remaining := len(in.Offers)
	for _, r := range stages {
		remaining -= dropped[r]
		funnel = append(funnel, offer.Stage{Name: stageName(r), Count: remaining})
	}
	return eligible, rejected, funnel, nil
}

func (g *Gate) check(ctx context.Context, in Input, b batch, bd bounds, o offer.Offer) (Reason, error) {
	if g.missing(o) {
		return MissingField, nil
	}
	if o.SalePrice == nil {
		return MissingField, nil
	}
	if p := *o.SalePrice; p < bd.priceMin || p > bd.priceMax {
		return PriceOutOfRange, nil
	}
	if b.discountGate && !g.discountOK(o) {
		return LowDiscount, nil
	}
	if b.ratingGate {
		rating := 0.0
		if o.Rating != nil {
			rating = *o.Rating
		}
		if rating < bd.minRating {
			return LowRating, nil
		}
	}
	if g.banned != nil && g.banned.MatchString(offer.Fold(o.Title)) {
		return BannedTerm, nil
	}
	if g.appeal != nil && g.appeal.MatchString(o.Title) {
		return LowAppeal, nil
	}
	if len(g.allowed) > 0 && !g.categoryAllowed(o) {
		return CategoryNotAllowed, nil
	}
	if in.Paused[o.ProductID] {
		return Paused, nil
	}
	if in.Ledger != nil {
		ok, seen := b.cooldown[o.ProductID]
		if !seen {
			var err error
			ok, err = in.Ledger.IsEligible(ctx, o.ProductID, in.Now)
			if err != nil {
				return "", eris.Wrapf(err, "gate: cooldown lookup for %s", o.ProductID)
			}
			b.cooldown[o.ProductID] = ok
		}
		if !ok {
			return CooldownActive, nil
		}
	}
	return "", nil
}

func (g *Gate) missing(o offer.Offer) bool {
	for _, f := range g.required {
		var v string
		switch f {
		case "title":
			v = o.Title
		case "link":
			v = o.Link()
		case "image":
			v = o.ImageURL
		case "category":
			v = o.Category
		default:
			continue
		}
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

func (g *Gate) discountOK(o offer.Offer) bool {
	if pct, ok := o.DiscountSignal(); ok && g.cfg.MinDiscountPct > 0 && pct >= g.cfg.MinDiscountPct {
		return true
	}
	if abs, ok := o.DiscountAmount(); ok && g.cfg.MinDiscountAbs > 0 && abs >= g.cfg.MinDiscountAbs {
		return true
	}
	return false
}

func (g *Gate) categoryAllowed(o offer.Offer) bool {
	cat := offer.Fold(o.Category)
	for _, a := range g.allowed {
		if strings.Contains(cat, a) {
			return true
		}
	}
	return false
}

func stageName(r Reason) string {
	switch r {
	case MissingField:
		return "required"
	case PriceOutOfRange:
		return "price"
	case LowDiscount:
		return "discount"
	case LowRating:
		return "rating"
	case BannedTerm:
		return "banned"
	case LowAppeal:
		return "appeal"
	case CategoryNotAllowed:
		return "category"
	case Paused:
		return "paused"
	default:
		return "cooldown"
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
