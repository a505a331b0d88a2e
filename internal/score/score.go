// Package score computes the composite desirability score of eligible offers.
package score

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/offerpilot/internal/offer"
)

const (
	discountPctCeiling = 60.0
	discountAbsCeiling = 120.0
	pctShare           = 0.65
	absShare           = 0.35

	ratingFloor   = 4.0
	reviewsCenter = 30.0
	reviewsScale  = 20.0
	soldCenter    = 150.0
	soldScale     = 80.0
	ratingShare   = 0.65
	reviewsShare  = 0.20
	soldShare     = 0.15
	neutral       = 0.5

	decisionBase    = 0.55
	easyBonus       = 0.10
	frictionPenalty = 0.15
)

// Weights are the relative weights of the four sub-scores.
type Weights struct {
	Offer    float64
	Price    float64
	Trust    float64
	Decision float64
}

func (w Weights) sum() float64 {
	return w.Offer + w.Price + w.Trust + w.Decision
}

// Config holds scorer parameters. PriceMin and PriceMax are the bounds the
// gate actually used, which are wider after relaxation.
type Config struct {
	PriceMin  float64
	PriceMax  float64
	IdealLow  float64
	IdealHigh float64
	Weights   Weights
	EasyWords []string
	HardWords []string
}

// Result holds scored offers in input order plus the weights that were
// effectively applied after dropping unavailable signals.
type Result struct {
	Offers    []offer.ScoredOffer
	Effective Weights
	Dropped   []string
}

type Scorer struct {
	cfg  Config
	easy []string
	hard []string
}

func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg, easy: foldAll(cfg.EasyWords), hard: foldAll(cfg.HardWords)}
}

// Score scores every offer. A signal absent from the whole batch has its
// weight dropped and the remaining weights renormalized.
func (s *Scorer) Score(offers []offer.Offer) Result {
	w := s.cfg.Weights
	var dropped []string

	hasDiscount, hasTrust := false, false
	for _, o := range offers {
		if _, ok := o.DiscountSignal(); ok {
			hasDiscount = true
		}
		if o.Rating != nil || o.Reviews != nil || o.Sold != nil {
			hasTrust = true
		}
	}
	if !hasDiscount && w.Offer > 0 {
		w.Offer = 0
		dropped = append(dropped, "offer")
	}
	if !hasTrust && w.Trust > 0 {
		w.Trust = 0
		dropped = append(dropped, "trust")
	}
	total := w.sum()

	out := make([]offer.ScoredOffer, len(offers))
	for i, o := range offers {
		so := offer.ScoredOffer{
			Offer:        o,
			PriceImpulse: s.PriceImpulse(o.Price()),
			OfferValue:   OfferValue(o),
			Trust:        Trust(o),
			DecisionEase: s.DecisionEase(o.Title),
		}
		if total > 0 {
			so.Score = 100 * (w.Offer*so.OfferValue + w.Price*so.PriceImpulse + w.Trust*so.Trust + w.Decision*so.DecisionEase) / total
		}
		out[i] = so
	}

	if len(dropped) > 0 {
		zap.L().Info("score weights renormalized", zap.Strings("dropped", dropped))
	}
	return Result{Offers: out, Effective: w, Dropped: dropped}
}

// PriceImpulse is 0 outside the price bounds, 1 inside the ideal range and
// ramps linearly in between.
func (s *Scorer) PriceImpulse(p float64) float64 {
	c := s.cfg
	switch {
	case p < c.PriceMin || p > c.PriceMax:
		return 0
	case p < c.IdealLow:
		return ramp(p-c.PriceMin, c.IdealLow-c.PriceMin)
	case p > c.IdealHigh:
		return ramp(c.PriceMax-p, c.PriceMax-c.IdealHigh)
	default:
		return 1
	}
}

func ramp(num, den float64) float64 {
	if den <= 0 {
		return 1
	}
	return clamp(num / den)
}

// OfferValue blends the discount percentage and absolute discount, each
// capped at its reference ceiling.
func OfferValue(o offer.Offer) float64 {
	pct, ok := o.DiscountSignal()
	if !ok {
		return 0
	}
	abs, ok := o.DiscountAmount()
	if !ok && o.SalePrice != nil && pct < 100 {
		// Explicit percentage only: recover the amount from the sale price.
		abs = *o.SalePrice * pct / (100 - pct)
	}
	return clamp(pctShare*math.Min(pct/discountPctCeiling, 1) + absShare*math.Min(abs/discountAbsCeiling, 1))
}

// Trust blends rating, review count and units sold. Missing sub-signals
// contribute a neutral 0.5.
func Trust(o offer.Offer) float64 {
	rating, reviews, sold := neutral, neutral, neutral
	if o.Rating != nil {
		rating = clamp(*o.Rating - ratingFloor)
	}
	if o.Reviews != nil {
		reviews = sigmoid((*o.Reviews - reviewsCenter) / reviewsScale)
	}
	if o.Sold != nil {
		sold = sigmoid((*o.Sold - soldCenter) / soldScale)
	}
	return clamp(ratingShare*rating + reviewsShare*reviews + soldShare*sold)
}

// DecisionEase scans the title for easy-decision and friction words.
func (s *Scorer) DecisionEase(title string) float64 {
	t := offer.Fold(title)
	v := decisionBase
	for _, w := range s.easy {
		if strings.Contains(t, w) {
			v += easyBonus
		}
	}
	for _, w := range s.hard {
		if strings.Contains(t, w) {
			v -= frictionPenalty
		}
	}
	return clamp(v)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func foldAll(words []string) []string {
	var out []string
	for _, w := range words {
		if w = offer.Fold(strings.TrimSpace(w)); w != "" {
			out = append(out, w)
		}
	}
	return out
}
