// Package offer holds the product offer model shared by every pipeline stage,
// together with the field normalizers that turn vendor records into offers.
package offer

import (
	"math"
	"strings"
)

// Record is a raw offer as delivered by a source, keyed by vendor column names.
type Record map[string]string

// Offer is a normalized product listing.
type Offer struct {
	ProductID     string
	Title         string
	SalePrice     *float64
	OriginalPrice *float64
	DiscountPct   *float64 // explicit percentage from the feed, if any
	Rating        *float64
	Reviews       *float64
	Sold          *float64
	Category      string
	ProductLink   string
	ShortLink     string
	ImageURL      string
	Block         string // optional schedule block pinned by the catalog
	Seq           int    // ingestion order, used as the final tie-break
}

// Link returns the short link, falling back to the product link.
func (o Offer) Link() string {
	if s := strings.TrimSpace(o.ShortLink); s != "" {
		return s
	}
	return strings.TrimSpace(o.ProductLink)
}

// Price returns the sale price or 0 when absent.
func (o Offer) Price() float64 {
	if o.SalePrice == nil {
		return 0
	}
	return *o.SalePrice
}

// DiscountAmount returns original minus sale price when the original is higher.
func (o Offer) DiscountAmount() (float64, bool) {
	if o.SalePrice == nil || o.OriginalPrice == nil {
		return 0, false
	}
	if *o.OriginalPrice <= *o.SalePrice {
		return 0, false
	}
	return *o.OriginalPrice - *o.SalePrice, true
}

// Discount returns the derived discount percentage when both prices are known
// and the original is higher than the sale price.
func (o Offer) Discount() (float64, bool) {
	amount, ok := o.DiscountAmount()
	if !ok || *o.OriginalPrice <= 0 {
		return 0, false
	}
	return amount / *o.OriginalPrice * 100, true
}

// DiscountSignal returns the explicit discount percentage if present, else the
// derived one.
func (o Offer) DiscountSignal() (float64, bool) {
	if o.DiscountPct != nil && *o.DiscountPct > 0 {
		return *o.DiscountPct, true
	}
	return o.Discount()
}

// HasDiscountData reports whether any discount signal exists for the offer.
func (o Offer) HasDiscountData() bool {
	if o.DiscountPct != nil {
		return true
	}
	_, ok := o.DiscountAmount()
	return ok || o.OriginalPrice != nil
}

// CategoryKey is the case-insensitive category label used for diversity caps.
// Hierarchical labels keep every level so "Casa > Cozinha" and "Casa > Banho"
// remain distinct.
func (o Offer) CategoryKey() string {
	parts := strings.Split(strings.ToLower(o.Category), ">")
	out := parts[:0]
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " > ")
}

// ScoredOffer is an offer with its sub-scores in [0,1] and composite score in [0,100].
type ScoredOffer struct {
	Offer
	PriceImpulse float64
	OfferValue   float64
	Trust        float64
	DecisionEase float64
	Score        float64
}

// Float returns a pointer to v, or nil when v is not finite.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
