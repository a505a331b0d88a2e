package offer

import (
	"strconv"
	"strings"
)

// Logical field names produced by a Mapping.
const (
	FieldProductID     = "product_id"
	FieldTitle         = "title"
	FieldSalePrice     = "sale_price"
	FieldOriginalPrice = "original_price"
	FieldDiscountPct   = "discount_pct"
	FieldRating        = "rating"
	FieldReviews       = "reviews"
	FieldSold          = "sold"
	FieldCategory      = "category"
	FieldProductLink   = "product_link"
	FieldShortLink     = "short_link"
	FieldImageURL      = "image_url"
	FieldBlock         = "block"
)

// Rule selects one source column among several candidates.
type Rule int

const (
	// FirstExisting picks the first candidate present in the header.
	FirstExisting Rule = iota
	// HighestCoverage picks the present candidate with the largest share of
	// non-empty trimmed values. Ties go to the earlier candidate.
	HighestCoverage
)

func (r Rule) String() string {
	if r == HighestCoverage {
		return "highest-coverage"
	}
	return "first-existing"
}

// FieldRule declares where a logical field may come from.
type FieldRule struct {
	Field      string
	Candidates []string
	Rule       Rule
}

// Schema is an ordered list of field rules resolved once per ingestion.
type Schema []FieldRule

// DefaultSchema covers the column names seen in affiliate exports, product
// feeds and the operator's control sheet.
func DefaultSchema() Schema {
	return Schema{
		{FieldProductID, []string{"produto_id", "itemid", "item_id", "id", "product_id", "offerid", "offer_id"}, FirstExisting},
		{FieldTitle, []string{"nome_curto", "productName", "offerName", "title", "name", "product_name"}, HighestCoverage},
		{FieldSalePrice, []string{"preco_atual", "sale_price", "final_price", "price", "salePrice", "offer_price", "price_min", "priceMin"}, HighestCoverage},
		{FieldOriginalPrice, []string{"original_price", "regular_price", "list_price", "price_original", "price_max", "priceMax", "originalPrice"}, FirstExisting},
		{FieldDiscountPct, []string{"discount_percentage", "discountPercent", "discount_pct", "discountRate", "discount_rate", "priceDiscountRate"}, FirstExisting},
		{FieldRating, []string{"avaliacao", "rating", "item_rating", "itemRating", "product_rating", "ratingStar"}, FirstExisting},
		{FieldReviews, []string{"reviews", "review_count", "rating_count", "comment_count"}, FirstExisting},
		{FieldSold, []string{"sold", "historical_sold", "total_sold", "sales"}, FirstExisting},
		{FieldCategory, []string{"categoria", "category", "category_name", "categoryName", "global_category1", "product_type"}, HighestCoverage},
		{FieldProductLink, []string{"link_afiliado", "productLink", "offerLink", "originalLink", "product_link", "url", "link"}, HighestCoverage},
		{FieldShortLink, []string{"short_link", "shortLink", "link_curto"}, HighestCoverage},
		{FieldImageURL, []string{"image_link", "imageUrl", "image_url", "img", "cover"}, HighestCoverage},
		{FieldBlock, []string{"geracao", "block", "bloco"}, FirstExisting},
	}
}

// Mapping binds logical fields to concrete source column names.
type Mapping map[string]string

// Columns returns the union of record keys in first-seen order.
func Columns(records []Record) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

func normalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolve picks a source column for every field in the schema. Fields with no
// matching column are left out of the mapping.
func (s Schema) Resolve(records []Record) Mapping {
	byName := make(map[string]string)
	for _, c := range Columns(records) {
		key := normalizeColumn(c)
		if _, ok := byName[key]; !ok {
			byName[key] = c
		}
	}

	m := make(Mapping, len(s))
	for _, fr := range s {
		var present []string
		for _, cand := range fr.Candidates {
			if col, ok := byName[normalizeColumn(cand)]; ok {
				present = append(present, col)
			}
		}
		if len(present) == 0 {
			continue
		}
		if fr.Rule == FirstExisting {
			m[fr.Field] = present[0]
			continue
		}
		best, bestCov := present[0], -1.0
		for _, col := range present {
			if cov := Coverage(records, col); cov > bestCov {
				best, bestCov = col, cov
			}
		}
		m[fr.Field] = best
	}
	return m
}

// Coverage returns the share of records with a non-empty trimmed value in col.
func Coverage(records []Record, col string) float64 {
	if len(records) == 0 {
		return 0
	}
	n := 0
	for _, r := range records {
		if strings.TrimSpace(r[col]) != "" {
			n++
		}
	}
	return float64(n) / float64(len(records))
}

func (m Mapping) get(r Record, field string) string {
	col, ok := m[field]
	if !ok {
		return ""
	}
	return strings.TrimSpace(r[col])
}

// Offers converts records into typed offers in input order. Records without a
// product id receive a positional id so they remain addressable; missing
// optional fields stay absent.
func (m Mapping) Offers(records []Record) []Offer {
	out := make([]Offer, 0, len(records))
	for i, r := range records {
		o := Offer{
			ProductID:   m.get(r, FieldProductID),
			Title:       m.get(r, FieldTitle),
			Category:    m.get(r, FieldCategory),
			ProductLink: m.get(r, FieldProductLink),
			ShortLink:   m.get(r, FieldShortLink),
			ImageURL:    m.get(r, FieldImageURL),
			Block:       strings.ToUpper(m.get(r, FieldBlock)),
			Seq:         i,
		}
		if o.ProductID == "" {
			o.ProductID = "row-" + strconv.Itoa(i+1)
		}
		o.SalePrice = ParseNumber(m.get(r, FieldSalePrice))
		o.OriginalPrice = ParseNumber(m.get(r, FieldOriginalPrice))
		o.DiscountPct = parsePercent(m.get(r, FieldDiscountPct))
		o.Rating = parseRating(m.get(r, FieldRating))
		o.Reviews = ParseNumber(m.get(r, FieldReviews))
		o.Sold = ParseNumber(m.get(r, FieldSold))
		out = append(out, o)
	}
	return out
}

// parsePercent accepts "35", "35%" and fractional rates such as "0.35".
func parsePercent(raw string) *float64 {
	v := ParseNumber(raw)
	if v == nil {
		return nil
	}
	if *v > 0 && *v <= 1 && strings.Contains(raw, ".") && !strings.Contains(raw, "%") {
		*v *= 100
	}
	if *v > 100 {
		return nil
	}
	return v
}

func parseRating(raw string) *float64 {
	v := ParseNumber(raw)
	if v == nil || *v > 5 {
		return nil
	}
	return v
}

// Normalize resolves the schema against records, converts them into offers and
// applies the batch cent-scale correction to sale and original prices. It
// reports whether the correction fired.
func Normalize(schema Schema, records []Record, centsThreshold float64) ([]Offer, Mapping, bool) {
	mapping := schema.Resolve(records)
	offers := mapping.Offers(records)

	sale := make([]*float64, len(offers))
	orig := make([]*float64, len(offers))
	for i := range offers {
		sale[i] = offers[i].SalePrice
		orig[i] = offers[i].OriginalPrice
	}
	fixed := FixCents(sale, centsThreshold)
	if fixed {
		for _, v := range orig {
			if v != nil {
				*v /= 100
			}
		}
	}
	return offers, mapping, fixed
}
