package compose

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/osteele/liquid"
	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/TobiSchelling/offerpilot/internal/offer"
)

// Line slots, in caption order. An empty template disables its line.
const (
	SlotHeader            = "header"
	SlotTitle             = "title"
	SlotPrice             = "price"
	SlotPriceWithDiscount = "price_with_discount"
	SlotRating            = "rating"
	SlotCategory          = "category"
	SlotCTA               = "cta"
	SlotLink              = "link"
)

// DefaultCTA is used when no variants are configured.
const DefaultCTA = "👀 Olha o preço!"

var defaultTemplates = map[string]string{
	SlotHeader:            "",
	SlotTitle:             "🔥 {{ title }}",
	SlotPrice:             "💰 {{ price | money }}",
	SlotPriceWithDiscount: "💰 {{ price | money }} (-{{ discount }}%)",
	SlotRating:            "⭐ Avaliação {{ rating | decimal }}",
	SlotCategory:          "",
	SlotCTA:               "{{ cta }}",
	SlotLink:              "🔗 {{ link }}",
}

// DefaultTemplates returns a copy of the built-in line templates.
func DefaultTemplates() map[string]string {
	out := make(map[string]string, len(defaultTemplates))
	for k, v := range defaultTemplates {
		out[k] = v
	}
	return out
}

// Config controls caption rendering.
type Config struct {
	Locale      string
	Currency    string
	CTAVariants []string
	Templates   map[string]string // overrides per line slot
}

// Composer renders offer captions.
type Composer struct {
	engine    *liquid.Engine
	templates map[string]*liquid.Template
	printer   *message.Printer
	currency  string
	ctas      []string
}

// New parses the line templates once. Unknown slot names are an error.
func New(cfg Config) (*Composer, error) {
	tag := language.BrazilianPortuguese
	if cfg.Locale != "" {
		t, err := language.Parse(cfg.Locale)
		if err != nil {
			return nil, eris.Wrapf(err, "compose: locale %q", cfg.Locale)
		}
		tag = t
	}

	c := &Composer{
		engine:    liquid.NewEngine(),
		templates: make(map[string]*liquid.Template),
		printer:   message.NewPrinter(tag),
		currency:  cfg.Currency,
	}
	if c.currency == "" {
		c.currency = "R$"
	}
	for _, v := range cfg.CTAVariants {
		if v = strings.TrimSpace(v); v != "" {
			c.ctas = append(c.ctas, v)
		}
	}
	if len(c.ctas) == 0 {
		c.ctas = []string{DefaultCTA}
	}
	c.registerFilters()

	sources := DefaultTemplates()
	overrides := make([]string, 0, len(cfg.Templates))
	for k := range cfg.Templates {
		overrides = append(overrides, k)
	}
	sort.Strings(overrides)
	for _, k := range overrides {
		if _, ok := sources[k]; !ok {
			return nil, eris.Errorf("compose: unknown template slot %q", k)
		}
		sources[k] = cfg.Templates[k]
	}

	for slot, src := range sources {
		if strings.TrimSpace(src) == "" {
			continue
		}
		tpl, err := c.engine.ParseString(src)
		if err != nil {
			return nil, eris.Wrapf(err, "compose: parse %s template", slot)
		}
		c.templates[slot] = tpl
	}
	return c, nil
}

func (c *Composer) registerFilters() {
	// {{ price | money }} -> "R$ 1.234,50" in pt-BR
	c.engine.RegisterFilter("money", func(v interface{}) string {
		f, ok := toFloat(v)
		if !ok {
			return fmt.Sprintf("%v", v)
		}
		return c.Money(f)
	})
	// {{ rating | decimal }} -> "4.8"
	c.engine.RegisterFilter("decimal", func(v interface{}) string {
		f, ok := toFloat(v)
		if !ok {
			return fmt.Sprintf("%v", v)
		}
		return fmt.Sprintf("%.1f", f)
	})
}

// Money formats an amount with the configured currency and locale.
func (c *Composer) Money(v float64) string {
	return c.currency + " " + c.printer.Sprintf("%.2f", v)
}

// CTA picks the call-to-action line for a product. The choice is stable per
// product id.
func (c *Composer) CTA(productID string) string {
	if len(c.ctas) == 1 {
		return c.ctas[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(productID))
	return c.ctas[int(h.Sum32()%uint32(len(c.ctas)))]
}

// DiscountPercent returns the whole-number discount shown in the caption.
// A discount derived from the two prices wins over the explicit one; values
// rounding below 1 are suppressed.
func DiscountPercent(o offer.Offer) (int, bool) {
	if o.SalePrice != nil && o.OriginalPrice != nil && *o.OriginalPrice > 0 && *o.OriginalPrice > *o.SalePrice {
		pct := int(math.Round((1 - *o.SalePrice / *o.OriginalPrice) * 100))
		if pct < 1 {
			return 0, false
		}
		return pct, true
	}
	if o.DiscountPct != nil && *o.DiscountPct >= 1 {
		return int(math.Round(*o.DiscountPct)), true
	}
	return 0, false
}

// Caption renders the message text for an offer. Lines whose inputs are
// missing are omitted.
func (c *Composer) Caption(o offer.Offer) (string, error) {
	title := strings.TrimSpace(o.Title)
	link := o.Link()
	vars := map[string]interface{}{
		"product_id": o.ProductID,
		"title":      title,
		"category":   strings.TrimSpace(o.Category),
		"link":       link,
		"cta":        c.CTA(o.ProductID),
		"currency":   c.currency,
	}
	if o.SalePrice != nil {
		vars["price"] = *o.SalePrice
	}
	if o.OriginalPrice != nil {
		vars["original_price"] = *o.OriginalPrice
	}
	pct, hasPct := DiscountPercent(o)
	if hasPct {
		vars["discount"] = pct
	}
	if o.Rating != nil {
		vars["rating"] = *o.Rating
	}

	var lines []string
	add := func(slot string, present bool) error {
		if !present {
			return nil
		}
		tpl, ok := c.templates[slot]
		if !ok {
			return nil
		}
		out, err := tpl.RenderString(vars)
		if err != nil {
			return eris.Wrapf(err, "compose: render %s for %s", slot, o.ProductID)
		}
		if out = strings.TrimSpace(out); out != "" {
			lines = append(lines, out)
		}
		return nil
	}

	steps := []struct {
		slot    string
		present bool
	}{
		{SlotHeader, true},
		{SlotTitle, title != ""},
		{SlotPriceWithDiscount, o.SalePrice != nil && hasPct},
		{SlotPrice, o.SalePrice != nil && !hasPct},
		{SlotRating, o.Rating != nil && *o.Rating > 0},
		{SlotCategory, strings.TrimSpace(o.Category) != ""},
	}
	for _, s := range steps {
		if err := add(s.slot, s.present); err != nil {
			return "", err
		}
	}

	lines = append(lines, "")
	if err := add(SlotCTA, true); err != nil {
		return "", err
	}
	if link != "" {
		lines = append(lines, "")
		if err := add(SlotLink, true); err != nil {
			return "", err
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
