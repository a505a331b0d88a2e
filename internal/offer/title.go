package offer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultPromoWords are stripped from titles before deduplication.
var DefaultPromoWords = []string{"novo", "promoção", "promocao", "oferta", "frete", "grátis", "gratis", "original"}

// Fold lower-cases s and strips diacritics.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// TitleMatcher builds normalized-title keys for a fixed promo word list.
type TitleMatcher struct {
	promo *regexp.Regexp
}

// NewTitleMatcher compiles the promo word list. Words are matched on
// letter/digit boundaries after folding, so "Oferta!" matches "oferta" but
// "ofertas" does not.
func NewTitleMatcher(promoWords []string) *TitleMatcher {
	var alts []string
	seen := make(map[string]bool)
	for _, w := range promoWords {
		w = Fold(strings.TrimSpace(w))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		alts = append(alts, regexp.QuoteMeta(w))
	}
	tm := &TitleMatcher{}
	if len(alts) > 0 {
		tm.promo = regexp.MustCompile(`(^|[^\p{L}\p{N}])(?:` + strings.Join(alts, "|") + `)([^\p{L}\p{N}]|$)`)
	}
	return tm
}

// Key returns the normalized-title key: folded, promo words removed,
// punctuation dropped and whitespace collapsed.
func (tm *TitleMatcher) Key(title string) string {
	s := Fold(title)
	if tm.promo != nil {
		// Adjacent promo words share a boundary rune, so repeat until stable.
		for {
			next := tm.promo.ReplaceAllString(s, "$1 $2")
			if next == s {
				break
			}
			s = next
		}
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// TitleKey is a convenience wrapper around NewTitleMatcher(promoWords).Key.
func TitleKey(title string, promoWords []string) string {
	return NewTitleMatcher(promoWords).Key(title)
}

// DedupKey returns the title key, or an id-based key when the title reduces to
// nothing so that untitled offers are never merged together.
func (tm *TitleMatcher) DedupKey(o Offer) string {
	if k := tm.Key(o.Title); k != "" {
		return k
	}
	return "id:" + o.ProductID
}
