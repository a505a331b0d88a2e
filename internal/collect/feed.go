package collect

import (
	"context"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/TobiSchelling/offerpilot/internal/offer"
)

// FeedConfig represents a single feed configuration.
type FeedConfig struct {
	URL  string
	Name string
}

// FeedSource reads RSS/Atom product feeds carrying Google merchant (g:)
// extensions.
type FeedSource struct {
	feeds  []FeedConfig
	parser *gofeed.Parser
}

// NewFeedSource creates a feed source.
func NewFeedSource(feeds []FeedConfig) *FeedSource {
	return &FeedSource{feeds: feeds, parser: gofeed.NewParser()}
}

func (fs *FeedSource) Name() string { return "feeds" }

// Fetch parses every feed. A broken feed is logged and skipped.
func (fs *FeedSource) Fetch(ctx context.Context) ([]offer.Record, error) {
	var all []offer.Record
	var failed int
	for _, fc := range fs.feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}
		feed, err := fs.parser.ParseURLWithContext(fc.URL, ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			zap.L().Warn("failed to parse feed", zap.String("url", fc.URL), zap.Error(err))
			continue
		}
		records := ParseFeed(feed, name)
		all = append(all, records...)
		zap.L().Info("parsed feed", zap.String("feed", name), zap.Int("items", len(records)))
	}
	if failed > 0 && failed == len(fs.feeds) {
		return nil, eris.Errorf("collect: all %d feeds failed", failed)
	}
	return all, nil
}

// ParseFeed flattens feed items into raw records.
func ParseFeed(feed *gofeed.Feed, source string) []offer.Record {
	var out []offer.Record
	for _, item := range feed.Items {
		if r := parseItem(item, source); r != nil {
			out = append(out, r)
		}
	}
	return out
}

func parseItem(item *gofeed.Item, source string) offer.Record {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		link = ext(item, "link")
	}
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = ext(item, "title")
	}
	if title == "" && link == "" {
		return nil
	}

	id := ext(item, "id")
	if id == "" {
		id = strings.TrimSpace(item.GUID)
	}

	r := offer.Record{
		"id":           id,
		"title":        title,
		"product_link": link,
		"source":       source,
	}

	// g:price is the list price; g:sale_price, when present, is what the
	// shopper pays.
	price, sale := ext(item, "price"), ext(item, "sale_price")
	if sale != "" {
		r["sale_price"] = sale
		r["original_price"] = price
	} else {
		r["sale_price"] = price
	}

	image := ext(item, "image_link")
	if image == "" && item.Image != nil {
		image = item.Image.URL
	}
	if image == "" {
		for _, enc := range item.Enclosures {
			if strings.HasPrefix(enc.Type, "image/") {
				image = enc.URL
				break
			}
		}
	}
	r["image_link"] = image

	category := ext(item, "product_type")
	if category == "" {
		category = ext(item, "google_product_category")
	}
	if category == "" && len(item.Categories) > 0 {
		category = strings.Join(item.Categories, " > ")
	}
	r["category"] = category

	for _, k := range []string{"rating", "product_rating", "block"} {
		if v := ext(item, k); v != "" {
			r[k] = v
		}
	}
	return r
}

// ext returns the first g: extension value named name.
func ext(item *gofeed.Item, name string) string {
	if item.Extensions == nil {
		return ""
	}
	for _, ns := range []string{"g", "g-core"} {
		if vals := item.Extensions[ns][name]; len(vals) > 0 {
			return strings.TrimSpace(vals[0].Value)
		}
	}
	return ""
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "feeds.", "feed.", "loja.", "shop."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	name := host
	if len(parts) >= 2 {
		name = parts[0]
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
