package collect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const merchantFeed = `<?xml version="1.0"?>
<rss version="2.0" xmlns:g="http://base.google.com/ns/1.0">
<channel>
  <title>Loja</title>
  <item>
    <title>Fone Bluetooth</title>
    <link>https://loja.example/p/1</link>
    <g:id>SKU-1</g:id>
    <g:price>129.90 BRL</g:price>
    <g:sale_price>77.89 BRL</g:sale_price>
    <g:image_link>https://loja.example/img/1.jpg</g:image_link>
    <g:product_type>Eletrônicos &gt; Áudio</g:product_type>
  </item>
  <item>
    <title>Caneca</title>
    <link>https://loja.example/p/2</link>
    <guid>guid-2</guid>
    <g:price>19.90 BRL</g:price>
  </item>
  <item>
  </item>
</channel>
</rss>`

func TestParseFeedMerchantExtensions(t *testing.T) {
	feed, err := gofeed.NewParser().ParseString(merchantFeed)
	require.NoError(t, err)

	records := ParseFeed(feed, "Loja")
	require.Len(t, records, 2)

	r := records[0]
	assert.Equal(t, "SKU-1", r["id"])
	assert.Equal(t, "77.89 BRL", r["sale_price"])
	assert.Equal(t, "129.90 BRL", r["original_price"])
	assert.Equal(t, "https://loja.example/img/1.jpg", r["image_link"])
	assert.Equal(t, "Eletrônicos > Áudio", r["category"])
	assert.Equal(t, "Loja", r["source"])

	r = records[1]
	assert.Equal(t, "guid-2", r["id"])
	assert.Equal(t, "19.90 BRL", r["sale_price"])
	assert.Empty(t, r["original_price"])
}

func TestFeedSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(merchantFeed))
	}))
	defer srv.Close()

	fs := NewFeedSource([]FeedConfig{{URL: srv.URL + "/feed.xml", Name: "Loja"}, {URL: srv.URL + "/broken"}})
	records, err := fs.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = NewFeedSource([]FeedConfig{{URL: srv.URL + "/broken"}}).Fetch(context.Background())
	assert.Error(t, err)
}

func TestExtractSourceName(t *testing.T) {
	assert.Equal(t, "Lojabonita", extractSourceName("https://www.lojabonita.com.br/feed.xml"))
	assert.Equal(t, "Example", extractSourceName("https://feeds.example.com/rss"))
}
