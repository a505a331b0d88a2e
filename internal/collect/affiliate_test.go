package collect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var authRe = regexp.MustCompile(`^SHA256 Credential=([^,]+), Signature=([0-9a-f]{64}), Timestamp=(\d+)$`)

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func newAffiliateServer(t *testing.T, handle func(req gqlRequest) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		m := authRe.FindStringSubmatch(r.Header.Get("Authorization"))
		require.NotNil(t, m, "authorization header %q", r.Header.Get("Authorization"))
		sum := sha256.Sum256([]byte(m[1] + m[3] + string(body) + "s3cret"))
		assert.Equal(t, hex.EncodeToString(sum[:]), m[2], "signature covers the exact body")
		assert.NotContains(t, string(body), "\n")

		var req gqlRequest
		require.NoError(t, json.Unmarshal(body, &req))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handle(req))
	}))
}

func newTestClient(t *testing.T, url string, opts AffiliateOptions) *AffiliateClient {
	t.Helper()
	opts.Endpoint = url
	opts.AppID = "app-1"
	opts.Secret = "s3cret"
	c, err := NewAffiliateClient(opts)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func pageResponse(page int, hasNext bool, ids ...string) any {
	nodes := make([]map[string]any, len(ids))
	for i, id := range ids {
		nodes[i] = map[string]any{
			"itemId":      json.Number(id),
			"productName": "Produto " + id,
			"priceMin":    "19.9",
			"ratingStar":  "4.7",
			"sales":       120,
			"offerLink":   "https://aff.example/" + id,
		}
	}
	return map[string]any{"data": map[string]any{"productOfferV2": map[string]any{
		"nodes":    nodes,
		"pageInfo": map[string]any{"page": page, "limit": 50, "hasNextPage": hasNext},
	}}}
}

func TestAffiliateFetchPagesUntilNoNext(t *testing.T) {
	var calls atomic.Int64
	srv := newAffiliateServer(t, func(req gqlRequest) any {
		calls.Add(1)
		assert.Contains(t, req.Query, "productOfferV2")
		assert.EqualValues(t, 50, req.Variables["limit"])
		page := int(req.Variables["page"].(float64))
		if page == 1 {
			return pageResponse(1, true, "1", "2")
		}
		return pageResponse(2, false, "2", "3")
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, AffiliateOptions{Limit: 500, MaxPages: 10})
	records, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
	require.Len(t, records, 3, "item 2 repeated across pages is kept once")
	assert.Equal(t, "1", records[0]["itemId"])
	assert.Equal(t, "Produto 1", records[0]["productName"])
	assert.Equal(t, "120", records[0]["sales"])
}

func TestAffiliateFetchStopsAtMaxPages(t *testing.T) {
	var calls atomic.Int64
	srv := newAffiliateServer(t, func(req gqlRequest) any {
		n := calls.Add(1)
		return pageResponse(int(n), true, fmt.Sprint(n))
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, AffiliateOptions{MaxPages: 3, Keywords: []string{"fone"}})
	records, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, int64(3), calls.Load())
}

func TestAffiliateGraphQLErrors(t *testing.T) {
	srv := newAffiliateServer(t, func(gqlRequest) any {
		return map[string]any{"errors": []map[string]any{{"message": "Invalid Signature"}}}
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, AffiliateOptions{MaxPages: 1})
	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Signature")
}

func TestAffiliateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, AffiliateOptions{})
	_, _, err := c.ProductOffers(context.Background(), "", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestGenerateShortLink(t *testing.T) {
	srv := newAffiliateServer(t, func(req gqlRequest) any {
		assert.True(t, strings.HasPrefix(req.Query, "mutation"))
		assert.Equal(t, "https://shop.example/p/1?a=1&b=2", req.Variables["originUrl"])
		assert.Equal(t, []any{"grupo"}, req.Variables["subIds"])
		return map[string]any{"data": map[string]any{"generateShortLink": map[string]any{"shortLink": "https://s.example/x"}}}
	})
	defer srv.Close()

	c := newTestClient(t, srv.URL, AffiliateOptions{})
	link, err := c.GenerateShortLink(context.Background(), "https://shop.example/p/1?a=1&b=2", []string{"grupo"})
	require.NoError(t, err)
	assert.Equal(t, "https://s.example/x", link)
}

func TestNewAffiliateClientRequiresCredentials(t *testing.T) {
	_, err := NewAffiliateClient(AffiliateOptions{Endpoint: "https://x"})
	assert.Error(t, err)
}

func TestSignIsDeterministic(t *testing.T) {
	c, err := NewAffiliateClient(AffiliateOptions{Endpoint: "https://x", AppID: "a", Secret: "s"})
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("a" + "123" + `{"q":1}` + "s"))
	assert.Equal(t, hex.EncodeToString(sum[:]), c.Sign([]byte(`{"q":1}`), 123))
}
