package collect

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TobiSchelling/offerpilot/internal/offer"
)

// MaxPageLimit is the largest page size the affiliate API accepts.
const MaxPageLimit = 50

const productOffersQuery = `query ProductOffers($page:Int,$limit:Int,$keyword:String,$sortType:Int){` +
	`productOfferV2(page:$page,limit:$limit,keyword:$keyword,sortType:$sortType){` +
	`nodes{itemId productName offerLink productLink imageUrl price priceMin priceMax priceDiscountRate ratingStar sales shopName commissionRate}` +
	`pageInfo{page limit hasNextPage}}}`

const shortLinkMutation = `mutation ShortLink($originUrl:String!,$subIds:[String]){` +
	`generateShortLink(input:{originUrl:$originUrl,subIds:$subIds}){shortLink}}`

// AffiliateOptions configures the affiliate client.
type AffiliateOptions struct {
	Endpoint          string
	AppID             string
	Secret            string
	Keywords          []string
	SortType          int
	Limit             int
	MaxPages          int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// AffiliateClient talks to the affiliate open API (GraphQL over HTTP). Every
// request is signed and rate limited.
type AffiliateClient struct {
	opts    AffiliateOptions
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewAffiliateClient validates the options and creates a client.
func NewAffiliateClient(opts AffiliateOptions) (*AffiliateClient, error) {
	opts.Endpoint = strings.TrimSpace(opts.Endpoint)
	opts.AppID = strings.TrimSpace(opts.AppID)
	opts.Secret = strings.TrimSpace(opts.Secret)
	if opts.Endpoint == "" || opts.AppID == "" || opts.Secret == "" {
		return nil, eris.New("collect: affiliate endpoint, app id and secret are required")
	}
	if opts.Limit <= 0 || opts.Limit > MaxPageLimit {
		opts.Limit = MaxPageLimit
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &AffiliateClient{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}, nil
}

func (c *AffiliateClient) Name() string { return "affiliate" }

// Sign returns hex(sha256(appID + timestamp + payload + secret)).
func (c *AffiliateClient) Sign(payload []byte, ts int64) string {
	h := sha256.New()
	h.Write([]byte(c.opts.AppID))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write(payload)
	h.Write([]byte(c.opts.Secret))
	return hex.EncodeToString(h.Sum(nil))
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// execute posts a signed GraphQL request and decodes data into out.
func (c *AffiliateClient) execute(ctx context.Context, query string, vars map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any{"query": query, "variables": vars}); err != nil {
		return eris.Wrap(err, "collect: marshal graphql payload")
	}
	payload := bytes.TrimRight(buf.Bytes(), "\n")

	ts := c.now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "collect: create affiliate request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("SHA256 Credential=%s, Signature=%s, Timestamp=%d",
		c.opts.AppID, c.Sign(payload, ts), ts))

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "collect: affiliate api")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return eris.Errorf("collect: affiliate api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var gr graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return eris.Wrap(err, "collect: decode affiliate response")
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, len(gr.Errors))
		for i, e := range gr.Errors {
			msgs[i] = e.Message
		}
		return eris.Errorf("collect: graphql error: %s", strings.Join(msgs, "; "))
	}
	if out == nil {
		return nil
	}
	return eris.Wrap(json.Unmarshal(gr.Data, out), "collect: decode graphql data")
}

type productOfferPage struct {
	ProductOfferV2 struct {
		Nodes    []map[string]any `json:"nodes"`
		PageInfo struct {
			Page        int  `json:"page"`
			Limit       int  `json:"limit"`
			HasNextPage bool `json:"hasNextPage"`
		} `json:"pageInfo"`
	} `json:"productOfferV2"`
}

// ProductOffers fetches one page of offers. It reports whether more pages
// exist.
func (c *AffiliateClient) ProductOffers(ctx context.Context, keyword string, page int) ([]offer.Record, bool, error) {
	vars := map[string]any{
		"page":     page,
		"limit":    c.opts.Limit,
		"sortType": c.opts.SortType,
	}
	if keyword != "" {
		vars["keyword"] = keyword
	}

	var out productOfferPage
	if err := c.execute(ctx, productOffersQuery, vars, &out); err != nil {
		return nil, false, err
	}
	records := make([]offer.Record, 0, len(out.ProductOfferV2.Nodes))
	for _, n := range out.ProductOfferV2.Nodes {
		records = append(records, flattenNode(n))
	}
	return records, out.ProductOfferV2.PageInfo.HasNextPage, nil
}

// Fetch pages through every keyword (or the unfiltered listing when no
// keywords are set) until the API reports no next page or MaxPages is hit.
// Items repeated across keywords are kept once.
func (c *AffiliateClient) Fetch(ctx context.Context) ([]offer.Record, error) {
	keywords := c.opts.Keywords
	if len(keywords) == 0 {
		keywords = []string{""}
	}

	seen := make(map[string]bool)
	var all []offer.Record
	for _, kw := range keywords {
		for page := 1; page <= c.opts.MaxPages; page++ {
			records, more, err := c.ProductOffers(ctx, kw, page)
			if err != nil {
				return nil, eris.Wrapf(err, "collect: keyword %q page %d", kw, page)
			}
			for _, r := range records {
				if id := r["itemId"]; id != "" {
					if seen[id] {
						continue
					}
					seen[id] = true
				}
				all = append(all, r)
			}
			zap.L().Debug("affiliate page",
				zap.String("keyword", kw),
				zap.Int("page", page),
				zap.Int("items", len(records)),
			)
			if !more || len(records) == 0 {
				break
			}
		}
	}
	return all, nil
}

// GenerateShortLink asks the API for a tracked short link.
func (c *AffiliateClient) GenerateShortLink(ctx context.Context, originURL string, subIDs []string) (string, error) {
	vars := map[string]any{"originUrl": originURL}
	if len(subIDs) > 0 {
		vars["subIds"] = subIDs
	}
	var out struct {
		GenerateShortLink struct {
			ShortLink string `json:"shortLink"`
		} `json:"generateShortLink"`
	}
	if err := c.execute(ctx, shortLinkMutation, vars, &out); err != nil {
		return "", err
	}
	link := strings.TrimSpace(out.GenerateShortLink.ShortLink)
	if link == "" {
		return "", eris.Errorf("collect: empty short link for %s", originURL)
	}
	return link, nil
}

func flattenNode(n map[string]any) offer.Record {
	r := make(offer.Record, len(n))
	for k, v := range n {
		switch t := v.(type) {
		case nil:
		case string:
			r[k] = t
		case float64:
			r[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			r[k] = strconv.FormatBool(t)
		default:
			if b, err := json.Marshal(t); err == nil {
				r[k] = string(b)
			}
		}
	}
	return r
}
