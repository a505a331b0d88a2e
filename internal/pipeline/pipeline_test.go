package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/offerpilot/internal/collect"
	"github.com/TobiSchelling/offerpilot/internal/config"
	"github.com/TobiSchelling/offerpilot/internal/database"
	"github.com/TobiSchelling/offerpilot/internal/offer"
)

type staticSource []offer.Record

func (s staticSource) Name() string { return "static" }

func (s staticSource) Fetch(context.Context) ([]offer.Record, error) { return s, nil }

type fakeShortener struct {
	calls int
	err   error
}

func (f *fakeShortener) GenerateShortLink(_ context.Context, origin string, _ []string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://s.example/" + filepath.Base(origin), nil
}

var fixedNow = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

func catalog(n int) staticSource {
	out := make(staticSource, n)
	for i := range out {
		out[i] = offer.Record{
			"itemid":         fmt.Sprintf("%d", 1000+i),
			"title":          fmt.Sprintf("Item %d categoria %d", i, i%10),
			"price":          "49,90",
			"original_price": "89,90",
			"rating":         "4.8",
			"category":       fmt.Sprintf("Cat %d", i%10),
			"link":           fmt.Sprintf("https://shop.example/p/%d", 1000+i),
			"image_link":     fmt.Sprintf("https://img.example/%d.jpg", 1000+i),
		}
	}
	return out
}

type env struct {
	cfg *config.Config
	db  *database.DB
}

func newEnv(t *testing.T) env {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Output.DataDir = t.TempDir()
	db, err := database.Open(cfg.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return env{cfg: cfg, db: db}
}

func (e env) pipeline(t *testing.T, src collect.Source, s Shortener) *Pipeline {
	t.Helper()
	locker, _ := NewLocker(e.cfg, e.db)
	opts := []Option{WithCollector(collect.NewCollector(src)), WithClock(func() time.Time { return fixedNow })}
	if s != nil {
		opts = append(opts, WithShortener(s))
	}
	p, err := New(e.cfg, e.db, NewLedger(e.cfg, e.db, locker), opts...)
	require.NoError(t, err)
	return p
}

func TestRunEndToEnd(t *testing.T) {
	e := newEnv(t)
	sh := &fakeShortener{}
	p := e.pipeline(t, catalog(30), sh)
	ctx := context.Background()

	res := p.Run(ctx, false)
	require.NoError(t, res.Err())
	assert.Equal(t, "2026-03-05", res.Day)
	require.NotNil(t, res.Plan)
	assert.Len(t, res.Plan.Entries, 15)
	assert.Equal(t, 15, res.Plan.ValidCount())
	assert.Equal(t, 20, sh.calls, "one short link per selected item")
	assert.NotEmpty(t, res.ReportID)

	_, err := os.Stat(res.AgendaPath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(e.cfg.GetDataDir(), "agenda_2026-03-05.csv"))
	require.NoError(t, err)

	rows, err := e.db.GetSelection(ctx, "2026-03-05")
	require.NoError(t, err)
	require.Len(t, rows, 15)
	assert.Contains(t, rows[0].Caption, "🔗 https://s.example/")
	require.NotNil(t, rows[0].Product)
	assert.Equal(t, rows[0].ProductID, rows[0].Product.ID)

	items, err := DispatchItems(ctx, e.db, "2026-03-05", e.cfg.Location(), nil)
	require.NoError(t, err)
	require.Len(t, items, 15)
	assert.Equal(t, "09:00", items[0].Slot.Format("15:04"))
	assert.NotEmpty(t, items[0].Message.ImageURL)

	reports, err := e.db.ListRunReports(ctx, 5)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 30, reports[0].Fetched)
	assert.Equal(t, 15, reports[0].Planned)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	e := newEnv(t)
	sh := &fakeShortener{}
	p := e.pipeline(t, catalog(30), sh)
	ctx := context.Background()

	res := p.Run(ctx, true)
	require.NoError(t, res.Err())
	assert.True(t, res.DryRun)
	assert.Equal(t, 15, res.Plan.ValidCount())
	assert.Zero(t, sh.calls)

	products, err := e.db.ListProducts(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, products)
	rows, err := e.db.GetSelection(ctx, "2026-03-05")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestShortenCoverageBelowMinimum(t *testing.T) {
	e := newEnv(t)
	p := e.pipeline(t, catalog(30), &fakeShortener{err: errors.New("quota")})

	res := p.Run(context.Background(), false)
	err := res.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coverage")
	assert.Equal(t, "Shorten", res.Steps[len(res.Steps)-1].Name)
}

func TestShortenWithoutShortenerUsesProductLinks(t *testing.T) {
	e := newEnv(t)
	p := e.pipeline(t, catalog(1), nil)
	items := []offer.ScoredOffer{
		{Offer: offer.Offer{ProductID: "1", ProductLink: "https://p/1"}},
		{Offer: offer.Offer{ProductID: "2"}},
	}
	cov, err := p.Shorten(context.Background(), items, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, cov, 1e-9)
}

func TestFetchEnrichesOriginalPriceFromCatalog(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.db.UpsertProducts(ctx, []offer.Offer{{
		ProductID: "7", Title: "Mochila", SalePrice: offer.Float(150), Block: "B",
	}}, fixedNow.Add(-24*time.Hour))
	require.NoError(t, err)

	p := e.pipeline(t, staticSource{{"itemid": "7", "title": "Mochila", "price": "99.90"}}, nil)
	fetched, err := p.Fetch(ctx, false)
	require.NoError(t, err)
	require.Len(t, fetched.Offers, 1)
	assert.Equal(t, 1, fetched.Enriched)
	require.NotNil(t, fetched.Offers[0].OriginalPrice)
	assert.InDelta(t, 150, *fetched.Offers[0].OriginalPrice, 1e-9)
	assert.Equal(t, "B", fetched.Offers[0].Block)
}

func TestPickSkipsPausedProducts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.pipeline(t, catalog(30), nil)
	fetched, err := p.Fetch(ctx, false)
	require.NoError(t, err)
	require.NoError(t, e.db.SetProductStatus(ctx, "1000", database.StatusPaused))

	picked, err := p.Pick(ctx, fetched.Offers)
	require.NoError(t, err)
	for _, it := range picked.Selection.Items {
		assert.NotEqual(t, "1000", it.ProductID)
	}
	assert.Greater(t, picked.Gate.Reasons()["PAUSED"], 0)
}
