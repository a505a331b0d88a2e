package offer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"R$ 77,89", 77.89, true},
		{"R$ 1.234,56", 1234.56, true},
		{"77.89", 77.89, true},
		{"7789", 7789, true},
		{" 12 ", 12, true},
		{"", 0, false},
		{"abc", 0, false},
		{"-5,00", 0, false},
		{"1.2.3", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseMoney(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, tt.raw)
		}
	}
}

func vals(xs ...float64) []*float64 {
	out := make([]*float64, len(xs))
	for i := range xs {
		out[i] = &xs[i]
	}
	return out
}

func TestFixCents(t *testing.T) {
	batch := vals(7789, 12990, 4590, 9900, 15000)
	require.True(t, FixCents(batch, 1000))
	assert.InDelta(t, 77.89, *batch[0], 1e-9)
	assert.InDelta(t, 150.0, *batch[4], 1e-9)

	// Corrected data must not be divided again.
	assert.False(t, FixCents(batch, 1000))
	assert.InDelta(t, 77.89, *batch[0], 1e-9)
}

func TestFixCentsSingleLargePrice(t *testing.T) {
	batch := vals(49.9, 89.9, 2500, 35)
	assert.False(t, FixCents(batch, 1000))
	assert.InDelta(t, 2500, *batch[2], 1e-9)
}

func TestFixCentsShareBoundary(t *testing.T) {
	batch := vals(1000, 1000, 1000, 1000, 10)
	assert.True(t, FixCents(batch, 1000))
	assert.InDelta(t, 0.1, *batch[4], 1e-9)

	batch = vals(1000, 1000, 1000, 10, 10)
	assert.False(t, FixCents(batch, 1000))
}

func TestFixCentsIgnoresMissing(t *testing.T) {
	batch := []*float64{nil, nil}
	assert.False(t, FixCents(batch, 1000))
	batch = append(batch, vals(5000, 6000)...)
	assert.True(t, FixCents(batch, 1000))
	assert.Nil(t, batch[0])
	assert.InDelta(t, 50, *batch[2], 1e-9)
}

func TestCentsThreshold(t *testing.T) {
	assert.Equal(t, 1000.0, CentsThreshold(60))
	assert.Equal(t, 2000.0, CentsThreshold(200))
}

func TestResolveCoverageWins(t *testing.T) {
	records := []Record{
		{"title": "", "productName": "Garrafa térmica", "id": "1"},
		{"title": "", "productName": "Luminária LED", "id": "2"},
		{"title": "Kit facas", "productName": "Kit facas inox", "id": "3"},
	}
	schema := Schema{
		{FieldTitle, []string{"title", "productName"}, HighestCoverage},
		{FieldProductID, []string{"id"}, FirstExisting},
	}
	m := schema.Resolve(records)
	assert.Equal(t, "productName", m[FieldTitle])

	schema[0].Rule = FirstExisting
	m = schema.Resolve(records)
	assert.Equal(t, "title", m[FieldTitle])
}

func TestResolveCaseInsensitive(t *testing.T) {
	records := []Record{{" Preco_Atual ": "10", "ITEMID": "9"}}
	m := DefaultSchema().Resolve(records)
	assert.Equal(t, " Preco_Atual ", m[FieldSalePrice])
	assert.Equal(t, "ITEMID", m[FieldProductID])
}

func TestMappingOffers(t *testing.T) {
	records := []Record{
		{"itemid": "42", "productName": "Fone Bluetooth", "price": "R$ 59,90", "priceMax": "99,90",
			"ratingStar": "4.7", "sold": "1.2", "productLink": "https://x/42", "categoria": "Eletrônicos"},
		{"itemid": "", "productName": "Sem id", "price": "abc", "ratingStar": "9"},
	}
	offers := DefaultSchema().Resolve(records).Offers(records)
	require.Len(t, offers, 2)

	o := offers[0]
	assert.Equal(t, "42", o.ProductID)
	assert.InDelta(t, 59.90, *o.SalePrice, 1e-9)
	assert.InDelta(t, 99.90, *o.OriginalPrice, 1e-9)
	assert.InDelta(t, 4.7, *o.Rating, 1e-9)
	assert.Equal(t, "https://x/42", o.Link())
	pct, ok := o.Discount()
	require.True(t, ok)
	assert.InDelta(t, 40.04, pct, 0.01)

	bad := offers[1]
	assert.Equal(t, "row-2", bad.ProductID)
	assert.Nil(t, bad.SalePrice)
	assert.Nil(t, bad.Rating)
	assert.Equal(t, 1, bad.Seq)
}

func TestNormalizeFixesCentsOnBothPrices(t *testing.T) {
	records := []Record{
		{"id": "1", "title": "a", "price": "7789", "original_price": "9990"},
		{"id": "2", "title": "b", "price": "4590", "original_price": ""},
		{"id": "3", "title": "c", "price": "12990", "original_price": "15990"},
	}
	offers, _, fixed := Normalize(DefaultSchema(), records, 1000)
	require.True(t, fixed)
	assert.InDelta(t, 77.89, *offers[0].SalePrice, 1e-9)
	assert.InDelta(t, 99.90, *offers[0].OriginalPrice, 1e-9)
	assert.Nil(t, offers[1].OriginalPrice)
}

func TestDiscountAbsentWhenOriginalNotHigher(t *testing.T) {
	o := Offer{SalePrice: Float(50), OriginalPrice: Float(50)}
	_, ok := o.Discount()
	assert.False(t, ok)
	o.OriginalPrice = nil
	_, ok = o.Discount()
	assert.False(t, ok)
}

func TestLinkFallback(t *testing.T) {
	o := Offer{ProductLink: "https://p", ShortLink: "  "}
	assert.Equal(t, "https://p", o.Link())
	o.ShortLink = "https://s"
	assert.Equal(t, "https://s", o.Link())
}

func TestCategoryKey(t *testing.T) {
	assert.Equal(t, "casa > cozinha", Offer{Category: " Casa >  COZINHA "}.CategoryKey())
	assert.Equal(t, "toys", Offer{Category: "Toys"}.CategoryKey())
	assert.Equal(t, "", Offer{}.CategoryKey())
}

func TestTitleKey(t *testing.T) {
	promo := DefaultPromoWords
	assert.Equal(t, "garrafa termica 500ml", TitleKey("  NOVO Garrafa   Térmica 500ml - Frete Grátis!", promo))
	assert.Equal(t, TitleKey("Garrafa Térmica 500ml", promo), TitleKey("garrafa termica 500ml oferta", promo))
	// Word boundaries: promo words inside other words stay.
	assert.Equal(t, "renovo ofertas", TitleKey("Renovo Ofertas", promo))
	assert.Equal(t, "", TitleKey("Promoção Oferta", promo))
}

func TestDedupKeyFallsBackToID(t *testing.T) {
	tm := NewTitleMatcher(DefaultPromoWords)
	assert.Equal(t, "id:7", tm.DedupKey(Offer{ProductID: "7", Title: "Oferta"}))
	assert.Equal(t, "caneca", tm.DedupKey(Offer{ProductID: "7", Title: "Caneca"}))
}

func TestFunnel(t *testing.T) {
	f := Funnel{{"start", 10}, {"price", 4}, {"rating", 0}, {"banned", 0}}
	assert.Equal(t, "start=10 -> price=4 -> rating=0 -> banned=0", f.String())
	assert.Equal(t, "rating", f.CollapsedAt())
	assert.Equal(t, 0, f.Final())

	err := &DataQualityError{Strict: f}
	assert.Contains(t, err.Error(), "rating")
	assert.Contains(t, err.Report(), "strict:")
}
