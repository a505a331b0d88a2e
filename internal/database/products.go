package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/TobiSchelling/offerpilot/internal/offer"
)

const productColumns = `id, title, link, short_link, image_url, price, original_price, max_price,
	discount_pct, rating, reviews, sold, category, block, status, last_sent_at, first_seen_at, updated_at`

// UpsertProducts inserts new products and refreshes known ones from an
// ingestion pass. Status and last_sent_at are never touched; empty incoming
// text fields and absent numbers keep the stored value.
func (db *DB) UpsertProducts(ctx context.Context, offers []offer.Offer, now time.Time) (int, error) {
	ts := formatTS(now)
	n := 0
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO products (id, title, link, short_link, image_url, price, original_price, max_price,
	discount_pct, rating, reviews, sold, category, block, first_seen_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	title = CASE WHEN excluded.title != '' THEN excluded.title ELSE products.title END,
	link = CASE WHEN excluded.link != '' THEN excluded.link ELSE products.link END,
	short_link = CASE WHEN excluded.short_link != '' THEN excluded.short_link ELSE products.short_link END,
	image_url = CASE WHEN excluded.image_url != '' THEN excluded.image_url ELSE products.image_url END,
	price = COALESCE(excluded.price, products.price),
	original_price = COALESCE(excluded.original_price, products.original_price),
	max_price = MAX(COALESCE(products.max_price, 0), COALESCE(excluded.price, 0)),
	discount_pct = COALESCE(excluded.discount_pct, products.discount_pct),
	rating = COALESCE(excluded.rating, products.rating),
	reviews = COALESCE(excluded.reviews, products.reviews),
	sold = COALESCE(excluded.sold, products.sold),
	category = CASE WHEN excluded.category != '' THEN excluded.category ELSE products.category END,
	block = CASE WHEN excluded.block != '' THEN excluded.block ELSE products.block END,
	updated_at = excluded.updated_at`)
		if err != nil {
			return eris.Wrap(err, "database: prepare product upsert")
		}
		defer stmt.Close()

		for _, o := range offers {
			if strings.TrimSpace(o.ProductID) == "" {
				continue
			}
			_, err := stmt.ExecContext(ctx,
				o.ProductID, o.Title, o.ProductLink, o.ShortLink, o.ImageURL,
				o.SalePrice, o.OriginalPrice, o.SalePrice,
				o.DiscountPct, o.Rating, o.Reviews, o.Sold,
				o.Category, o.Block, ts, ts,
			)
			if err != nil {
				return eris.Wrapf(err, "database: upsert product %s", o.ProductID)
			}
			n++
		}
		return nil
	})
	return n, err
}

// GetProduct returns a single product or ErrNotFound.
func (db *DB) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "product %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "database: get product")
	}
	return p, nil
}

// ListProducts returns products filtered by status ("" for all), most
// recently updated first.
func (db *DB) ListProducts(ctx context.Context, status string) ([]Product, error) {
	query := "SELECT " + productColumns + " FROM products"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY updated_at DESC, id"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "database: list products")
	}
	defer rows.Close()
	return scanProducts(rows)
}

// ProductsByID returns the catalog rows for ids, keyed by id.
func (db *DB) ProductsByID(ctx context.Context, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, eris.Wrap(err, "database: products by id")
	}
	defer rows.Close()

	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// SetProductStatus pauses or resumes a product.
func (db *DB) SetProductStatus(ctx context.Context, id, status string) error {
	if status != StatusActive && status != StatusPaused {
		return eris.Errorf("database: invalid product status %q", status)
	}
	res, err := db.conn.ExecContext(ctx,
		"UPDATE products SET status = ?, updated_at = ? WHERE id = ?",
		status, formatTS(time.Now()), id)
	if err != nil {
		return eris.Wrap(err, "database: set product status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "product %s", id)
	}
	return nil
}

// PausedIDs returns the set of paused product ids.
func (db *DB) PausedIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT id FROM products WHERE status = ?", StatusPaused)
	if err != nil {
		return nil, eris.Wrap(err, "database: paused ids")
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// SetShortLink stores a generated short link for a product.
func (db *DB) SetShortLink(ctx context.Context, id, link string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE products SET short_link = ?, updated_at = ? WHERE id = ?",
		link, formatTS(time.Now()), id)
	return eris.Wrap(err, "database: set short link")
}

// Offer converts a catalog row back into an offer.
func (p Product) Offer() offer.Offer {
	return offer.Offer{
		ProductID:     p.ID,
		Title:         p.Title,
		SalePrice:     p.Price,
		OriginalPrice: p.OriginalPrice,
		DiscountPct:   p.DiscountPct,
		Rating:        p.Rating,
		Reviews:       p.Reviews,
		Sold:          p.Sold,
		Category:      p.Category,
		ProductLink:   p.Link,
		ShortLink:     p.ShortLink,
		ImageURL:      p.ImageURL,
		Block:         p.Block,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (*Product, error) {
	var p Product
	var price, orig, maxPrice, disc, rating, reviews, sold sql.NullFloat64
	var lastSent sql.NullString
	if err := s.Scan(&p.ID, &p.Title, &p.Link, &p.ShortLink, &p.ImageURL,
		&price, &orig, &maxPrice, &disc, &rating, &reviews, &sold,
		&p.Category, &p.Block, &p.Status, &lastSent, &p.FirstSeenAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Price = nullFloat(price)
	p.OriginalPrice = nullFloat(orig)
	p.MaxPrice = nullFloat(maxPrice)
	p.DiscountPct = nullFloat(disc)
	p.Rating = nullFloat(rating)
	p.Reviews = nullFloat(reviews)
	p.Sold = nullFloat(sold)
	if lastSent.Valid {
		if t, ok := parseTS(lastSent.String); ok {
			p.LastSentAt = &t
		}
	}
	return &p, nil
}

func scanProducts(rows *sql.Rows) ([]Product, error) {
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, eris.Wrap(err, "database: scan product")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
