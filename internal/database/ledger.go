package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
)

// RecordSend stores a successful send and bumps the product's last_sent_at in
// one transaction. A second send of the same product on the same day updates
// the existing ledger row instead of adding one.
func (db *DB) RecordSend(ctx context.Context, e LedgerEntry) error {
	ts := formatTS(e.SentAt)
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO ledger (day, time, sent_at, product_id, block) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(day, product_id) DO UPDATE SET
	time = excluded.time, sent_at = excluded.sent_at, block = excluded.block`,
			e.Day, e.Time, ts, e.ProductID, e.Block)
		if err != nil {
			return eris.Wrapf(err, "database: insert ledger row for %s", e.ProductID)
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO products (id, last_sent_at, updated_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET last_sent_at = excluded.last_sent_at`,
			e.ProductID, ts, ts)
		if err != nil {
			return eris.Wrapf(err, "database: update last_sent_at for %s", e.ProductID)
		}
		return nil
	})
}

// LastSentAt returns the most recent send time for a product, looking at both
// the catalog and the ledger.
func (db *DB) LastSentAt(ctx context.Context, productID string) (time.Time, bool, error) {
	var ts sql.NullString
	err := db.conn.QueryRowContext(ctx, `
SELECT MAX(ts) FROM (
	SELECT last_sent_at AS ts FROM products WHERE id = ? AND last_sent_at IS NOT NULL
	UNION ALL
	SELECT sent_at AS ts FROM ledger WHERE product_id = ?
)`, productID, productID).Scan(&ts)
	if err != nil {
		return time.Time{}, false, eris.Wrap(err, "database: last sent")
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	t, ok := parseTS(ts.String)
	return t, ok, nil
}

// LedgerForDay returns the day's sends in send order.
func (db *DB) LedgerForDay(ctx context.Context, day string) ([]LedgerEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, day, time, sent_at, product_id, block FROM ledger WHERE day = ? ORDER BY sent_at, id`, day)
	if err != nil {
		return nil, eris.Wrap(err, "database: ledger for day")
	}
	defer rows.Close()
	return scanLedger(rows)
}

// RecentLedger returns the latest sends across all days.
func (db *DB) RecentLedger(ctx context.Context, limit int) ([]LedgerEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, day, time, sent_at, product_id, block FROM ledger ORDER BY sent_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "database: recent ledger")
	}
	defer rows.Close()
	return scanLedger(rows)
}

// SentIDs returns the set of products already sent on day.
func (db *DB) SentIDs(ctx context.Context, day string) (map[string]bool, error) {
	entries, err := db.LedgerForDay(ctx, day)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.ProductID] = true
	}
	return out, nil
}

// CountSent returns how many ledger rows exist for day.
func (db *DB) CountSent(ctx context.Context, day string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger WHERE day = ?", day).Scan(&n)
	return n, eris.Wrap(err, "database: count sent")
}

func scanLedger(rows *sql.Rows) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var sentAt string
		if err := rows.Scan(&e.ID, &e.Day, &e.Time, &sentAt, &e.ProductID, &e.Block); err != nil {
			return nil, eris.Wrap(err, "database: scan ledger")
		}
		e.SentAt, _ = parseTS(sentAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
