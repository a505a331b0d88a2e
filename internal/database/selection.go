package database

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
)

// ReplaceSelection stores the day's plan, replacing any earlier plan for the
// same day.
func (db *DB) ReplaceSelection(ctx context.Context, day string, rows []SelectionRow) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM selection WHERE day = ?", day); err != nil {
			return eris.Wrap(err, "database: clear selection")
		}
		for i, r := range rows {
			_, err := tx.ExecContext(ctx, `
INSERT INTO selection (day, position, slot_time, product_id, block, valid, reason, score, caption)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				day, i, r.SlotTime, r.ProductID, r.Block, r.Valid, r.Reason, r.Score, r.Caption)
			if err != nil {
				return eris.Wrapf(err, "database: insert selection slot %d", i)
			}
		}
		return nil
	})
}

// GetSelection returns the stored plan for day in slot order, joined with the
// catalog rows of the assigned products.
func (db *DB) GetSelection(ctx context.Context, day string) ([]SelectionRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
SELECT day, position, slot_time, product_id, block, valid, reason, score, caption
FROM selection WHERE day = ? ORDER BY position`, day)
	if err != nil {
		return nil, eris.Wrap(err, "database: get selection")
	}

	var out []SelectionRow
	var ids []string
	for rows.Next() {
		var r SelectionRow
		if err := rows.Scan(&r.Day, &r.Position, &r.SlotTime, &r.ProductID, &r.Block,
			&r.Valid, &r.Reason, &r.Score, &r.Caption); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "database: scan selection")
		}
		if r.ProductID != "" {
			ids = append(ids, r.ProductID)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	products, err := db.ProductsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if p, ok := products[out[i].ProductID]; ok {
			out[i].Product = &p
		}
	}
	return out, nil
}
