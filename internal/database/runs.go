package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// InsertRunReport stores a run summary and returns its generated id.
func (db *DB) InsertRunReport(ctx context.Context, r RunReport) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	funnel, err := json.Marshal(r.Funnel)
	if err != nil {
		return "", eris.Wrap(err, "database: encode funnel")
	}
	_, err = db.conn.ExecContext(ctx, `
INSERT INTO run_reports (id, day, pass, fetched, eligible, selected, planned, rating_gate, funnel)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Day, r.Pass, r.Fetched, r.Eligible, r.Selected, r.Planned, r.RatingGate, string(funnel))
	if err != nil {
		return "", eris.Wrap(err, "database: insert run report")
	}
	return r.ID, nil
}

// ListRunReports returns the latest run reports, newest first.
func (db *DB) ListRunReports(ctx context.Context, limit int) ([]RunReport, error) {
	rows, err := db.conn.QueryContext(ctx, `
SELECT id, day, pass, fetched, eligible, selected, planned, rating_gate, funnel, created_at
FROM run_reports ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "database: list run reports")
	}
	defer rows.Close()

	var out []RunReport
	for rows.Next() {
		var r RunReport
		var funnel sql.NullString
		if err := rows.Scan(&r.ID, &r.Day, &r.Pass, &r.Fetched, &r.Eligible, &r.Selected,
			&r.Planned, &r.RatingGate, &funnel, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "database: scan run report")
		}
		if funnel.Valid && funnel.String != "" {
			_ = json.Unmarshal([]byte(funnel.String), &r.Funnel)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetStats returns catalog and ledger counters.
func (db *DB) GetStats(ctx context.Context, today string) (*Stats, error) {
	s := &Stats{}
	queries := []struct {
		dest  any
		query string
		args  []any
	}{
		{&s.Products, "SELECT COUNT(*) FROM products", nil},
		{&s.Active, "SELECT COUNT(*) FROM products WHERE status = 'active'", nil},
		{&s.Paused, "SELECT COUNT(*) FROM products WHERE status = 'paused'", nil},
		{&s.SentToday, "SELECT COUNT(*) FROM ledger WHERE day = ?", []any{today}},
		{&s.PlannedToday, "SELECT COUNT(*) FROM selection WHERE day = ? AND valid = 1", []any{today}},
		{&s.LedgerRows, "SELECT COUNT(*) FROM ledger", nil},
		{&s.LastRunDay, "SELECT COALESCE(MAX(day), '') FROM run_reports", nil},
	}
	for _, q := range queries {
		if err := db.conn.QueryRowContext(ctx, q.query, q.args...).Scan(q.dest); err != nil {
			return nil, eris.Wrap(err, "database: stats")
		}
	}
	return s, nil
}
