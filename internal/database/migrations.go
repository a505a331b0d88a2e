package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS products (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    link TEXT NOT NULL DEFAULT '',
    short_link TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    price REAL,
    original_price REAL,
    max_price REAL,
    discount_pct REAL,
    rating REAL,
    reviews REAL,
    sold REAL,
    category TEXT NOT NULL DEFAULT '',
    block TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'paused')),
    last_sent_at TEXT,
    first_seen_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    updated_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE TABLE IF NOT EXISTS selection (
    day TEXT NOT NULL,
    position INTEGER NOT NULL,
    slot_time TEXT NOT NULL,
    product_id TEXT NOT NULL DEFAULT '',
    block TEXT NOT NULL,
    valid INTEGER NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    score REAL NOT NULL DEFAULT 0,
    caption TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (day, position)
);

CREATE TABLE IF NOT EXISTS ledger (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    day TEXT NOT NULL,
    time TEXT NOT NULL,
    sent_at TEXT NOT NULL,
    product_id TEXT NOT NULL,
    block TEXT NOT NULL DEFAULT '',
    UNIQUE(day, product_id)
);

CREATE TABLE IF NOT EXISTS run_reports (
    id TEXT PRIMARY KEY,
    day TEXT NOT NULL,
    pass TEXT NOT NULL DEFAULT '',
    fetched INTEGER DEFAULT 0,
    eligible INTEGER DEFAULT 0,
    selected INTEGER DEFAULT 0,
    planned INTEGER DEFAULT 0,
    rating_gate INTEGER DEFAULT 0,
    funnel TEXT,
    created_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_products_status ON products(status);
CREATE INDEX IF NOT EXISTS idx_ledger_product ON ledger(product_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_run_reports_day ON run_reports(day);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "lease locks",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS locks (
    key TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    expires_at TEXT NOT NULL
);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
