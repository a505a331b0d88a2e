package database

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// AcquireLease takes the named lease for owner until now+ttl. It succeeds
// when the lease is free, expired, or already held by owner.
func (db *DB) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
INSERT INTO locks (key, owner, expires_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
WHERE locks.expires_at < ? OR locks.owner = excluded.owner`,
		key, owner, formatTS(now.Add(ttl)), formatTS(now))
	if err != nil {
		return false, eris.Wrapf(err, "database: acquire lease %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "database: acquire lease rows")
	}
	return n == 1, nil
}

// ReleaseLease drops the lease if owner still holds it.
func (db *DB) ReleaseLease(ctx context.Context, key, owner string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM locks WHERE key = ? AND owner = ?", key, owner)
	return eris.Wrapf(err, "database: release lease %s", key)
}
