// Package ledger is the cooldown bookkeeping: when each product was last
// sent, and which products already went out today.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/TobiSchelling/offerpilot/internal/database"
	"github.com/TobiSchelling/offerpilot/internal/lock"
)

var (
	// ErrAlreadySent means the product was sent earlier the same day.
	ErrAlreadySent = eris.New("ledger: already sent today")
	// ErrCooldown means the product's cooldown has not elapsed.
	ErrCooldown = eris.New("ledger: cooldown active")
	// ErrNotRecorded means the send went out but the ledger write kept failing.
	ErrNotRecorded = eris.New("ledger: sent but not recorded")
)

// Store is the persistence the ledger needs.
type Store interface {
	LastSentAt(ctx context.Context, productID string) (time.Time, bool, error)
	RecordSend(ctx context.Context, e database.LedgerEntry) error
	SentIDs(ctx context.Context, day string) (map[string]bool, error)
	CountSent(ctx context.Context, day string) (int, error)
}

type Ledger struct {
	store       Store
	locker      lock.Locker
	cooldown    time.Duration
	loc         *time.Location
	lockTimeout time.Duration
	lockPoll    time.Duration
	recordTries int
}

// New creates a ledger. Day boundaries are computed in loc.
func New(store Store, locker lock.Locker, cooldown time.Duration, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{
		store:       store,
		locker:      locker,
		cooldown:    cooldown,
		loc:         loc,
		lockTimeout: 10 * time.Second,
		lockPoll:    200 * time.Millisecond,
		recordTries: 3,
	}
}

// Day returns the ledger day of t.
func (l *Ledger) Day(t time.Time) string {
	return database.DayOf(t, l.loc)
}

// Cooldown returns the configured cooldown.
func (l *Ledger) Cooldown() time.Duration {
	return l.cooldown
}

// IsEligible reports whether the product was never sent or its last send is
// at least one cooldown ago.
func (l *Ledger) IsEligible(ctx context.Context, productID string, now time.Time) (bool, error) {
	last, ok, err := l.store.LastSentAt(ctx, productID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return now.Sub(last) >= l.cooldown, nil
}

// LastSent returns the last send time of each id that was ever sent.
func (l *Ledger) LastSent(ctx context.Context, ids []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(ids))
	for _, id := range ids {
		last, ok, err := l.store.LastSentAt(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = last
		}
	}
	return out, nil
}

// RecordSent upserts the send for the product's day. Calling it twice on the
// same day leaves one ledger row.
func (l *Ledger) RecordSent(ctx context.Context, productID, block string, now time.Time) error {
	local := now.In(l.loc)
	return l.store.RecordSend(ctx, database.LedgerEntry{
		Day:       local.Format("2006-01-02"),
		Time:      local.Format("15:04:05"),
		SentAt:    now,
		ProductID: productID,
		Block:     block,
	})
}

// SentToday returns the products already sent on now's day.
func (l *Ledger) SentToday(ctx context.Context, now time.Time) (map[string]bool, error) {
	return l.store.SentIDs(ctx, l.Day(now))
}

// CountToday returns how many sends are recorded for now's day.
func (l *Ledger) CountToday(ctx context.Context, now time.Time) (int, error) {
	return l.store.CountSent(ctx, l.Day(now))
}

// Claim runs send for a product inside the ledger's critical section: it takes
// the product lock, re-checks that the product was not sent today and is out
// of cooldown, calls send, and records the send only when send succeeds.
func (l *Ledger) Claim(ctx context.Context, productID, block string, now func() time.Time, send func(ctx context.Context) error) error {
	if l.locker != nil {
		lk := l.locker.New("ledger:" + productID)
		if err := lock.Wait(ctx, lk, l.lockTimeout, l.lockPoll); err != nil {
			return eris.Wrapf(err, "ledger: lock %s", productID)
		}
		defer func() {
			if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
				zap.L().Warn("ledger: release lock", zap.String("product_id", productID), zap.Error(err))
			}
		}()
	}

	t := now()
	sent, err := l.SentToday(ctx, t)
	if err != nil {
		return err
	}
	if sent[productID] {
		return ErrAlreadySent
	}
	ok, err := l.IsEligible(ctx, productID, t)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCooldown
	}

	if err := send(ctx); err != nil {
		return err
	}
	return l.recordAfterSend(ctx, productID, block, now())
}

// recordAfterSend retries the ledger write of a send that already went out.
// Cancellation of ctx does not stop it.
func (l *Ledger) recordAfterSend(ctx context.Context, productID, block string, at time.Time) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for try := 1; try <= l.recordTries; try++ {
		if err = l.RecordSent(ctx, productID, block, at); err == nil {
			return nil
		}
		zap.L().Warn("record send failed",
			zap.String("product_id", productID), zap.Int("try", try), zap.Error(err))
		if try < l.recordTries {
			time.Sleep(l.lockPoll)
		}
	}
	zap.L().Error("sent but not recorded, product may be posted again",
		zap.String("product_id", productID), zap.Time("sent_at", at), zap.Error(err))
	return eris.Wrapf(ErrNotRecorded, "%s: %v", productID, err)
}
