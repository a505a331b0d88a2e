package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/offerpilot/internal/database"
	"github.com/TobiSchelling/offerpilot/internal/ledger"
	"github.com/TobiSchelling/offerpilot/internal/sink"
)

type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		c.now = c.now.Add(d)
	}
	c.slept = append(c.slept, d)
	return nil
}

type recordingSink struct {
	sent []string
	fail map[string]bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, msg sink.Message) error {
	if s.fail[msg.ProductID] {
		return &sink.Error{Sink: "recording", ProductID: msg.ProductID, Err: errors.New("boom")}
	}
	s.sent = append(s.sent, msg.ProductID)
	return nil
}

type fixture struct {
	clock  *fakeClock
	sink   *recordingSink
	ledger *ledger.Ledger
}

func at(h, m int) time.Time {
	return time.Date(2026, 3, 5, h, m, 0, 0, time.UTC)
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &fixture{
		clock:  &fakeClock{now: start},
		sink:   &recordingSink{fail: map[string]bool{}},
		ledger: ledger.New(db, nil, 48*time.Hour, time.UTC),
	}
}

func baseConfig() Config {
	return Config{
		WindowStart:     9 * time.Hour,
		WindowEnd:       23*time.Hour + 50*time.Minute,
		IntervalMinutes: []int{8},
		Location:        time.UTC,
	}
}

func (f *fixture) dispatcher(cfg Config) *Dispatcher {
	return New(cfg, f.sink, f.ledger, WithClock(f.clock), WithRand(rand.New(rand.NewPCG(1, 2))))
}

func item(id string, slot time.Time) Item {
	return Item{Slot: slot, Block: "A", Message: sink.Message{ProductID: id, Caption: "c " + id}}
}

func TestRunWaitsForWindowThenPaces(t *testing.T) {
	f := newFixture(t, at(7, 0))
	res, err := f.dispatcher(baseConfig()).Run(context.Background(), []Item{
		item("a", at(9, 0)),
		item("b", at(9, 10)),
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []string{"a", "b"}, res.Sent)
	assert.Equal(t, []time.Duration{2 * time.Hour, 8 * time.Minute, 2 * time.Minute}, f.clock.slept)

	n, err := f.ledger.CountToday(context.Background(), f.clock.now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunAfterWindowStops(t *testing.T) {
	f := newFixture(t, at(23, 55))
	res, err := f.dispatcher(baseConfig()).Run(context.Background(), []Item{item("a", at(9, 0))})
	require.NoError(t, err)
	assert.Equal(t, StateStopped, res.State)
	assert.Empty(t, f.sink.sent)
}

func TestRunStopsWhenSlotPastWindow(t *testing.T) {
	f := newFixture(t, at(23, 40))
	res, err := f.dispatcher(baseConfig()).Run(context.Background(), []Item{
		item("a", at(23, 40)),
		item("b", at(23, 55)),
	})
	require.NoError(t, err)
	assert.Equal(t, StateStopped, res.State)
	assert.Equal(t, []string{"a"}, res.Sent)
}

func TestRunDoesNotPausePastWindowEnd(t *testing.T) {
	f := newFixture(t, at(23, 45))
	cfg := baseConfig()
	cfg.IntervalMinutes = []int{12}
	res, err := f.dispatcher(cfg).Run(context.Background(), []Item{
		item("a", at(23, 45)),
		item("b", at(23, 46)),
	})
	require.NoError(t, err)
	assert.Equal(t, StateStopped, res.State)
	assert.Equal(t, []string{"a"}, res.Sent)
	assert.Empty(t, f.clock.slept)
	assert.True(t, f.clock.now.Before(at(23, 50)))
}

type unrecordedLedger struct{}

func (unrecordedLedger) Claim(ctx context.Context, id, _ string, _ func() time.Time, send func(context.Context) error) error {
	if err := send(ctx); err != nil {
		return err
	}
	return fmt.Errorf("%s: %w", id, ledger.ErrNotRecorded)
}

func (unrecordedLedger) SentToday(context.Context, time.Time) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (unrecordedLedger) CountToday(context.Context, time.Time) (int, error) { return 0, nil }

func TestUnrecordedSendCountsAsSent(t *testing.T) {
	clock := &fakeClock{now: at(10, 0)}
	s := &recordingSink{fail: map[string]bool{}}
	d := New(baseConfig(), s, unrecordedLedger{}, WithClock(clock), WithRand(rand.New(rand.NewPCG(1, 2))))
	res, err := d.Run(context.Background(), []Item{item("a", at(10, 0)), item("a", at(10, 5))})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Sent)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 1, res.Skipped, "same product is not sent twice in one run")
	assert.Equal(t, []string{"a"}, s.sent)
}

func TestSinkFailureContinuesWithoutSleeping(t *testing.T) {
	f := newFixture(t, at(10, 0))
	f.sink.fail["a"] = true
	res, err := f.dispatcher(baseConfig()).Run(context.Background(), []Item{
		item("a", at(10, 0)),
		item("b", at(10, 0)),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"b"}, res.Sent)
	assert.Empty(t, f.clock.slept)

	sent, err := f.ledger.SentToday(context.Background(), f.clock.now)
	require.NoError(t, err)
	assert.False(t, sent["a"], "failed send is not recorded")
}

func TestTestModeStopsAfterFirstSend(t *testing.T) {
	f := newFixture(t, at(10, 0))
	cfg := baseConfig()
	cfg.TestMode = true
	res, err := f.dispatcher(cfg).Run(context.Background(), []Item{
		item("a", at(10, 0)),
		item("b", at(10, 5)),
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []string{"a"}, f.sink.sent)
}

func TestDailyCapCountsEarlierSends(t *testing.T) {
	f := newFixture(t, at(10, 0))
	ctx := context.Background()
	require.NoError(t, f.ledger.RecordSent(ctx, "x", "A", at(9, 0)))
	require.NoError(t, f.ledger.RecordSent(ctx, "y", "A", at(9, 30)))

	cfg := baseConfig()
	cfg.DailySends = 3
	res, err := f.dispatcher(cfg).Run(ctx, []Item{
		item("a", at(10, 0)),
		item("b", at(10, 0)),
		item("c", at(10, 0)),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Sent)
}

func TestResumeSkipsAlreadySent(t *testing.T) {
	f := newFixture(t, at(10, 0))
	ctx := context.Background()
	require.NoError(t, f.ledger.RecordSent(ctx, "a", "A", at(9, 0)))
	require.NoError(t, f.ledger.RecordSent(ctx, "c", "A", at(2, 0).AddDate(0, 0, -1)))

	res, err := f.dispatcher(baseConfig()).Run(ctx, []Item{
		item("a", at(9, 0)),
		item("b", at(10, 0)),
		item("c", at(10, 0)),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, f.sink.sent)
	assert.Equal(t, 2, res.Skipped, "one sent today, one in cooldown")
}

func TestRunHonoursCancellation(t *testing.T) {
	f := newFixture(t, at(7, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.dispatcher(baseConfig()).Run(ctx, []Item{item("a", at(9, 0))})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.sink.sent)
}

func TestPauseRange(t *testing.T) {
	d := New(Config{IntervalMinutes: []int{8, 10, 12}, JitterSeconds: 25}, nil, nil,
		WithClock(&fakeClock{now: at(0, 0)}), WithRand(rand.New(rand.NewPCG(7, 9))))
	seen := map[time.Duration]bool{}
	for i := 0; i < 200; i++ {
		p := d.Pause()
		assert.GreaterOrEqual(t, p, 8*time.Minute)
		assert.LessOrEqual(t, p, 12*time.Minute+25*time.Second)
		seen[p.Truncate(time.Minute)] = true
	}
	assert.Len(t, seen, 3)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, baseConfig().Validate())
	bad := baseConfig()
	bad.WindowEnd = bad.WindowStart
	assert.Error(t, bad.Validate())
	bad = baseConfig()
	bad.IntervalMinutes = []int{0}
	assert.Error(t, bad.Validate())
}
