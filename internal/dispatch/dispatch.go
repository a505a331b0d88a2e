// Package dispatch walks a day's send plan in real time, posting each offer to
// a sink inside the send window and recording it in the cooldown ledger.
package dispatch

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/TobiSchelling/offerpilot/internal/ledger"
	"github.com/TobiSchelling/offerpilot/internal/schedule"
	"github.com/TobiSchelling/offerpilot/internal/sink"
)

// State of a dispatch run.
type State string

const (
	StateWaiting   State = "WAITING_FOR_WINDOW"
	StateSending   State = "SENDING"
	StateCompleted State = "COMPLETED"
	StateStopped   State = "STOPPED_OUT_OF_WINDOW"
)

// Clock abstracts time so runs can be driven in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ledger is the cooldown bookkeeping used while sending.
type Ledger interface {
	Claim(ctx context.Context, productID, block string, now func() time.Time, send func(ctx context.Context) error) error
	SentToday(ctx context.Context, now time.Time) (map[string]bool, error)
	CountToday(ctx context.Context, now time.Time) (int, error)
}

// Config controls pacing.
type Config struct {
	WindowStart     time.Duration // offset from midnight
	WindowEnd       time.Duration
	IntervalMinutes []int
	JitterSeconds   int
	DailySends      int // 0 means unlimited
	TestMode        bool
	Location        *time.Location
}

// Item is one planned send.
type Item struct {
	Slot    time.Time
	Block   string
	Message sink.Message
}

// Result summarises a run.
type Result struct {
	State   State
	Sent    []string
	Skipped int
	Failed  int
}

// Dispatcher runs send plans.
type Dispatcher struct {
	cfg    Config
	sink   sink.Sink
	ledger Ledger
	clock  Clock
	rng    *rand.Rand
	log    *zap.Logger
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(d *Dispatcher) { d.clock = c } }

// WithRand replaces the pacing random source.
func WithRand(r *rand.Rand) Option { return func(d *Dispatcher) { d.rng = r } }

// New creates a dispatcher.
func New(cfg Config, s sink.Sink, l Ledger, opts ...Option) *Dispatcher {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	d := &Dispatcher{
		cfg:    cfg,
		sink:   s,
		ledger: l,
		clock:  RealClock(),
		log:    zap.L().Named("dispatch"),
	}
	for _, o := range opts {
		o(d)
	}
	if d.rng == nil {
		seed := uint64(d.clock.Now().UnixNano())
		d.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return d
}

// Pause returns the delay after a send: a random configured interval plus
// random jitter.
func (d *Dispatcher) Pause() time.Duration {
	var p time.Duration
	if n := len(d.cfg.IntervalMinutes); n > 0 {
		p = time.Duration(d.cfg.IntervalMinutes[d.rng.IntN(n)]) * time.Minute
	}
	if d.cfg.JitterSeconds > 0 {
		p += time.Duration(d.rng.IntN(d.cfg.JitterSeconds+1)) * time.Second
	}
	return p
}

func (d *Dispatcher) setState(res *Result, s State) {
	if res.State != s {
		d.log.Info("state", zap.String("state", string(s)))
	}
	res.State = s
}

// Run sends items in order. It returns when the plan is exhausted, the daily
// cap or test mode stops it, the window closes, or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, items []Item) (*Result, error) {
	res := &Result{}
	now := d.clock.Now().In(d.cfg.Location)
	start := schedule.At(now, d.cfg.WindowStart)
	end := schedule.At(now, d.cfg.WindowEnd)

	if !now.Before(end) {
		d.setState(res, StateStopped)
		return res, nil
	}
	if now.Before(start) {
		d.setState(res, StateWaiting)
		d.log.Info("waiting for window", zap.Time("opens_at", start))
		if err := d.clock.Sleep(ctx, start.Sub(now)); err != nil {
			return res, err
		}
	}
	d.setState(res, StateSending)

	count, err := d.ledger.CountToday(ctx, d.clock.Now())
	if err != nil {
		return res, err
	}
	sent, err := d.ledger.SentToday(ctx, d.clock.Now())
	if err != nil {
		return res, err
	}

	for i, it := range items {
		id := it.Message.ProductID
		if d.cfg.DailySends > 0 && count >= d.cfg.DailySends {
			d.log.Info("daily cap reached", zap.Int("sent", count))
			break
		}
		if sent[id] {
			res.Skipped++
			continue
		}

		now := d.clock.Now()
		if !now.Before(end) || it.Slot.After(end) {
			d.setState(res, StateStopped)
			return res, nil
		}
		if it.Slot.After(now) {
			if err := d.clock.Sleep(ctx, it.Slot.Sub(now)); err != nil {
				return res, err
			}
		}

		msg := it.Message
		err := d.ledger.Claim(ctx, id, it.Block, d.clock.Now, func(ctx context.Context) error {
			return d.sink.Send(ctx, msg)
		})
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrAlreadySent), errors.Is(err, ledger.ErrCooldown):
			d.log.Info("skip", zap.String("product_id", id), zap.Error(err))
			res.Skipped++
			continue
		case errors.Is(err, ledger.ErrNotRecorded):
			// The message went out; count it so the loop paces as usual.
			d.log.Error("sent without ledger row", zap.String("product_id", id), zap.Error(err))
		case ctx.Err() != nil:
			return res, ctx.Err()
		default:
			d.log.Error("send failed", zap.String("product_id", id), zap.Error(err))
			res.Failed++
			continue
		}

		count++
		sent[id] = true
		res.Sent = append(res.Sent, id)
		d.log.Info("sent",
			zap.String("product_id", id),
			zap.String("block", it.Block),
			zap.Int("today", count),
		)

		if d.cfg.TestMode {
			d.log.Info("test mode: stopping after first send")
			break
		}
		if i < len(items)-1 {
			pause := d.Pause()
			if !d.clock.Now().Add(pause).Before(end) {
				d.log.Info("next send would fall outside the window", zap.Duration("pause", pause))
				d.setState(res, StateStopped)
				return res, nil
			}
			if err := d.clock.Sleep(ctx, pause); err != nil {
				return res, err
			}
		}
	}

	d.setState(res, StateCompleted)
	return res, nil
}

// Validate checks the pacing config.
func (c Config) Validate() error {
	if c.WindowEnd <= c.WindowStart {
		return eris.New("dispatch: window end must be after window start")
	}
	for _, m := range c.IntervalMinutes {
		if m <= 0 {
			return eris.Errorf("dispatch: interval %d must be positive", m)
		}
	}
	if c.JitterSeconds < 0 || c.DailySends < 0 {
		return eris.New("dispatch: jitter and daily sends must not be negative")
	}
	return nil
}
