// Package schedule turns the day's selection into a time-slotted send plan.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/TobiSchelling/offerpilot/internal/offer"
)

// NoEligibleOffer tags a slot whose block pool ran dry.
const NoEligibleOffer = "NO_ELIGIBLE_OFFER"

// Block is a named wall-clock window [Start, End) with a slot quota.
// Start and End are offsets from midnight.
type Block struct {
	ID    string
	Start time.Duration
	End   time.Duration
	Quota int
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, eris.Wrapf(err, "schedule: parse clock %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// FormatClock renders an offset from midnight as "HH:MM".
func FormatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// NewBlock builds a block from "HH:MM" bounds.
func NewBlock(id, start, end string, quota int) (Block, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Block{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Block{}, err
	}
	if e <= s || quota <= 0 {
		return Block{}, eris.Errorf("schedule: block %s %s-%s x%d is invalid", id, start, end, quota)
	}
	return Block{ID: strings.ToUpper(strings.TrimSpace(id)), Start: s, End: e, Quota: quota}, nil
}

// Slot is one send time.
type Slot struct {
	Time  time.Time
	Block string
	Index int // position within the block
}

// At returns the wall-clock instant offset d after midnight of day in loc.
func At(day time.Time, d time.Duration) time.Time {
	y, m, dd := day.Date()
	return time.Date(y, m, dd, 0, 0, int(d/time.Second), 0, day.Location())
}

// Slots lists every slot of the day in block order. Slot i of a block sits at
// start + i*(end-start)/quota.
func Slots(day time.Time, blocks []Block) []Slot {
	var out []Slot
	for _, b := range blocks {
		step := (b.End - b.Start) / time.Duration(b.Quota)
		for i := 0; i < b.Quota; i++ {
			out = append(out, Slot{Time: At(day, b.Start+time.Duration(i)*step), Block: b.ID, Index: i})
		}
	}
	return out
}

// Entry is one plan line: a slot and either an offer or a placeholder reason.
type Entry struct {
	Slot
	Offer  *offer.ScoredOffer
	Valid  bool
	Reason string
}

// Plan is the ordered send plan of one day.
type Plan struct {
	Day     string
	Entries []Entry
}

// ValidCount returns the number of filled slots.
func (p Plan) ValidCount() int {
	n := 0
	for _, e := range p.Entries {
		if e.Valid {
			n++
		}
	}
	return n
}

// Partition splits the selection into per-block pools, keeping selection
// order inside each pool. An offer whose Block names a configured block goes
// there. The others go to the block with the lowest fill ratio against its
// quota, earlier blocks winning ties, which is plain round-robin when quotas
// are equal.
func Partition(items []offer.ScoredOffer, blocks []Block) map[string][]offer.ScoredOffer {
	pools := make(map[string][]offer.ScoredOffer, len(blocks))
	known := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		known[b.ID] = true
	}

	var floating []offer.ScoredOffer
	for _, it := range items {
		id := strings.ToUpper(strings.TrimSpace(it.Block))
		if known[id] {
			pools[id] = append(pools[id], it)
			continue
		}
		floating = append(floating, it)
	}

	for _, it := range floating {
		best := -1
		bestRatio := 0.0
		for i, b := range blocks {
			ratio := float64(len(pools[b.ID])) / float64(b.Quota)
			if best < 0 || ratio < bestRatio {
				best, bestRatio = i, ratio
			}
		}
		if best < 0 {
			break
		}
		id := blocks[best].ID
		pools[id] = append(pools[id], it)
	}
	return pools
}

// Build fills every slot from its block's pool. Each block walks its own pool
// with a cursor, skipping offers in used (sent today or taken by an earlier
// slot) without rewinding. A dry pool yields NoEligibleOffer placeholders and
// never borrows from another block.
func Build(day time.Time, blocks []Block, pools map[string][]offer.ScoredOffer, used map[string]bool) Plan {
	taken := make(map[string]bool, len(used))
	for id, ok := range used {
		if ok {
			taken[id] = true
		}
	}

	plan := Plan{Day: day.Format("2006-01-02")}
	cursors := make(map[string]int, len(blocks))
	for _, slot := range Slots(day, blocks) {
		pool := pools[slot.Block]
		cur := cursors[slot.Block]
		for cur < len(pool) && taken[pool[cur].ProductID] {
			cur++
		}
		entry := Entry{Slot: slot}
		if cur < len(pool) {
			so := pool[cur]
			entry.Offer = &so
			entry.Valid = true
			taken[so.ProductID] = true
			cur++
		} else {
			entry.Reason = NoEligibleOffer
		}
		cursors[slot.Block] = cur
		plan.Entries = append(plan.Entries, entry)
	}
	return plan
}
