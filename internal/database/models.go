package database

import "time"

// Product statuses.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// Product is a catalog row. Numeric fields are nil when never observed.
type Product struct {
	ID            string
	Title         string
	Link          string
	ShortLink     string
	ImageURL      string
	Price         *float64
	OriginalPrice *float64
	MaxPrice      *float64 // highest sale price ever observed
	DiscountPct   *float64
	Rating        *float64
	Reviews       *float64
	Sold          *float64
	Category      string
	Block         string
	Status        string
	LastSentAt    *time.Time
	FirstSeenAt   *string
	UpdatedAt     *string
}

// LedgerEntry is one successful send.
type LedgerEntry struct {
	ID        int64
	Day       string // YYYY-MM-DD in the schedule timezone
	Time      string // HH:MM:SS in the schedule timezone
	SentAt    time.Time
	ProductID string
	Block     string
}

// SelectionRow is one slot of a day's plan. Product fields come from the
// catalog when the slot is filled.
type SelectionRow struct {
	Day       string
	Position  int
	SlotTime  string // HH:MM
	ProductID string
	Block     string
	Valid     bool
	Reason    string
	Score     float64
	Caption   string
	Product   *Product
}

// RunReport summarizes one selection run.
type RunReport struct {
	ID         string
	Day        string
	Pass       string
	Fetched    int
	Eligible   int
	Selected   int
	Planned    int
	RatingGate bool
	Funnel     []FunnelStage
	CreatedAt  *string
}

// FunnelStage is a stored diagnostic funnel step.
type FunnelStage struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Stats holds catalog and ledger counters for the status command.
type Stats struct {
	Products     int
	Active       int
	Paused       int
	SentToday    int
	PlannedToday int
	LedgerRows   int
	LastRunDay   string
}
