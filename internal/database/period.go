package database

import (
	"time"
)

const dayLayout = "2006-01-02"

// DayOf returns t's calendar day in loc as YYYY-MM-DD.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(dayLayout)
}

// GetToday returns today's date as YYYY-MM-DD in loc.
func GetToday(loc *time.Location) string {
	return DayOf(time.Now(), loc)
}

// ParseDay parses a YYYY-MM-DD day at midnight in loc.
func ParseDay(day string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(dayLayout, day, loc)
}

// FormatDayDisplay formats a day for human-readable display, e.g. "Feb 06, 2026".
func FormatDayDisplay(day string) string {
	d, err := time.Parse(dayLayout, day)
	if err != nil {
		return day
	}
	return d.Format("Jan 02, 2006")
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTS(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
