package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ConfigurationError lists every problem found in a configuration. It is
// fatal and reported before any side effect.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration:\n  - " + strings.Join(e.Problems, "\n  - ")
}

func (e *ConfigurationError) addf(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks value ranges and cross-field consistency.
func (c *Config) Validate() error {
	e := &ConfigurationError{}

	g := c.Gate
	if g.PriceMin < 0 || g.PriceMax <= g.PriceMin {
		e.addf("gate: price bounds [%g, %g] are invalid", g.PriceMin, g.PriceMax)
	}
	if g.MinRating < 0 || g.MinRating > 5 {
		e.addf("gate.min_rating %g outside [0, 5]", g.MinRating)
	}
	if g.RatingCoverageMin < 0 || g.RatingCoverageMin > 1 {
		e.addf("gate.rating_coverage_min %g outside [0, 1]", g.RatingCoverageMin)
	}
	if g.RelaxPriceMinFactor <= 0 || g.RelaxPriceMinFactor > 1 {
		e.addf("gate.relax_price_min_factor %g outside (0, 1]", g.RelaxPriceMinFactor)
	}
	if g.RelaxPriceMaxFactor < 1 {
		e.addf("gate.relax_price_max_factor %g must be >= 1", g.RelaxPriceMaxFactor)
	}
	if g.LowAppealRegex != "" {
		if _, err := regexp.Compile(g.LowAppealRegex); err != nil {
			e.addf("gate.low_appeal_regex: %v", err)
		}
	}

	s := c.Score
	if s.IdealLow > s.IdealHigh {
		e.addf("score: ideal range [%g, %g] is inverted", s.IdealLow, s.IdealHigh)
	}
	if s.IdealLow < g.PriceMin || s.IdealHigh > g.PriceMax {
		e.addf("score: ideal range [%g, %g] must sit inside price bounds [%g, %g]", s.IdealLow, s.IdealHigh, g.PriceMin, g.PriceMax)
	}
	w := s.Weights
	if w.Offer < 0 || w.Price < 0 || w.Trust < 0 || w.Decision < 0 {
		e.addf("score.weights must be non-negative")
	}
	if w.Offer+w.Price+w.Trust+w.Decision <= 0 {
		e.addf("score.weights must not all be zero")
	}

	if c.Selection.MaxItems <= 0 {
		e.addf("selection.max_items must be positive")
	}
	if c.Selection.MaxPerCategory <= 0 {
		e.addf("selection.max_per_category must be positive")
	}
	if c.Selection.MinDistinctCategories < 0 {
		e.addf("selection.min_distinct_categories must not be negative")
	}

	if d, err := time.ParseDuration(c.Cooldown); err != nil || d < 0 {
		e.addf("cooldown %q is not a valid duration", c.Cooldown)
	}
	if c.ShortLinks.MinCoverage < 0 || c.ShortLinks.MinCoverage > 1 {
		e.addf("shortlinks.min_coverage %g outside [0, 1]", c.ShortLinks.MinCoverage)
	}

	c.validateSchedule(e)
	c.validateDispatch(e)

	if a := c.Sources.Affiliate; a.Enabled {
		if a.Endpoint == "" {
			e.addf("sources.affiliate.endpoint is required")
		}
		if id, secret := a.Credentials(); id == "" || secret == "" {
			e.addf("sources.affiliate: env %s and %s must be set", a.AppIDEnv, a.SecretEnv)
		}
		if a.Limit <= 0 || a.Limit > 50 {
			e.addf("sources.affiliate.limit %d outside [1, 50]", a.Limit)
		}
	}

	switch c.Lock.Backend {
	case "sqlite":
	case "redis":
		if c.Lock.RedisAddr == "" {
			e.addf("lock.redis_addr is required for the redis backend")
		}
	default:
		e.addf("lock.backend %q must be sqlite or redis", c.Lock.Backend)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		e.addf("log.format %q must be json or console", c.Log.Format)
	}

	if len(e.Problems) > 0 {
		return e
	}
	return nil
}

func (c *Config) validateSchedule(e *ConfigurationError) {
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			e.addf("schedule.timezone %q: %v", c.Schedule.Timezone, err)
		}
	}
	if len(c.Schedule.Blocks) == 0 {
		e.addf("schedule.blocks must not be empty")
	}
	seen := make(map[string]bool)
	for i, b := range c.Schedule.Blocks {
		if b.ID == "" {
			e.addf("schedule.blocks[%d]: id is required", i)
		} else if seen[strings.ToUpper(b.ID)] {
			e.addf("schedule.blocks[%d]: duplicate id %q", i, b.ID)
		}
		seen[strings.ToUpper(b.ID)] = true
		start, err1 := parseClock(b.Start)
		end, err2 := parseClock(b.End)
		if err1 != nil || err2 != nil || end <= start {
			e.addf("schedule.blocks[%d]: window %s-%s is invalid", i, b.Start, b.End)
		}
		if b.Quota <= 0 {
			e.addf("schedule.blocks[%d]: quota must be positive", i)
		}
	}
}

func (c *Config) validateDispatch(e *ConfigurationError) {
	d := c.Dispatch
	start, err1 := parseClock(d.WindowStart)
	end, err2 := parseClock(d.WindowEnd)
	if err1 != nil || err2 != nil || end <= start {
		e.addf("dispatch: window %s-%s is invalid", d.WindowStart, d.WindowEnd)
	}
	if len(d.IntervalMinutes) == 0 {
		e.addf("dispatch.interval_minutes must not be empty")
	}
	for _, m := range d.IntervalMinutes {
		if m <= 0 {
			e.addf("dispatch.interval_minutes: %d is not positive", m)
		}
	}
	if d.JitterSeconds < 0 {
		e.addf("dispatch.jitter_seconds must not be negative")
	}
	if d.DailySends < 0 {
		e.addf("dispatch.daily_sends must not be negative")
	}
	switch d.Sink {
	case "stdout":
	case "webhook":
		if d.Webhook.URL == "" {
			e.addf("dispatch.webhook.url is required for the webhook sink")
		}
	default:
		e.addf("dispatch.sink %q must be stdout or webhook", d.Sink)
	}
}

// parseClock parses "HH:MM" into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
