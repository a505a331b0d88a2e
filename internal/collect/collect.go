// Package collect pulls raw offer records from the configured sources.
package collect

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/TobiSchelling/offerpilot/internal/offer"
)

// Source yields raw offer records.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]offer.Record, error)
}

// Result holds the results of a collection run.
type Result struct {
	Records []offer.Record
	Sources map[string]int
	Failed  map[string]string
}

// Collector orchestrates record collection from every source.
type Collector struct {
	sources []Source
}

// NewCollector creates a collector over sources.
func NewCollector(sources ...Source) *Collector {
	return &Collector{sources: sources}
}

// Sources returns the configured sources.
func (c *Collector) Sources() []Source {
	return c.sources
}

// Collect fetches from every source in order. A failing source is logged and
// skipped; the run fails only when every source failed.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	r := &Result{Sources: make(map[string]int), Failed: make(map[string]string)}
	if len(c.sources) == 0 {
		return nil, eris.New("collect: no sources configured")
	}

	for _, s := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := zap.L().With(zap.String("source", s.Name()))
		log.Info("collecting")

		records, err := s.Fetch(ctx)
		if err != nil {
			log.Error("source failed", zap.Error(err))
			r.Failed[s.Name()] = err.Error()
			continue
		}
		r.Records = append(r.Records, records...)
		r.Sources[s.Name()] += len(records)
		log.Info("collected", zap.Int("records", len(records)))
	}

	if len(r.Failed) == len(c.sources) {
		return r, eris.Errorf("collect: all %d sources failed", len(c.sources))
	}
	zap.L().Info("collection complete",
		zap.Int("records", len(r.Records)),
		zap.Int("sources", len(r.Sources)),
		zap.Int("failed", len(r.Failed)),
	)
	return r, nil
}
