package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/TobiSchelling/offerpilot/internal/database"
	"github.com/TobiSchelling/offerpilot/internal/dispatch"
	"github.com/TobiSchelling/offerpilot/internal/media"
	"github.com/TobiSchelling/offerpilot/internal/schedule"
	"github.com/TobiSchelling/offerpilot/internal/sink"
)

// DispatchItems loads the stored plan for day and turns its filled slots into
// dispatch items. Images come from cache when prefetched.
func DispatchItems(ctx context.Context, db *database.DB, day string, loc *time.Location, cache *media.Cache) ([]dispatch.Item, error) {
	rows, err := db.GetSelection(ctx, day)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Errorf("pipeline: no plan stored for %s", day)
	}
	midnight, err := database.ParseDay(day, loc)
	if err != nil {
		return nil, err
	}

	var items []dispatch.Item
	for _, r := range rows {
		if !r.Valid || r.ProductID == "" {
			continue
		}
		clock, err := schedule.ParseClock(r.SlotTime)
		if err != nil {
			return nil, err
		}
		msg := sink.Message{ProductID: r.ProductID, Caption: r.Caption}
		if r.Product != nil {
			msg.ImageURL = r.Product.ImageURL
			if cache != nil {
				msg.Image = cache.Load(msg.ImageURL)
			}
		}
		items = append(items, dispatch.Item{
			Slot:    schedule.At(midnight, clock),
			Block:   r.Block,
			Message: msg,
		})
	}
	return items, nil
}

// PlanImages lists the image URLs of the stored plan for day.
func PlanImages(ctx context.Context, db *database.DB, day string) ([]string, error) {
	rows, err := db.GetSelection(ctx, day)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, r := range rows {
		if r.Valid && r.Product != nil && r.Product.ImageURL != "" {
			urls = append(urls, r.Product.ImageURL)
		}
	}
	return urls, nil
}
