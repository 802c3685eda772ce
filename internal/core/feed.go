package core

import (
	"context"
	"fmt"

	"github.com/yanun0323/logs"

	"hftcore/internal/codec"
	"hftcore/internal/model"
	"hftcore/internal/recorder"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

var marketDataTypes = []schema.EventType{
	schema.EventQuoteTick,
	schema.EventTradeTick,
	schema.EventBar,
	schema.EventOrderBookDelta,
	schema.EventOrderBookDeltas,
}

// ReadMarketData collects the market data a journal saved, in journal order.
func ReadMarketData(ctx context.Context, cfg recorder.PlaybackConfig) ([]model.Data, error) {
	cfg.Types = marketDataTypes
	cfg.Speed = 0
	pb, err := recorder.NewPlayback(cfg)
	if err != nil {
		return nil, err
	}
	c := codec.New(codec.Options{})
	var items []model.Data
	err = pb.Run(ctx, func(h schema.EventHeader, payload []byte) error {
		v, err := c.Decode(payload)
		if err != nil {
			return fmt.Errorf("decode record %d: %w", h.Seq, err)
		}
		d, ok := v.(model.Data)
		if !ok {
			return fmt.Errorf("%w: record %d is %T", exception.ErrInvalidArgument, h.Seq, v)
		}
		items = append(items, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// LoadFeed hands each item to the sandbox data client of its venue. Items
// for a venue without a client are skipped and counted.
func (k *Kernel) LoadFeed(items []model.Data) (loaded, skipped int) {
	byVenue := make(map[model.Venue][]model.Data, len(k.dataClients))
	for _, d := range items {
		byVenue[d.Instrument().Venue] = append(byVenue[d.Instrument().Venue], d)
	}
	for venue, batch := range byVenue {
		dc, ok := k.DataClient(venue)
		if !ok {
			skipped += len(batch)
			continue
		}
		dc.Load(batch...)
		loaded += len(batch)
	}
	if skipped > 0 {
		logs.Warnf("[Kernel] %d feed items have no data client", skipped)
	}
	return loaded, skipped
}
