package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/yanun0323/logs"

	"hftcore/internal/mdg"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/ops"
	"hftcore/internal/recorder"
	"hftcore/pkg/exception"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("[MDG] %+v", err)
		os.Exit(1)
	}
}

func run() error {
	def := mdg.DefaultConfig()
	dir := flag.String("dir", "testdata/journal", "Journal directory for market data")
	configPath := flag.String("config", "", "Path to JSON or YAML config (instruments)")
	ticks := flag.Int("ticks", 1000, "Number of items to generate")
	interval := flag.Duration("interval", def.Interval, "Time between items")
	seed := flag.Uint64("seed", def.Seed, "RNG seed")
	basePrice := flag.String("base-price", def.BasePrice.String(), "Starting mid price")
	size := flag.String("size", def.Size.String(), "Quote or trade size")
	spread := flag.Int64("spread", def.Spread, "Bid/ask spread in ticks")
	step := flag.Int64("max-step", def.MaxStep, "Largest mid move per item in ticks")
	kind := flag.String("kind", "quote", "Market data kind: quote|trade")
	flag.Parse()

	if *ticks <= 0 {
		return fmt.Errorf("%w: ticks must be > 0", exception.ErrInvalidArgument)
	}
	cfg := def
	cfg.Interval, cfg.Seed, cfg.Spread, cfg.MaxStep = *interval, *seed, *spread, *step
	var err error
	if cfg.BasePrice, err = model.PriceFromString(*basePrice); err != nil {
		return err
	}
	if cfg.Size, err = model.QuantityFromString(*size); err != nil {
		return err
	}
	switch *kind {
	case "quote":
		cfg.Kind = enum.DataQuote
	case "trade":
		cfg.Kind = enum.DataTrade
	default:
		return fmt.Errorf("%w: unsupported kind %s", exception.ErrInvalidArgument, *kind)
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		return err
	}
	gen, err := mdg.NewGenerator(loaded.Core.Instruments, cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	w, err := recorder.NewWriter(recorder.DefaultConfig(*dir))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	err = mdg.WriteJournal(ctx, w, gen.Generate(*ticks))
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	logs.Infof("[MDG] wrote %d %s items for %d instruments to %s", w.Written(), cfg.Kind, len(loaded.Core.Instruments), *dir)
	return nil
}
