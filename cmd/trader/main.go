package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"hftcore/internal/clock"
	"hftcore/internal/core"
	"hftcore/internal/model"
	"hftcore/internal/ops"
	"hftcore/internal/recorder"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

const (
	modeBacktest = "backtest"
	modePaper    = "paper"
)

type options struct {
	configPath   string
	envFile      string
	mode         string
	dataDir      string
	dataPrefix   string
	speed        float64
	snapshotPath string
	reload       time.Duration
	orderEvery   int
	maxOrders    int
	orderQty     string
	pyroscope    string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to JSON or YAML config")
	flag.StringVar(&opts.envFile, "env", "", "Env file to load (default: .env if present)")
	flag.StringVar(&opts.mode, "mode", modeBacktest, "Run mode: backtest|paper")
	flag.StringVar(&opts.dataDir, "data", "", "Journal directory holding the market data to trade")
	flag.StringVar(&opts.dataPrefix, "data-prefix", "", "Market data journal file prefix (default: journal)")
	flag.Float64Var(&opts.speed, "speed", 1, "Paper mode pacing (1=recorded speed, 0=no pacing)")
	flag.StringVar(&opts.snapshotPath, "snapshot", "", "Position snapshot output (default: <journal dir>/positions.json)")
	flag.DurationVar(&opts.reload, "config-reload-interval", 2*time.Second, "Trading state reload interval in paper mode (0=disable)")
	flag.IntVar(&opts.orderEvery, "order-every", 10, "Send one market order every N quotes (0=disable)")
	flag.IntVar(&opts.maxOrders, "max-orders", 0, "Maximum orders to send (0=unlimited)")
	flag.StringVar(&opts.orderQty, "order-qty", "0.01", "Market order quantity")
	flag.StringVar(&opts.pyroscope, "pyroscope", "", "Pyroscope server address, enables profiling")
	flag.Parse()

	if err := run(opts); err != nil {
		logs.Errorf("[Trader] %+v", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.mode != modeBacktest && opts.mode != modePaper {
		return fmt.Errorf("%w: unknown mode %q", exception.ErrInvalidArgument, opts.mode)
	}
	qty, err := model.QuantityFromString(opts.orderQty)
	if err != nil {
		return err
	}
	var envFiles []string
	if opts.envFile != "" {
		envFiles = append(envFiles, opts.envFile)
	}
	loaded, err := ops.Load(opts.configPath, envFiles...)
	if err != nil {
		return err
	}

	if opts.pyroscope != "" {
		loaded.Pyroscope.ServerAddress = opts.pyroscope
		loaded.Features.Profiling = true
	}
	if loaded.Features.Profiling {
		stop, err := ops.StartProfiler(loaded.Pyroscope, loaded.Core.TraderID.String())
		if err != nil {
			return err
		}
		defer func() { _ = stop() }()
	}

	var feed []model.Data
	if opts.dataDir != "" {
		feed, err = core.ReadMarketData(context.Background(), recorder.PlaybackConfig{
			Dir:        opts.dataDir,
			FilePrefix: opts.dataPrefix,
		})
		if err != nil {
			return err
		}
		logs.Infof("[Trader] %d market data items from %s", len(feed), opts.dataDir)
	}

	db, err := loaded.OpenDatabase()
	if err != nil {
		return err
	}
	var clk clock.Clock = clock.NewLiveClock(nil)
	if opts.mode == modeBacktest {
		clk = clock.NewTestClock(feedStart(feed))
	}
	k, err := core.NewKernel(loaded.Core, clk, db)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer func() {
		if err := k.Dispose(context.Background()); err != nil {
			logs.Errorf("[Trader] dispose, err: %+v", err)
		}
	}()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("[Trader] shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := k.Start(ctx); err != nil {
		return err
	}
	k.LoadFeed(feed)

	r := core.NewRunner(k, core.Options{Speed: opts.speed, ExitOnFeedEnd: true})
	if err := newPinger(ctx, r, opts.orderEvery, opts.maxOrders, qty).Start(); err != nil {
		return err
	}

	var runErr error
	if opts.mode == modeBacktest {
		runErr = r.RunBacktest(ctx)
	} else {
		if opts.configPath != "" && opts.reload > 0 {
			go watchConfig(ctx, opts.configPath, envFiles, opts.reload, r)
		}
		runErr = r.Run(ctx)
	}

	if err := writeSnapshot(k, snapshotPath(loaded, opts.snapshotPath)); err != nil {
		logs.Errorf("[Trader] write snapshot, err: %+v", err)
	}
	logMetrics(k)
	if err := k.Stop(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func feedStart(feed []model.Data) model.UnixNanos {
	var start model.UnixNanos
	for _, d := range feed {
		if ts := d.EventTs(); start == 0 || ts < start {
			start = ts
		}
	}
	return start
}

func snapshotPath(loaded ops.Loaded, path string) string {
	if path != "" {
		return path
	}
	if loaded.Core.Journal != nil {
		return filepath.Join(loaded.Core.Journal.Dir, "positions.json")
	}
	return ""
}

func writeSnapshot(k *core.Kernel, path string) error {
	if path == "" {
		return nil
	}
	snap := k.Snapshot()
	if err := state.WriteSnapshot(path, snap); err != nil {
		return err
	}
	logs.Infof("[Trader] snapshot %s written, %d positions", path, len(snap.Positions))
	return nil
}

func logMetrics(k *core.Kernel) {
	m := k.Metrics().Snapshot()
	logs.Infof("[Trader] events=%d denied=%d rejected=%d journal=%d/%d drops=%d command_latency=%+v event_latency=%+v",
		m.Published(), m.Denied(), m.Rejected(), m.JournalAppends, m.JournalDrops,
		m.QueueDrops, m.CommandLatency, m.EventLatency)
}

// watchConfig reloads the config file when it changes and applies the risk
// trading state through the runner.
func watchConfig(ctx context.Context, path string, envFiles []string, interval time.Duration, r *core.Runner) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Warnf("[Trader] stat config %s, err: %+v", path, err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			loaded, err := ops.Load(path, envFiles...)
			if err != nil {
				logs.Warnf("[Trader] reload config %s, err: %+v", path, err)
				continue
			}
			ts := loaded.Core.Risk.State
			r.Execute(ctx, func(k *core.Kernel) error {
				if k.RiskEngine().TradingState() != ts {
					k.RiskEngine().SetTradingState(ts)
					logs.Infof("[Trader] trading state set to %s", ts)
				}
				return nil
			})
		}
	}
}
