/*
Core wires the trading engines into a kernel and drives them from one runner goroutine.

# Kernel
  - clock: TestClock for backtests and replay, LiveClock for paper and live trading
  - message bus: the only path between components
  - cache: instruments, market data, orders, positions and accounts, optionally persisted
  - data engine, risk engine, execution engine, order emulator, reconciliation
  - sandbox venues: simulated execution and data clients per configured venue
  - journal: write-ahead log of every published order, position and account event

# Runner
  - inbound channels: market data, execution events, commands, timer events
  - backtest: pulls the sandbox data in ts_event order and fires due timers first
  - live: multiplexes the channels until shutdown, paces sandbox data on the wall clock

# Produce
  - order commands to venues through the risk and execution engines
  - journal segments replayable with cmd/tools/replay
*/
package core

import (
	"fmt"

	"hftcore/internal/cache"
	"hftcore/internal/data"
	"hftcore/internal/exec"
	"hftcore/internal/model"
	"hftcore/internal/reconcile"
	"hftcore/internal/recorder"
	"hftcore/internal/risk"
	"hftcore/internal/sandbox"
	"hftcore/pkg/exception"
)

const defaultQueueSize = 8192

// Config is everything the kernel needs to build its components.
type Config struct {
	TraderID   model.TraderID
	InstanceID model.UUID4
	// Name prefixes the bus log lines.
	Name string

	Data      data.Config
	Exec      exec.Config
	Risk      risk.Config
	Cache     cache.Config
	Reconcile reconcile.Config
	// ReconcileOnStart runs a full reconciliation against every venue on Start.
	ReconcileOnStart bool

	Instruments []*model.Instrument
	Venues      []sandbox.Config
	// Journal enables the event journal when set.
	Journal *recorder.Config

	QueueSize int
}

// DefaultConfig returns a kernel configuration with every engine at its defaults.
func DefaultConfig(trader model.TraderID) Config {
	return Config{
		TraderID:   trader,
		InstanceID: model.NewUUID4(),
		Name:       "Trader",
		Data:       data.DefaultConfig(),
		Exec:       exec.DefaultConfig(),
		Risk:       risk.DefaultConfig(),
		Cache:      cache.DefaultConfig(),
		Reconcile:  reconcile.DefaultConfig(),
		QueueSize:  defaultQueueSize,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "Trader"
	}
	if c.InstanceID == (model.UUID4{}) {
		c.InstanceID = model.NewUUID4()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.TraderID.IsZero() {
		return fmt.Errorf("%w: trader id is empty", exception.ErrInvalidArgument)
	}
	seen := make(map[model.Venue]struct{}, len(c.Venues))
	for _, v := range c.Venues {
		if err := v.Validate(); err != nil {
			return err
		}
		if _, dup := seen[v.Venue]; dup {
			return fmt.Errorf("%w: venue %s configured twice", exception.ErrDuplicateKey, v.Venue)
		}
		seen[v.Venue] = struct{}{}
	}
	for _, inst := range c.Instruments {
		if inst == nil {
			return fmt.Errorf("%w: nil instrument", exception.ErrInvalidArgument)
		}
		if err := inst.Validate(); err != nil {
			return err
		}
	}
	return nil
}
