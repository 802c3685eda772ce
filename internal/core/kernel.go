package core

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"go.uber.org/multierr"

	"hftcore/internal/bus"
	"hftcore/internal/cache"
	"hftcore/internal/clock"
	"hftcore/internal/codec"
	"hftcore/internal/command"
	"hftcore/internal/data"
	"hftcore/internal/emulator"
	"hftcore/internal/exec"
	"hftcore/internal/model"
	"hftcore/internal/obs"
	"hftcore/internal/og"
	"hftcore/internal/reconcile"
	"hftcore/internal/recorder"
	"hftcore/internal/risk"
	"hftcore/internal/sandbox"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

// Kernel owns every component of one trader instance. It must only be used
// from the runner goroutine once started.
type Kernel struct {
	cfg   Config
	clock clock.Clock
	db    cache.Database

	bus        *bus.MessageBus
	cache      *cache.Cache
	data       *data.Engine
	exec       *exec.Engine
	risk       *risk.Engine
	emulator   *emulator.Emulator
	reconciler *reconcile.Manager
	metrics    *obs.Metrics
	journal    *recorder.Journal

	execClients []*sandbox.ExecutionClient
	dataClients []*sandbox.DataClient

	running bool
}

// NewKernel builds the components and binds their bus endpoints. db may be
// nil for an in-memory cache.
func NewKernel(cfg Config, clk clock.Clock, db cache.Database) (*Kernel, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		return nil, fmt.Errorf("%w: kernel needs a clock", exception.ErrInvalidArgument)
	}

	k := &Kernel{
		cfg:     cfg,
		clock:   clk,
		db:      db,
		bus:     bus.NewMessageBus(cfg.TraderID, cfg.Name),
		metrics: obs.NewMetrics(),
	}
	k.cache = cache.New(cfg.Cache, db)
	k.data = data.NewEngine(cfg.Data, clk, k.bus, k.cache)
	k.exec = exec.NewEngine(cfg.Exec, clk, k.bus, k.cache)
	k.risk = risk.NewEngine(cfg.Risk, clk, k.bus, k.cache)
	k.emulator = emulator.New(clk, k.bus, k.cache)
	k.reconciler = reconcile.NewManager(cfg.Reconcile, clk, k.bus, k.cache, k.exec)

	if err := multierr.Combine(
		k.data.RegisterEndpoints(),
		k.exec.RegisterEndpoints(),
		k.risk.RegisterEndpoints(),
		k.emulator.RegisterEndpoints(),
		k.reconciler.RegisterEndpoints(),
	); err != nil {
		return nil, errors.Wrap(err, "register endpoints")
	}

	clk.RegisterDefaultHandler(func(ev clock.TimeEvent) {
		k.bus.Publish(bus.TimeEventsTopic(ev.Name), ev)
	})

	for _, venue := range cfg.Venues {
		if err := k.addVenue(venue); err != nil {
			return nil, err
		}
	}

	for _, topic := range []string{bus.TopicAllOrderEvents, bus.TopicAllPositionEvents, bus.TopicAllAccountEvents} {
		if _, err := k.bus.Subscribe(topic, k.observe, 100); err != nil {
			return nil, err
		}
	}

	if cfg.Journal != nil {
		jcfg := *cfg.Journal
		w, err := recorder.NewWriter(jcfg)
		if err != nil {
			return nil, err
		}
		k.journal = recorder.NewJournal(w, k.bus, clk, k.metrics)
	}
	return k, nil
}

// addVenue registers a sandbox execution and data client pair for venue.
func (k *Kernel) addVenue(cfg sandbox.Config) error {
	ec, err := sandbox.NewExecutionClient(cfg, k.clock, k.bus, k.cache)
	if err != nil {
		return err
	}
	if err := k.exec.RegisterClient(ec); err != nil {
		return err
	}
	k.reconciler.AddClient(ec)

	dc := sandbox.NewDataClient(cfg.ClientID, cfg.Venue, k.HandleData)
	if err := k.data.RegisterClient(dc); err != nil {
		return err
	}
	k.execClients = append(k.execClients, ec)
	k.dataClients = append(k.dataClients, dc)
	slices.SortFunc(k.dataClients, func(a, b *sandbox.DataClient) int {
		return strings.Compare(a.ID().String(), b.ID().String())
	})
	return nil
}

func (k *Kernel) Config() Config                     { return k.cfg }
func (k *Kernel) Clock() clock.Clock                 { return k.clock }
func (k *Kernel) Bus() *bus.MessageBus               { return k.bus }
func (k *Kernel) Cache() *cache.Cache                { return k.cache }
func (k *Kernel) DataEngine() *data.Engine           { return k.data }
func (k *Kernel) ExecEngine() *exec.Engine           { return k.exec }
func (k *Kernel) RiskEngine() *risk.Engine           { return k.risk }
func (k *Kernel) Emulator() *emulator.Emulator       { return k.emulator }
func (k *Kernel) Reconciler() *reconcile.Manager     { return k.reconciler }
func (k *Kernel) Metrics() *obs.Metrics              { return k.metrics }
func (k *Kernel) Journal() *recorder.Journal         { return k.journal }
func (k *Kernel) IsRunning() bool                    { return k.running }
func (k *Kernel) DataClients() []*sandbox.DataClient { return k.dataClients }

// DataClient returns the sandbox data client of venue.
func (k *Kernel) DataClient(venue model.Venue) (*sandbox.DataClient, bool) {
	for _, c := range k.dataClients {
		if c.Venue() == venue {
			return c, true
		}
	}
	return nil, false
}

// ExecutionClient returns the sandbox execution client of venue.
func (k *Kernel) ExecutionClient(venue model.Venue) (*sandbox.ExecutionClient, bool) {
	for _, c := range k.execClients {
		if c.Venue() == venue {
			return c, true
		}
	}
	return nil, false
}

// Start loads the cache, connects every client and, when configured,
// reconciles with the venues before any command is accepted.
func (k *Kernel) Start(ctx context.Context) error {
	if k.running {
		return nil
	}
	if err := k.cache.Load(ctx); err != nil {
		return errors.Wrap(err, "load cache")
	}
	for _, inst := range k.cfg.Instruments {
		if err := k.cache.AddInstrument(inst); err != nil {
			return errors.Wrapf(err, "add instrument %s", inst.ID)
		}
	}
	if k.journal != nil {
		if err := k.journal.Writer().Start(ctx); err != nil {
			return err
		}
		if err := k.journal.Start(); err != nil {
			return err
		}
	}

	k.exec.Start()
	if err := k.exec.Connect(ctx); err != nil {
		return errors.Wrap(err, "connect execution clients")
	}
	if err := k.data.Connect(ctx); err != nil {
		return errors.Wrap(err, "connect data clients")
	}
	k.emulator.Start()

	if k.cfg.ReconcileOnStart {
		if err := k.reconciler.Reconcile(ctx); err != nil {
			return err
		}
	}
	if err := k.reconciler.Start(); err != nil {
		return err
	}
	k.running = true
	logs.Infof("[Kernel] %s started, venues: %d, instruments: %d", k.cfg.TraderID, len(k.execClients), len(k.cfg.Instruments))
	return nil
}

// Stop cancels the timers, disconnects the clients, closes the journal and
// flushes the cache. Every step runs even when an earlier one fails.
func (k *Kernel) Stop(ctx context.Context) error {
	if !k.running {
		return nil
	}
	k.running = false

	k.reconciler.Stop()
	k.clock.CancelTimers()
	err := multierr.Combine(
		k.data.Disconnect(ctx),
		k.exec.Disconnect(ctx),
	)
	k.emulator.Dispose()
	if k.journal != nil {
		k.journal.Stop()
		err = multierr.Append(err, k.journal.Writer().Close())
	}
	err = multierr.Append(err, k.cache.Flush(ctx))
	if !k.cache.CheckResiduals() {
		logs.Warnf("[Kernel] residual open orders or positions at stop")
	}

	s := k.metrics.Snapshot()
	logs.Infof("[Kernel] %s stopped, published: %d, denied: %d, rejected: %d, reconciliations: %d, data dropped: %d, account rejects: %d, journal: %d (dropped %d), command latency: %+v",
		k.cfg.TraderID, s.Published(), s.Denied(), s.Rejected(), s.Reconciliations, s.DataDropped, s.AccountRejects, s.JournalAppends, s.JournalDrops, s.CommandLatency)
	return err
}

// Dispose releases the cache backend and the engines. The kernel cannot be
// started again.
func (k *Kernel) Dispose(ctx context.Context) error {
	err := k.Stop(ctx)
	k.data.Dispose()
	err = multierr.Append(err, k.cache.Dispose(ctx))
	k.bus.Dispose()
	return err
}

// CheckIntegrity reports a broken cache as an invariant violation.
func (k *Kernel) CheckIntegrity() error {
	if !k.cache.CheckIntegrity() {
		return fmt.Errorf("%w: cache integrity check failed", exception.ErrInvariantViolation)
	}
	return nil
}

// Snapshot captures the cached positions for replay verification.
func (k *Kernel) Snapshot() state.Snapshot {
	var seq uint64
	if k.journal != nil {
		seq = k.journal.Seq()
	}
	return state.BuildSnapshot(k.cache.Positions(cache.Filter{}), seq, int64(k.clock.TimestampNs()))
}

// HandleData routes what a data client produced into the data engine.
func (k *Kernel) HandleData(msg any) {
	switch m := msg.(type) {
	case model.Data:
		if t, err := codec.TypeOf(m); err == nil {
			k.metrics.ObserveEvent(t, false, k.lag(m.InitTs()))
		}
		if k.journal != nil {
			k.journal.RecordData(m)
		}
		k.data.Process(m)
		k.metrics.SetDataDropped(k.data.Stats().Dropped)
	case *command.Response:
		k.data.Response(m)
	default:
		logs.Warnf("[Kernel] unexpected data %T", msg)
	}
}

// HandleEvent routes what an execution client reported into the execution
// engine or reconciliation.
func (k *Kernel) HandleEvent(msg any) error {
	switch m := msg.(type) {
	case og.OrderEvent:
		k.exec.Process(m)
		k.metrics.SetAccountRejects(k.exec.Stats().AccountRejects)
	case *state.AccountState:
		return k.exec.ProcessAccountState(m)
	case *model.OrderStatusReport, *model.ExecutionMassStatus:
		return k.bus.Send(bus.EndpointExecReconcile, m)
	default:
		return fmt.Errorf("%w: execution event %T", exception.ErrInvalidArgument, msg)
	}
	return nil
}

// Dispatch runs one command. Trading commands go through the risk engine;
// data commands go to the data engine; a func(*Kernel) error runs as is.
func (k *Kernel) Dispatch(cmd any) error {
	switch c := cmd.(type) {
	case command.TradingCommand:
		k.publishInitialized(c)
		k.risk.Execute(c)
		return nil
	case *command.Subscribe:
		return k.data.Subscribe(c)
	case *command.Unsubscribe:
		return k.data.Unsubscribe(c)
	case *command.Request:
		return k.data.Request(c)
	case func(*Kernel) error:
		return c(k)
	case nil:
		return fmt.Errorf("%w: nil command", exception.ErrInvalidArgument)
	}
	return fmt.Errorf("%w: command %T", exception.ErrInvalidArgument, cmd)
}

// publishInitialized announces orders the cache has not seen yet, so the
// journal holds the event every later order event builds on.
func (k *Kernel) publishInitialized(cmd command.TradingCommand) {
	for _, o := range command.Orders(cmd) {
		if _, ok := k.cache.Order(o.ClientOrderID); ok {
			continue
		}
		k.bus.Publish(bus.OrderEventsTopic(o.ClientOrderID), o.InitEvent())
	}
}

func (k *Kernel) observe(msg any) {
	t, err := codec.TypeOf(msg)
	if err != nil {
		return
	}
	var (
		ts             model.UnixNanos
		reconciliation bool
	)
	switch x := msg.(type) {
	case og.OrderEvent:
		h := x.Header()
		ts, reconciliation = h.TsEvent, h.Reconciliation
	case state.PositionEvent:
		s := x.Snapshot()
		ts, reconciliation = s.TsEvent, s.Reconciliation
	case *state.AccountState:
		ts = x.TsEvent
	}
	k.metrics.ObserveEvent(t, reconciliation, k.lag(ts))
}

func (k *Kernel) lag(ts model.UnixNanos) time.Duration {
	if ts == 0 {
		return 0
	}
	return k.clock.TimestampNs().Sub(ts)
}
