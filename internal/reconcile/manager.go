package reconcile

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/yanun0323/logs"
	"go.uber.org/multierr"

	"hftcore/internal/bus"
	"hftcore/internal/cache"
	"hftcore/internal/clock"
	"hftcore/internal/exec"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/state"
	"hftcore/pkg/backoff"
	"hftcore/pkg/exception"
)

const (
	// ReasonInflightTimeout rejects orders the venue never confirmed.
	ReasonInflightTimeout = "INFLIGHT_TIMEOUT"

	inflightTimer = "ReconciliationInflightCheck"
)

// Engine is the part of the execution engine reconciliation drives.
type Engine interface {
	Process(ev og.OrderEvent)
	ProcessAccountState(s *state.AccountState) error
	ExternalOrderClaim(id model.InstrumentID) (model.StrategyID, bool)
	OmsType(strategy model.StrategyID, venue model.Venue) enum.OmsType
}

var _ Engine = (*exec.Engine)(nil)

// AccountReporter is implemented by clients that can report balances.
type AccountReporter interface {
	GenerateAccountState(ctx context.Context) (*state.AccountState, error)
}

type Stats struct {
	Runs          uint64
	Events        uint64
	External      uint64
	InferredFills uint64
	PositionFixes uint64
	Failures      uint64
}

// Manager must only be used from the runner goroutine.
type Manager struct {
	cfg    Config
	clock  clock.Clock
	bus    *bus.MessageBus
	cache  *cache.Cache
	engine Engine

	clients   map[model.ClientID]exec.LiveClient
	inflight  map[model.ClientOrderID]int
	processed map[model.TradeID]struct{}

	stats Stats
}

func NewManager(cfg Config, clk clock.Clock, mb *bus.MessageBus, c *cache.Cache, engine Engine) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Manager{
		cfg:       cfg,
		clock:     clk,
		bus:       mb,
		cache:     c,
		engine:    engine,
		clients:   map[model.ClientID]exec.LiveClient{},
		inflight:  map[model.ClientOrderID]int{},
		processed: map[model.TradeID]struct{}{},
	}
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) Stats() Stats { return m.stats }

func (m *Manager) AddClient(c exec.LiveClient) {
	m.clients[c.ID()] = c
}

// RegisterEndpoints binds ExecEngine.reconcile, where single order reports
// such as QueryOrder answers arrive.
func (m *Manager) RegisterEndpoints() error {
	return m.bus.Register(bus.EndpointExecReconcile, m.onReport)
}

func (m *Manager) onReport(msg any) {
	switch r := msg.(type) {
	case *model.OrderStatusReport:
		if err := m.ReconcileOrder(r); err != nil {
			logs.Errorf("[Reconciliation] %+v", err)
		}
	case *model.ExecutionMassStatus:
		if err := m.ReconcileMassStatus(r); err != nil {
			logs.Errorf("[Reconciliation] %+v", err)
		}
	default:
		logs.Errorf("[Reconciliation] reconcile: unexpected %T", msg)
	}
}

// Start schedules the periodic in-flight order check.
func (m *Manager) Start() error {
	if m.cfg.InflightCheckIntervalMs <= 0 {
		return nil
	}
	interval := time.Duration(m.cfg.InflightCheckIntervalMs) * time.Millisecond
	return m.clock.SetTimer(inflightTimer, interval, 0, 0, func(clock.TimeEvent) {
		m.CheckInflight(context.Background())
	})
}

func (m *Manager) Stop() {
	m.clock.CancelTimer(inflightTimer)
}

// Reconcile runs ReconcileClient for every registered client in id order.
func (m *Manager) Reconcile(ctx context.Context) error {
	ids := make([]model.ClientID, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b model.ClientID) int { return compareIDs(a.String(), b.String()) })

	var errs error
	for _, id := range ids {
		errs = multierr.Append(errs, m.ReconcileClient(ctx, m.clients[id]))
	}
	return errs
}

// ReconcileClient asks the client for its mass status and converges on it,
// retrying with backoff until MaxAttempts runs out.
func (m *Manager) ReconcileClient(ctx context.Context, client exec.LiveClient) error {
	m.stats.Runs++
	logs.Infof("[Reconciliation] reconciling %s (lookback %d min)", client.ID(), m.cfg.LookbackMins)
	err := m.cfg.backoff().Retry(ctx, nil, m.cfg.MaxAttempts, func(attempt int) error {
		ms, err := client.GenerateMassStatus(ctx, m.cfg.LookbackMins)
		if err != nil {
			logs.Warnf("[Reconciliation] %s mass status, attempt %d: %+v", client.ID(), attempt, err)
			return err
		}
		if ms == nil {
			return fmt.Errorf("%w: %s returned no mass status", exception.ErrInvalidArgument, client.ID())
		}
		if err := m.ReconcileMassStatus(ms); err != nil {
			logs.Warnf("[Reconciliation] %s attempt %d: %+v", client.ID(), attempt, err)
			return err
		}
		if reporter, ok := client.(AccountReporter); ok {
			s, err := reporter.GenerateAccountState(ctx)
			if err != nil {
				return err
			}
			if s != nil {
				s.IsReported = true
				if err := m.engine.ProcessAccountState(s); err != nil {
					return backoff.Permanent(err)
				}
			}
		}
		return nil
	})
	if err != nil {
		m.stats.Failures++
		return fmt.Errorf("%w: %s after %d attempts: %w", exception.ErrReconciliationFailure, client.ID(), m.cfg.MaxAttempts, err)
	}
	logs.Infof("[Reconciliation] %s reconciled", client.ID())
	return nil
}

// ReconcileMassStatus converges on one venue snapshot. Orders come first so
// position checks see their fills. The returned error lists every report the
// local state could not be brought in line with.
func (m *Manager) ReconcileMassStatus(ms *model.ExecutionMassStatus) error {
	fills := map[model.VenueOrderID][]model.FillReport{}
	for _, f := range ms.FillReports {
		fills[f.VenueOrderID] = append(fills[f.VenueOrderID], f)
	}

	var errs error
	reported := map[model.ClientOrderID]struct{}{}
	for i := range ms.OrderReports {
		r := &ms.OrderReports[i]
		id, err := m.reconcileOrder(r, fills[r.VenueOrderID])
		errs = multierr.Append(errs, err)
		if !id.IsZero() {
			reported[id] = struct{}{}
		}
		delete(fills, r.VenueOrderID)
	}

	// fills whose order fell outside the reported window
	for _, vid := range sortedVenueIDs(fills) {
		for _, f := range fills[vid] {
			errs = multierr.Append(errs, m.reconcileFillReport(f))
		}
	}

	m.cancelMissing(ms, reported)

	if !m.cfg.FilterPositionReports {
		for _, r := range ms.PositionReports {
			errs = multierr.Append(errs, m.reconcilePosition(r))
		}
	}
	m.bus.Publish(bus.ReportsTopic(ms.Venue), ms)
	return errs
}

// ReconcileOrder converges a single order on its venue report.
func (m *Manager) ReconcileOrder(r *model.OrderStatusReport) error {
	_, err := m.reconcileOrder(r, nil)
	return err
}

// cancelMissing cancels working orders at the venue that the venue no longer
// reports. In-flight orders are left to the in-flight check.
func (m *Manager) cancelMissing(ms *model.ExecutionMassStatus, reported map[model.ClientOrderID]struct{}) {
	for _, o := range m.cache.OrdersOpen(cache.Filter{Venue: ms.Venue}) {
		if !o.IsWorking() {
			continue
		}
		if _, ok := reported[o.ClientOrderID]; ok {
			continue
		}
		if cid, ok := m.cache.ClientID(o.ClientOrderID); ok && !ms.ClientID.IsZero() && cid != ms.ClientID {
			continue
		}
		logs.Warnf("[Reconciliation] %s is open locally but unknown to %s, canceling", o.ClientOrderID, ms.Venue)
		m.process(&og.OrderCanceled{EventBase: m.base(o, m.clock.TimestampNs())})
	}
}

// CheckInflight asks the venue about orders stuck in an in-flight status
// past the threshold. Orders the venue still does not know after
// InflightMaxRetries checks are resolved locally.
func (m *Manager) CheckInflight(ctx context.Context) {
	now := m.clock.TimestampNs()
	threshold := time.Duration(m.cfg.InflightThresholdMs) * time.Millisecond
	open := map[model.ClientOrderID]struct{}{}
	for _, o := range m.cache.OrdersInflight(cache.Filter{}) {
		open[o.ClientOrderID] = struct{}{}
		if now < o.TsLast.Add(threshold) {
			continue
		}
		client, ok := m.clientFor(o)
		if !ok {
			continue
		}
		r, err := client.GenerateOrderStatusReport(ctx, exec.ReportQuery{
			InstrumentID:  o.InstrumentID,
			ClientOrderID: o.ClientOrderID,
			VenueOrderID:  o.VenueOrderID,
		})
		if err != nil {
			logs.Warnf("[Reconciliation] query in-flight %s: %+v", o.ClientOrderID, err)
			continue
		}
		if r != nil {
			delete(m.inflight, o.ClientOrderID)
			if err := m.ReconcileOrder(r); err != nil {
				logs.Errorf("[Reconciliation] %+v", err)
			}
			continue
		}
		m.inflight[o.ClientOrderID]++
		if m.inflight[o.ClientOrderID] < m.cfg.InflightMaxRetries {
			continue
		}
		delete(m.inflight, o.ClientOrderID)
		m.resolveInflight(o, now)
	}
	for id := range m.inflight {
		if _, ok := open[id]; !ok {
			delete(m.inflight, id)
		}
	}
}

// resolveInflight settles an order the venue never heard of: a submission
// is rejected, a pending cancel or update means the order is gone.
func (m *Manager) resolveInflight(o *og.Order, ts model.UnixNanos) {
	logs.Warnf("[Reconciliation] %s still %s after %d checks", o.ClientOrderID, o.Status, m.cfg.InflightMaxRetries)
	if o.VenueOrderID.IsZero() {
		m.process(&og.OrderRejected{EventBase: m.base(o, ts), Reason: ReasonInflightTimeout})
		return
	}
	m.process(&og.OrderCanceled{EventBase: m.base(o, ts)})
}

func (m *Manager) clientFor(o *og.Order) (exec.LiveClient, bool) {
	if id, ok := m.cache.ClientID(o.ClientOrderID); ok {
		if c, found := m.clients[id]; found {
			return c, true
		}
	}
	for _, c := range m.clients {
		if c.Venue() == o.InstrumentID.Venue {
			return c, true
		}
	}
	return nil, false
}

func (m *Manager) base(o *og.Order, ts model.UnixNanos) og.EventBase {
	b := og.BaseFor(o, ts)
	b.TsInit = m.clock.TimestampNs()
	b.Reconciliation = true
	return b
}

func (m *Manager) process(ev og.OrderEvent) {
	m.stats.Events++
	logs.Debugf("[Reconciliation] %s %s", ev.EventType(), ev.Header().ClientOrderID)
	m.engine.Process(ev)
}

func sortedVenueIDs(fills map[model.VenueOrderID][]model.FillReport) []model.VenueOrderID {
	ids := make([]model.VenueOrderID, 0, len(fills))
	for id := range fills {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b model.VenueOrderID) int { return compareIDs(a.String(), b.String()) })
	return ids
}

func compareIDs(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
