package exec

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/yanun0323/logs"
	"go.uber.org/multierr"

	"hftcore/internal/bus"
	"hftcore/internal/cache"
	"hftcore/internal/clock"
	"hftcore/internal/command"
	"hftcore/internal/contingency"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

// ReasonTimeout is the denial reason for commands dispatched after their deadline.
const ReasonTimeout = "Timeout"

type Stats struct {
	Commands uint64
	Events   uint64
	Denied   uint64
	Rejected uint64
	Fills    uint64
	// AccountRejects counts fills whose balance change the account refused.
	AccountRejects uint64
}

// Engine must only be used from the runner goroutine.
type Engine struct {
	cfg   Config
	clock clock.Clock
	bus   *bus.MessageBus
	cache *cache.Cache

	clients       map[model.ClientID]Client
	routing       map[model.Venue]model.ClientID
	defaultClient model.ClientID
	external      map[model.ClientID]struct{}
	omsOverrides  map[model.StrategyID]enum.OmsType
	claims        map[model.InstrumentID]model.StrategyID

	contingency *contingency.Manager
	positionIDs *PositionIDGenerator

	stats Stats
}

func NewEngine(cfg Config, clk clock.Clock, mb *bus.MessageBus, c *cache.Cache) *Engine {
	e := &Engine{
		cfg:          cfg,
		clock:        clk,
		bus:          mb,
		cache:        c,
		clients:      map[model.ClientID]Client{},
		routing:      map[model.Venue]model.ClientID{},
		external:     map[model.ClientID]struct{}{},
		omsOverrides: map[model.StrategyID]enum.OmsType{},
		claims:       map[model.InstrumentID]model.StrategyID{},
		positionIDs:  NewPositionIDGenerator(mb.TraderID(), clk.TimestampNs),
	}
	e.contingency = contingency.NewManager(c, clk.TimestampNs, e, cfg.ActivateOTOOnPartialFill)
	for _, id := range cfg.ExternalClients {
		cid, err := model.NewClientID(id)
		if err != nil {
			logs.Warnf("[ExecEngine] invalid external client %q: %+v", id, err)
			continue
		}
		e.external[cid] = struct{}{}
	}
	for sid, oms := range cfg.OmsOverrides {
		id, err := model.NewStrategyID(sid)
		if err != nil {
			logs.Warnf("[ExecEngine] invalid OMS override %q: %+v", sid, err)
			continue
		}
		e.omsOverrides[id] = oms
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Stats() Stats { return e.stats }

func (e *Engine) Contingency() *contingency.Manager { return e.contingency }

func (e *Engine) PositionIDs() *PositionIDGenerator { return e.positionIDs }

// RegisterEndpoints binds ExecEngine.execute and ExecEngine.process.
func (e *Engine) RegisterEndpoints() error {
	return multierr.Combine(
		e.bus.Register(bus.EndpointExecExecute, e.onExecute),
		e.bus.Register(bus.EndpointExecProcess, e.onProcess),
	)
}

func (e *Engine) onExecute(msg any) {
	cmd, ok := msg.(command.TradingCommand)
	if !ok {
		logs.Errorf("[ExecEngine] execute: unexpected %T", msg)
		return
	}
	if err := e.Execute(cmd); err != nil {
		logs.Errorf("[ExecEngine] %s: %+v", cmd.Name(), err)
	}
}

func (e *Engine) onProcess(msg any) {
	switch m := msg.(type) {
	case og.OrderEvent:
		e.Process(m)
	case *state.AccountState:
		if err := e.ProcessAccountState(m); err != nil {
			logs.Errorf("[ExecEngine] account state: %+v", err)
		}
	default:
		logs.Errorf("[ExecEngine] process: unexpected %T", msg)
	}
}

// RegisterClient adds a client. Clients with a venue are routed to for that
// venue; the first client without one becomes the default.
func (e *Engine) RegisterClient(c Client) error {
	id := c.ID()
	if _, ok := e.clients[id]; ok {
		return fmt.Errorf("%w: execution client %s", exception.ErrDuplicateKey, id)
	}
	e.clients[id] = c
	if v := c.Venue(); !v.IsZero() {
		e.routing[v] = id
	} else if e.defaultClient.IsZero() {
		e.defaultClient = id
	}
	logs.Infof("[ExecEngine] registered client %s (%s)", id, c.OmsType())
	return nil
}

// RegisterDefaultClient routes every venue without its own client to c.
func (e *Engine) RegisterDefaultClient(c Client) error {
	if err := e.RegisterClient(c); err != nil {
		return err
	}
	e.defaultClient = c.ID()
	return nil
}

// RegisterVenueRouting sends commands for venue to an already registered client.
func (e *Engine) RegisterVenueRouting(id model.ClientID, venue model.Venue) error {
	if _, ok := e.clients[id]; !ok {
		return fmt.Errorf("%w: execution client %s", exception.ErrNoClient, id)
	}
	e.routing[venue] = id
	return nil
}

func (e *Engine) DeregisterClient(id model.ClientID) error {
	if _, ok := e.clients[id]; !ok {
		return fmt.Errorf("%w: execution client %s", exception.ErrNoClient, id)
	}
	delete(e.clients, id)
	for v, cid := range e.routing {
		if cid == id {
			delete(e.routing, v)
		}
	}
	if e.defaultClient == id {
		e.defaultClient = model.ClientID{}
	}
	return nil
}

func (e *Engine) Client(id model.ClientID) (Client, bool) {
	c, ok := e.clients[id]
	return c, ok
}

func (e *Engine) ClientIDs() []model.ClientID {
	out := make([]model.ClientID, 0, len(e.clients))
	for id := range e.clients {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b model.ClientID) int { return strings.Compare(a.String(), b.String()) })
	return out
}

func (e *Engine) IsExternal(id model.ClientID) bool {
	_, ok := e.external[id]
	return ok
}

// RegisterExternalOrderClaims attributes orders for the given instruments that
// were not placed by this node to strategy.
func (e *Engine) RegisterExternalOrderClaims(strategy model.StrategyID, instruments ...model.InstrumentID) error {
	for _, id := range instruments {
		if owner, ok := e.claims[id]; ok && owner != strategy {
			return fmt.Errorf("%w: external orders for %s already claimed by %s", exception.ErrDuplicateKey, id, owner)
		}
	}
	for _, id := range instruments {
		e.claims[id] = strategy
	}
	return nil
}

func (e *Engine) ExternalOrderClaim(id model.InstrumentID) (model.StrategyID, bool) {
	s, ok := e.claims[id]
	return s, ok
}

func (e *Engine) ExternalOrderClaimsInstruments() []model.InstrumentID {
	out := make([]model.InstrumentID, 0, len(e.claims))
	for id := range e.claims {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b model.InstrumentID) int { return strings.Compare(a.String(), b.String()) })
	return out
}

func (e *Engine) Connect(ctx context.Context) error {
	var err error
	for _, id := range e.ClientIDs() {
		if cerr := e.clients[id].Connect(ctx); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: execution client %s: %w", exception.ErrConnection, id, cerr))
		}
	}
	return err
}

func (e *Engine) Disconnect(ctx context.Context) error {
	var err error
	for _, id := range e.ClientIDs() {
		if cerr := e.clients[id].Disconnect(ctx); cerr != nil {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}

func (e *Engine) CheckConnected() bool {
	for _, c := range e.clients {
		if !c.IsConnected() {
			return false
		}
	}
	return true
}

// Start resumes position id numbering from the cache.
func (e *Engine) Start() {
	counts := map[model.StrategyID]int{}
	for _, p := range e.cache.Positions(cache.Filter{}) {
		counts[p.StrategyID]++
	}
	for sid, n := range counts {
		e.positionIDs.SetCount(sid, n)
	}
}

func (e *Engine) resolveClient(h *command.Base) (Client, error) {
	if c, ok := e.clients[h.ClientID]; ok {
		return c, nil
	}
	if id, ok := e.routing[h.InstrumentID.Venue]; ok {
		return e.clients[id], nil
	}
	if c, ok := e.clients[e.defaultClient]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: no execution client for %s", exception.ErrNoClient, h.InstrumentID.Venue)
}

// OmsType resolves the OMS used for a strategy trading on venue.
func (e *Engine) OmsType(strategy model.StrategyID, venue model.Venue) enum.OmsType {
	if oms, ok := e.omsOverrides[strategy]; ok && oms != enum.OmsUnspecified {
		return oms
	}
	if id, ok := e.routing[venue]; ok {
		if oms := e.clients[id].OmsType(); oms != enum.OmsUnspecified {
			return oms
		}
	}
	if c, ok := e.clients[e.defaultClient]; ok && c.OmsType() != enum.OmsUnspecified {
		return c.OmsType()
	}
	return enum.OmsNetting
}

// Execute dispatches cmd. Errors about orders are also turned into
// OrderDenied or OrderRejected events.
func (e *Engine) Execute(cmd command.TradingCommand) error {
	e.stats.Commands++
	h := cmd.Header()
	if e.IsExternal(h.ClientID) {
		logs.Debugf("[ExecEngine] skipping %s for external client %s", cmd.Name(), h.ClientID)
		return nil
	}
	if h.Expired(e.clock.TimestampNs()) {
		for _, o := range command.Orders(cmd) {
			if err := e.ensureCached(o, positionIDOf(cmd), h.ClientID); err != nil {
				logs.Errorf("[ExecEngine] %+v", err)
				continue
			}
			e.deny(o, ReasonTimeout)
		}
		return fmt.Errorf("%w: %s %s missed its deadline", exception.ErrTimeout, cmd.Name(), h.CommandID)
	}

	switch c := cmd.(type) {
	case *command.SubmitOrder:
		return e.submitOrder(c)
	case *command.SubmitOrderList:
		return e.submitOrderList(c)
	case *command.ModifyOrder:
		return e.modifyOrder(c)
	case *command.CancelOrder:
		return e.cancelOrder(c)
	case *command.CancelAllOrders:
		return e.cancelAllOrders(c)
	case *command.BatchCancelOrders:
		return e.batchCancelOrders(c)
	case *command.QueryOrder:
		return e.queryOrder(c)
	}
	return fmt.Errorf("%w: trading command %T", exception.ErrInvalidArgument, cmd)
}

func positionIDOf(cmd command.TradingCommand) model.PositionID {
	switch c := cmd.(type) {
	case *command.SubmitOrder:
		return c.PositionID
	case *command.SubmitOrderList:
		return c.PositionID
	}
	return model.PositionID{}
}

// ensureCached adds o to the cache. An order already cached under the same id
// is only accepted when it is the same instance and has not reached a venue.
func (e *Engine) ensureCached(o *og.Order, positionID model.PositionID, clientID model.ClientID) error {
	cached, ok := e.cache.Order(o.ClientOrderID)
	if !ok {
		return e.cache.AddOrder(o, positionID, clientID)
	}
	if cached != o || !o.IsActiveLocal() {
		return fmt.Errorf("%w: %s", exception.ErrOrderAlreadyExists, o.ClientOrderID)
	}
	return nil
}

func (e *Engine) submitOrder(cmd *command.SubmitOrder) error {
	o := cmd.Order
	if err := e.ensureCached(o, cmd.PositionID, cmd.ClientID); err != nil {
		return err
	}
	if reason := e.validate(o, cmd.PositionID); reason != "" {
		e.deny(o, reason)
		return nil
	}
	if e.contingency.ShouldHold(o) {
		e.contingency.Hold(cmd)
		return nil
	}
	if o.IsEmulated() {
		return e.bus.Send(bus.EndpointEmulatorExecute, cmd)
	}
	client, err := e.resolveClient(&cmd.Base)
	if err != nil {
		e.deny(o, err.Error())
		return err
	}
	if err := client.SubmitOrder(cmd); err != nil {
		e.rejectFromClient(o, err)
		return err
	}
	return nil
}

// submitOrderList caches every order, then sends each to where it must go:
// held until its OTO parent triggers, emulated locally, or straight to the
// client. A validation failure on any order denies the whole list.
func (e *Engine) submitOrderList(cmd *command.SubmitOrderList) error {
	orders := cmd.List.Orders
	for _, o := range orders {
		if err := e.ensureCached(o, cmd.PositionID, cmd.ClientID); err != nil {
			return err
		}
	}
	if err := e.cache.AddOrderList(cmd.List); err != nil {
		logs.Warnf("[ExecEngine] order list %s: %+v", cmd.List.ID, err)
	}
	for _, o := range orders {
		if reason := e.validate(o, cmd.PositionID); reason != "" {
			for _, denied := range orders {
				e.deny(denied, fmt.Sprintf("order list %s: %s", cmd.List.ID, reason))
			}
			return nil
		}
	}

	var direct []*og.Order
	for _, o := range orders {
		single := command.NewSubmitOrder(o, cmd.PositionID, cmd.TsInit)
		single.ClientID = cmd.ClientID
		switch {
		case e.contingency.ShouldHold(o):
			e.contingency.Hold(single)
		case o.IsEmulated():
			if err := e.bus.Send(bus.EndpointEmulatorExecute, single); err != nil {
				return err
			}
		default:
			direct = append(direct, o)
		}
	}
	if len(direct) == 0 {
		return nil
	}

	client, err := e.resolveClient(&cmd.Base)
	if err != nil {
		for _, o := range direct {
			e.deny(o, err.Error())
		}
		return err
	}
	if len(direct) == len(orders) {
		if err := client.SubmitOrderList(cmd); err != nil {
			for _, o := range direct {
				e.rejectFromClient(o, err)
			}
			return err
		}
		return nil
	}
	var errs error
	for _, o := range direct {
		single := command.NewSubmitOrder(o, cmd.PositionID, cmd.TsInit)
		single.ClientID = cmd.ClientID
		if err := client.SubmitOrder(single); err != nil {
			e.rejectFromClient(o, err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (e *Engine) modifyOrder(cmd *command.ModifyOrder) error {
	o, ok := e.cache.Order(cmd.ClientOrderID)
	if !ok {
		return fmt.Errorf("%w: modify %s", exception.ErrUnknownClientOrderID, cmd.ClientOrderID)
	}
	if o.IsEmulated() {
		return e.bus.Send(bus.EndpointEmulatorExecute, cmd)
	}
	if o.IsClosed() {
		logs.Warnf("[ExecEngine] modify of closed order %s (%s)", o.ClientOrderID, o.Status)
		return nil
	}
	if err := cmd.Validate(); err != nil {
		e.apply(o, &og.OrderModifyRejected{EventBase: og.BaseFor(o, e.clock.TimestampNs()), Reason: err.Error()})
		return nil
	}
	if o.IsActiveLocal() {
		// never left this node, so the change is applied locally
		e.apply(o, &og.OrderUpdated{
			EventBase:    og.BaseFor(o, e.clock.TimestampNs()),
			Quantity:     valueOr(cmd.Quantity, o.Quantity),
			Price:        cmd.Price,
			TriggerPrice: cmd.TriggerPrice,
		})
		return nil
	}
	client, err := e.resolveClient(&cmd.Base)
	if err != nil {
		return err
	}
	if cmd.VenueOrderID.IsZero() {
		cmd.VenueOrderID = o.VenueOrderID
	}
	return client.ModifyOrder(cmd)
}

func valueOr(q *model.Quantity, fallback model.Quantity) model.Quantity {
	if q == nil {
		return fallback
	}
	return *q
}

func (e *Engine) cancelOrder(cmd *command.CancelOrder) error {
	o, ok := e.cache.Order(cmd.ClientOrderID)
	if !ok {
		return fmt.Errorf("%w: cancel %s", exception.ErrUnknownClientOrderID, cmd.ClientOrderID)
	}
	if o.IsEmulated() {
		return e.bus.Send(bus.EndpointEmulatorExecute, cmd)
	}
	if o.IsClosed() {
		logs.Warnf("[ExecEngine] cancel of closed order %s (%s)", o.ClientOrderID, o.Status)
		return nil
	}
	if o.IsActiveLocal() || e.contingency.IsHeld(o.ClientOrderID) {
		e.deny(o, "canceled before submission")
		return nil
	}
	client, err := e.resolveClient(&cmd.Base)
	if err != nil {
		return err
	}
	if cmd.VenueOrderID.IsZero() {
		cmd.VenueOrderID = o.VenueOrderID
	}
	return client.CancelOrder(cmd)
}

func (e *Engine) cancelAllOrders(cmd *command.CancelAllOrders) error {
	f := cache.Filter{InstrumentID: cmd.InstrumentID, StrategyID: cmd.StrategyID, Side: cmd.Side}
	if e.cache.OrdersEmulatedCount(f) > 0 {
		if err := e.bus.Send(bus.EndpointEmulatorExecute, cmd); err != nil {
			return err
		}
	}
	for _, o := range e.cache.OrdersOpen(f) {
		if o.Status == enum.OrderStatusInitialized && !o.IsEmulated() {
			e.deny(o, "canceled before submission")
		}
	}
	client, err := e.resolveClient(&cmd.Base)
	if err != nil {
		return err
	}
	return client.CancelAllOrders(cmd)
}

func (e *Engine) batchCancelOrders(cmd *command.BatchCancelOrders) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	client, err := e.resolveClient(&cmd.Base)
	if err != nil {
		return err
	}
	return client.BatchCancelOrders(cmd)
}

func (e *Engine) queryOrder(cmd *command.QueryOrder) error {
	client, err := e.resolveClient(&cmd.Base)
	if err != nil {
		return err
	}
	return client.QueryOrder(cmd)
}

func (e *Engine) deny(o *og.Order, reason string) {
	if o.IsClosed() {
		return
	}
	e.stats.Denied++
	logs.Warnf("[ExecEngine] denied %s: %s", o.ClientOrderID, reason)
	e.apply(o, &og.OrderDenied{EventBase: og.BaseFor(o, e.clock.TimestampNs()), Reason: reason})
}

// rejectFromClient surfaces a client dispatch error as OrderRejected. An order
// that never got a Submitted event is first marked submitted, since the
// venue is the one refusing it.
func (e *Engine) rejectFromClient(o *og.Order, err error) {
	if o.IsClosed() {
		return
	}
	e.stats.Rejected++
	logs.Errorf("[ExecEngine] client rejected %s: %+v", o.ClientOrderID, err)
	ts := e.clock.TimestampNs()
	if o.IsActiveLocal() {
		e.apply(o, &og.OrderSubmitted{EventBase: og.BaseFor(o, ts)})
	}
	e.apply(o, &og.OrderRejected{EventBase: og.BaseFor(o, ts), Reason: err.Error()})
}

// Execute and Apply make the engine the contingency manager's router.
var _ contingency.Router = (*Engine)(nil)

// Apply processes a locally generated order event.
func (e *Engine) Apply(ev og.OrderEvent) error {
	o, ok := e.cache.Order(ev.Header().ClientOrderID)
	if !ok {
		return fmt.Errorf("%w: %s", exception.ErrUnknownClientOrderID, ev.Header().ClientOrderID)
	}
	e.apply(o, ev)
	return nil
}
