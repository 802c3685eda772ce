package og

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"hftcore/internal/model"
	"hftcore/internal/model/enum"
)

// Params describes an order to build. Unset optional fields keep their zero value.
type Params struct {
	InstrumentID        model.InstrumentID
	Side                enum.OrderSide
	Type                enum.OrderType
	Quantity            model.Quantity
	Price               *model.Price
	TriggerPrice        *model.Price
	TriggerType         enum.TriggerType
	LimitOffset         decimal.Decimal
	TrailingOffset      decimal.Decimal
	TrailingOffsetType  enum.TrailingOffsetType
	TimeInForce         enum.TimeInForce
	ExpireTime          model.UnixNanos
	PostOnly            bool
	ReduceOnly          bool
	QuoteQuantity       bool
	DisplayQty          *model.Quantity
	EmulationTrigger    enum.TriggerType
	TriggerInstrumentID model.InstrumentID
	ExecAlgorithmID     model.ExecAlgorithmID
	ExecAlgorithmParams map[string]string
	Tags                []string

	contingency enum.ContingencyType
	listID      model.OrderListID
	linked      []model.ClientOrderID
	parent      model.ClientOrderID
}

// Factory creates orders with client order ids of the form
// O-YYYYMMDD-HHMMSS-<trader tag>-<strategy tag>-<count>.
type Factory struct {
	trader    model.TraderID
	strategy  model.StrategyID
	now       func() model.UnixNanos
	count     int
	listCount int
}

func NewFactory(trader model.TraderID, strategy model.StrategyID, now func() model.UnixNanos) *Factory {
	return &Factory{trader: trader, strategy: strategy, now: now}
}

func tagOf(s string) string {
	if i := strings.LastIndexByte(s, '-'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (f *Factory) stamp(prefix string, n int) string {
	ts := f.now().Time()
	return prefix + "-" + ts.Format("20060102-150405") + "-" + tagOf(f.trader.String()) + "-" +
		tagOf(f.strategy.String()) + "-" + strconv.Itoa(n)
}

func (f *Factory) NextClientOrderID() model.ClientOrderID {
	f.count++
	return model.MustClientOrderID(f.stamp("O", f.count))
}

func (f *Factory) NextOrderListID() model.OrderListID {
	f.listCount++
	return model.MustOrderListID(f.stamp("OL", f.listCount))
}

// SetCount resumes numbering after a restart.
func (f *Factory) SetCount(n int) { f.count = n }

func (f *Factory) New(p Params) (*Order, error) {
	return f.newWithID(f.NextClientOrderID(), p)
}

func (f *Factory) newWithID(id model.ClientOrderID, p Params) (*Order, error) {
	if p.TimeInForce == 0 {
		p.TimeInForce = enum.TimeInForceGTC
	}
	if p.TriggerType == enum.TriggerTypeNone && p.Type.HasTriggerPrice() {
		p.TriggerType = enum.TriggerTypeDefault
	}
	ts := f.now()
	init := &OrderInitialized{
		EventBase: EventBase{
			TraderID:      f.trader,
			StrategyID:    f.strategy,
			InstrumentID:  p.InstrumentID,
			ClientOrderID: id,
			EventID:       model.NewUUID4(),
			TsEvent:       ts,
			TsInit:        ts,
		},
		Side:                p.Side,
		Type:                p.Type,
		Quantity:            p.Quantity,
		Price:               p.Price,
		TriggerPrice:        p.TriggerPrice,
		TriggerType:         p.TriggerType,
		LimitOffset:         p.LimitOffset,
		TrailingOffset:      p.TrailingOffset,
		TrailingOffsetType:  p.TrailingOffsetType,
		TimeInForce:         p.TimeInForce,
		ExpireTime:          p.ExpireTime,
		PostOnly:            p.PostOnly,
		ReduceOnly:          p.ReduceOnly,
		QuoteQuantity:       p.QuoteQuantity,
		DisplayQty:          p.DisplayQty,
		EmulationTrigger:    p.EmulationTrigger,
		TriggerInstrumentID: p.TriggerInstrumentID,
		ContingencyType:     p.contingency,
		OrderListID:         p.listID,
		LinkedOrderIDs:      p.linked,
		ParentOrderID:       p.parent,
		ExecAlgorithmID:     p.ExecAlgorithmID,
		ExecAlgorithmParams: p.ExecAlgorithmParams,
		Tags:                p.Tags,
	}
	return NewOrder(init)
}

func (f *Factory) Market(id model.InstrumentID, side enum.OrderSide, qty model.Quantity) (*Order, error) {
	return f.New(Params{InstrumentID: id, Side: side, Type: enum.OrderTypeMarket, Quantity: qty, TimeInForce: enum.TimeInForceGTC})
}

func (f *Factory) Limit(id model.InstrumentID, side enum.OrderSide, qty model.Quantity, px model.Price) (*Order, error) {
	return f.New(Params{InstrumentID: id, Side: side, Type: enum.OrderTypeLimit, Quantity: qty, Price: model.PricePtr(px)})
}

func (f *Factory) StopMarket(id model.InstrumentID, side enum.OrderSide, qty model.Quantity, trigger model.Price) (*Order, error) {
	return f.New(Params{InstrumentID: id, Side: side, Type: enum.OrderTypeStopMarket, Quantity: qty, TriggerPrice: model.PricePtr(trigger)})
}

// Bracket builds an entry with a take-profit limit and a stop-loss. The
// entry is OTO parent of both exits, which are OUO siblings of each other.
func (f *Factory) Bracket(entry Params, takeProfit, stopLoss model.Price, emulation enum.TriggerType) (*OrderList, error) {
	listID := f.NextOrderListID()
	entryID := f.NextClientOrderID()
	tpID := f.NextClientOrderID()
	slID := f.NextClientOrderID()

	entry.contingency = enum.ContingencyOTO
	entry.listID = listID
	entry.linked = []model.ClientOrderID{tpID, slID}
	parent, err := f.newWithID(entryID, entry)
	if err != nil {
		return nil, err
	}

	exitSide := entry.Side.Opposite()
	tp, err := f.newWithID(tpID, Params{
		InstrumentID:     entry.InstrumentID,
		Side:             exitSide,
		Type:             enum.OrderTypeLimit,
		Quantity:         entry.Quantity,
		Price:            model.PricePtr(takeProfit),
		ReduceOnly:       true,
		EmulationTrigger: emulation,
		contingency:      enum.ContingencyOUO,
		listID:           listID,
		linked:           []model.ClientOrderID{slID},
		parent:           entryID,
	})
	if err != nil {
		return nil, err
	}
	sl, err := f.newWithID(slID, Params{
		InstrumentID:     entry.InstrumentID,
		Side:             exitSide,
		Type:             enum.OrderTypeStopMarket,
		Quantity:         entry.Quantity,
		TriggerPrice:     model.PricePtr(stopLoss),
		ReduceOnly:       true,
		EmulationTrigger: emulation,
		contingency:      enum.ContingencyOUO,
		listID:           listID,
		linked:           []model.ClientOrderID{tpID},
		parent:           entryID,
	})
	if err != nil {
		return nil, err
	}
	return NewOrderList(listID, []*Order{parent, tp, sl}, f.now())
}
