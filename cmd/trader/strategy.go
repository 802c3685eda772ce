package main

import (
	"context"

	"github.com/yanun0323/logs"

	"hftcore/internal/bus"
	"hftcore/internal/command"
	"hftcore/internal/core"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/og"
)

var pingStrategy = model.MustStrategyID("PING-001")

// pinger trades every Nth quote with a market order, flipping the side each
// time so the position keeps returning to flat.
type pinger struct {
	ctx     context.Context
	runner  *core.Runner
	factory *og.Factory
	every   int
	limit   int
	qty     model.Quantity

	quotes int
	sent   int
	side   enum.OrderSide
}

func newPinger(ctx context.Context, r *core.Runner, every, limit int, qty model.Quantity) *pinger {
	k := r.Kernel()
	return &pinger{
		ctx:     ctx,
		runner:  r,
		factory: og.NewFactory(k.Config().TraderID, pingStrategy, k.Clock().TimestampNs),
		every:   every,
		limit:   limit,
		qty:     qty,
		side:    enum.OrderSideBuy,
	}
}

// Start subscribes the quotes of every instrument that has a data client.
func (p *pinger) Start() error {
	k := p.runner.Kernel()
	if _, err := k.Bus().Subscribe(bus.TopicAllQuotes, p.onQuote, 0); err != nil {
		return err
	}
	for _, inst := range k.Config().Instruments {
		if _, ok := k.DataClient(inst.ID.Venue); !ok {
			continue
		}
		sub := &command.Subscribe{
			DataBase: command.DataBase{Venue: inst.ID.Venue, TsInit: k.Clock().TimestampNs()},
			DataSpec: command.DataSpec{Kind: enum.DataQuote, InstrumentID: inst.ID},
		}
		p.runner.Execute(p.ctx, sub)
	}
	return nil
}

func (p *pinger) onQuote(msg any) {
	q, ok := msg.(model.QuoteTick)
	if !ok || p.every <= 0 {
		return
	}
	p.quotes++
	if p.quotes%p.every != 0 || (p.limit > 0 && p.sent >= p.limit) {
		return
	}
	o, err := p.factory.Market(q.InstrumentID, p.side, p.qty)
	if err != nil {
		logs.Errorf("[Pinger] build order, err: %+v", err)
		return
	}
	now := p.runner.Kernel().Clock().TimestampNs()
	if err := p.runner.Execute(p.ctx, command.NewSubmitOrder(o, model.PositionID{}, now)).Err(); err != nil {
		logs.Warnf("[Pinger] submit %s, err: %+v", o.ClientOrderID, err)
		return
	}
	p.sent++
	if p.side == enum.OrderSideBuy {
		p.side = enum.OrderSideSell
	} else {
		p.side = enum.OrderSideBuy
	}
}
