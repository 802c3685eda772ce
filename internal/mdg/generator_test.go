package mdg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/core"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
	"hftcore/internal/recorder"
	"hftcore/internal/testkit"
	"hftcore/pkg/exception"
)

func TestGeneratorQuotes(t *testing.T) {
	inst := testkit.BTCUSDT()
	cfg := DefaultConfig()
	g, err := NewGenerator([]*model.Instrument{inst}, cfg)
	require.NoError(t, err)

	items := g.Generate(50)
	require.Len(t, items, 50)
	for i, d := range items {
		q, ok := d.(model.QuoteTick)
		require.True(t, ok)
		assert.Equal(t, inst.ID, q.InstrumentID)
		assert.Equal(t, cfg.Start.Add(time.Duration(i+1)*cfg.Interval), q.TsEvent)
		assert.True(t, q.AskPrice.GreaterThan(q.BidPrice))
		assert.True(t, q.BidPrice.IsPositive())
		assert.Equal(t, inst.PricePrecision, q.BidPrice.Precision)
	}
}

func TestGeneratorIsDeterministic(t *testing.T) {
	instruments := []*model.Instrument{testkit.BTCUSDT()}
	a, err := NewGenerator(instruments, DefaultConfig())
	require.NoError(t, err)
	b, err := NewGenerator(instruments, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, a.Generate(20), b.Generate(20))
}

func TestGeneratorTrades(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = enum.DataTrade
	cfg.MaxStep = 0
	g, err := NewGenerator([]*model.Instrument{testkit.BTCUSDT()}, cfg)
	require.NoError(t, err)

	first, ok := g.Next().(model.TradeTick)
	require.True(t, ok)
	second := g.Next().(model.TradeTick)
	assert.True(t, first.Price.Equal(cfg.BasePrice))
	assert.True(t, second.Price.Equal(cfg.BasePrice))
	assert.NotEqual(t, first.TradeID, second.TradeID)
	assert.NotEqual(t, enum.AggressorNone, first.AggressorSide)
}

func TestGeneratorRejectsInvalid(t *testing.T) {
	_, err := NewGenerator(nil, DefaultConfig())
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)

	cfg := DefaultConfig()
	cfg.Interval = 0
	_, err = NewGenerator([]*model.Instrument{testkit.BTCUSDT()}, cfg)
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)

	cfg = DefaultConfig()
	cfg.Kind = enum.DataBar
	_, err = NewGenerator([]*model.Instrument{testkit.BTCUSDT()}, cfg)
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestWriteJournalRoundTrip(t *testing.T) {
	g, err := NewGenerator([]*model.Instrument{testkit.BTCUSDT()}, DefaultConfig())
	require.NoError(t, err)
	items := g.Generate(30)

	cfg := recorder.DefaultConfig(t.TempDir())
	cfg.QueueSize = 4
	w, err := recorder.NewWriter(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, WriteJournal(ctx, w, items))
	require.NoError(t, w.Close())

	got, err := core.ReadMarketData(ctx, recorder.PlaybackConfig{Dir: cfg.Dir})
	require.NoError(t, err)
	require.Len(t, got, 30)
	for i := range got {
		want := items[i].(model.QuoteTick)
		q := got[i].(model.QuoteTick)
		assert.Equal(t, want.TsEvent, q.TsEvent)
		assert.True(t, want.BidPrice.Equal(q.BidPrice))
		assert.True(t, want.AskSize.Equal(q.AskSize))
	}
}
