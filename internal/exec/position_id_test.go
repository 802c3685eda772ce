package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hftcore/internal/bus"
	"hftcore/internal/clock"
	"hftcore/internal/model"
	"hftcore/internal/testkit"
)

func TestPositionIDGenerator(t *testing.T) {
	clk := clock.NewTestClock(t0)
	g := NewPositionIDGenerator(testkit.Trader, clk.TimestampNs)

	assert.Equal(t, "P-20231114-221320-001-001-1", g.Generate(testkit.Strategy, false).String())
	assert.Equal(t, "P-20231114-221320-001-001-2F", g.Generate(testkit.Strategy, true).String())

	other := model.MustStrategyID("MM-002")
	assert.Equal(t, "P-20231114-221320-001-002-1", g.Generate(other, false).String())
	assert.Equal(t, 2, g.Count(testkit.Strategy))

	g.SetCount(testkit.Strategy, 9)
	assert.Equal(t, "P-20231114-221320-001-001-10", g.Generate(testkit.Strategy, false).String())

	g.Reset()
	assert.Equal(t, 0, g.Count(other))
}

func TestNettingPositionID(t *testing.T) {
	id := NettingPositionID(model.MustInstrumentID("BTCUSDT.SIM"), testkit.Strategy)
	assert.Equal(t, "BTCUSDT-SIM-S-001", id.String())
	assert.True(t, bus.IsMatching(bus.PositionEventsTopic(id), bus.TopicAllPositionEvents))

	dotted := NettingPositionID(model.MustInstrumentID("ES.U24.CME"), testkit.Strategy)
	assert.Equal(t, "ES_U24-CME-S-001", dotted.String())
	assert.True(t, bus.IsMatching(bus.PositionEventsTopic(dotted), bus.TopicAllPositionEvents))
}
