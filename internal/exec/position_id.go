package exec

import (
	"strconv"
	"strings"

	"hftcore/internal/model"
)

// PositionIDGenerator issues hedging position ids of the form
// P-YYYYMMDD-HHMMSS-<trader tag>-<strategy tag>-<count>, counted per strategy.
// Ids for the new leg of a flipped position carry an F suffix.
type PositionIDGenerator struct {
	trader string
	now    func() model.UnixNanos
	counts map[model.StrategyID]int
}

func NewPositionIDGenerator(trader model.TraderID, now func() model.UnixNanos) *PositionIDGenerator {
	return &PositionIDGenerator{trader: tag(trader.String()), now: now, counts: map[model.StrategyID]int{}}
}

func tag(s string) string {
	if i := strings.LastIndexByte(s, '-'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (g *PositionIDGenerator) Generate(strategy model.StrategyID, flipped bool) model.PositionID {
	g.counts[strategy]++
	var b strings.Builder
	b.WriteString("P-")
	b.WriteString(g.now().Time().Format("20060102-150405"))
	b.WriteByte('-')
	b.WriteString(g.trader)
	b.WriteByte('-')
	b.WriteString(tag(strategy.String()))
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(g.counts[strategy]))
	if flipped {
		b.WriteByte('F')
	}
	return model.MustPositionID(b.String())
}

func (g *PositionIDGenerator) Count(strategy model.StrategyID) int { return g.counts[strategy] }

// SetCount resumes numbering after positions were loaded from the cache.
func (g *PositionIDGenerator) SetCount(strategy model.StrategyID, n int) { g.counts[strategy] = n }

func (g *PositionIDGenerator) Reset() { clear(g.counts) }

// NettingPositionID is the single position a strategy holds per instrument
// under netting. It carries no '.' so the position topic stays one segment.
func NettingPositionID(instrument model.InstrumentID, strategy model.StrategyID) model.PositionID {
	id := instrument.Symbol.String() + "-" + instrument.Venue.String() + "-" + strategy.String()
	return model.MustPositionID(strings.ReplaceAll(id, ".", "_"))
}
