package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/cache"
	"hftcore/internal/chaos"
	"hftcore/internal/clock"
	"hftcore/internal/model/enum"
	"hftcore/internal/recorder"
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

// record runs a short backtest that opens one position, writes its
// snapshot and returns the journal dir and snapshot path.
func record(t *testing.T) (string, string) {
	dir := t.TempDir()
	f := newFixture(t, testConfig(dir))
	f.load([2]string{"100.00", "100.10"}, [2]string{"100.20", "100.30"})
	r := NewRunner(f.k, Options{})
	ctx := context.Background()

	r.Execute(ctx, f.subscribeQuotes())
	require.NoError(t, f.clk.SetTimeAlert("entry", at(1500*time.Millisecond), func(clock.TimeEvent) {
		r.Execute(ctx, f.marketBuy("2"))
	}))
	require.NoError(t, r.RunBacktest(ctx))
	require.Len(t, f.k.Cache().PositionsOpen(cache.Filter{}, enum.PositionSideNone), 1)

	snap := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, state.WriteSnapshot(snap, f.k.Snapshot()))
	require.NoError(t, f.k.Stop(ctx))
	assert.Positive(t, f.k.Metrics().Snapshot().JournalAppends)
	assert.Zero(t, f.k.Metrics().Snapshot().JournalDrops)
	return dir, snap
}

func replayKernel(t *testing.T) (*Kernel, *clock.TestClock) {
	cfg := testConfig("")
	cfg.Venues = nil
	clk := clock.NewTestClock(0)
	k, err := NewKernel(cfg, clk, nil)
	require.NoError(t, err)
	return k, clk
}

func TestReplayRebuildsPositions(t *testing.T) {
	dir, snap := record(t)
	k, clk := replayKernel(t)

	stats, err := k.Replay(context.Background(), recorder.PlaybackConfig{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Fills)
	assert.Equal(t, 1, stats.Counts[schema.EventOrderInitialized])
	assert.Equal(t, 1, stats.Counts[schema.EventOrderFilled])
	assert.Positive(t, stats.Counts[schema.EventAccountState])
	assert.Equal(t, uint64(stats.Records), stats.LastSeq)
	assert.GreaterOrEqual(t, clk.TimestampNs(), at(1500*time.Millisecond))

	diff, err := k.VerifySnapshot(snap)
	require.NoError(t, err)
	assert.Empty(t, diff)

	positions := k.Cache().PositionsOpen(cache.Filter{}, enum.PositionSideNone)
	require.Len(t, positions, 1)
	assert.Equal(t, "2", positions[0].Quantity.Decimal().String())
}

func TestReplayFiltersTypes(t *testing.T) {
	dir, snap := record(t)
	k, _ := replayKernel(t)

	// without fills no position comes back
	stats, err := k.Replay(context.Background(), recorder.PlaybackConfig{
		Dir:   dir,
		Types: []schema.EventType{schema.EventOrderInitialized, schema.EventOrderSubmitted, schema.EventAccountState},
	})
	require.NoError(t, err)
	assert.Zero(t, stats.Fills)
	assert.Zero(t, stats.Counts[schema.EventOrderFilled])

	diff, err := k.VerifySnapshot(snap)
	require.NoError(t, err)
	assert.Len(t, diff, 1)
}

func TestReplayToleratesDuplicatesAndDelay(t *testing.T) {
	dir, snap := record(t)
	dst := recorder.DefaultConfig(t.TempDir())
	dst.FlushInterval = 0
	cs, err := chaos.PerturbJournal(context.Background(), recorder.PlaybackConfig{Dir: dir}, dst, chaos.Config{
		Seed:          11,
		DuplicateRate: 0.5,
		MaxDelay:      time.Millisecond,
	})
	require.NoError(t, err)
	require.Positive(t, cs.Duplicated)

	k, _ := replayKernel(t)
	stats, err := k.Replay(context.Background(), recorder.PlaybackConfig{Dir: dst.Dir})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Fills)

	diff, err := k.VerifySnapshot(snap)
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestReplayNeedsTestClock(t *testing.T) {
	k, err := NewKernel(testConfig(""), clock.NewLiveClock(nil), nil)
	require.NoError(t, err)
	_, err = k.Replay(context.Background(), recorder.PlaybackConfig{Dir: t.TempDir()})
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestVerifySnapshotMissingFile(t *testing.T) {
	k, _ := replayKernel(t)
	_, err := k.VerifySnapshot(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
