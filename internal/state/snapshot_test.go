package state_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hftcore/internal/model/enum"
	"hftcore/internal/state"
	"hftcore/internal/testkit"
)

func TestSnapshotWriteReadDiff(t *testing.T) {
	f := newFixture(t, testkit.BTCUSDT())
	p, err := state.NewPosition(f.inst, f.fill(enum.OrderSideBuy, "2", "100", ""))
	require.NoError(t, err)

	snap := state.BuildSnapshot([]*state.Position{p}, 7, 42)
	path := filepath.Join(t.TempDir(), "snap", "positions.json")
	require.NoError(t, state.WriteSnapshot(path, snap))

	loaded, err := state.ReadSnapshot(path)
	require.NoError(t, err)
	require.Equal(t, uint64(7), loaded.LastSeq)
	require.Empty(t, state.Diff(snap, loaded))

	require.NoError(t, p.Apply(f.fill(enum.OrderSideSell, "1", "101", "")))
	changed := state.BuildSnapshot([]*state.Position{p}, 8, 43)
	require.Equal(t, []string{"P-1"}, state.Diff(snap, changed))
}
