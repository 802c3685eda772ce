package core

import (
	"context"
	"fmt"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/clock"
	"hftcore/internal/codec"
	"hftcore/internal/model"
	"hftcore/internal/og"
	"hftcore/internal/recorder"
	"hftcore/internal/schema"
	"hftcore/internal/state"
	"hftcore/pkg/exception"
)

// ReplayStats summarizes a journal replay.
type ReplayStats struct {
	Records    int
	Counts     map[schema.EventType]int
	Skipped    int
	LastSeq    uint64
	LastTsRecv int64
	// Fills is the number of fills the execution engine applied.
	Fills uint64
}

// Replay rebuilds orders, positions and accounts from a journal. The kernel
// must run on a TestClock, which follows the recorded receive times, and
// should have no venues: replayed commands are not sent anywhere.
func (k *Kernel) Replay(ctx context.Context, cfg recorder.PlaybackConfig) (ReplayStats, error) {
	stats := ReplayStats{Counts: map[schema.EventType]int{}}
	tc, ok := k.clock.(*clock.TestClock)
	if !ok {
		return stats, fmt.Errorf("%w: replay needs a test clock, got %T", exception.ErrInvalidArgument, k.clock)
	}
	for _, inst := range k.cfg.Instruments {
		if err := k.cache.AddInstrument(inst); err != nil {
			return stats, errors.Wrapf(err, "add instrument %s", inst.ID)
		}
	}

	pb, err := recorder.NewPlayback(cfg)
	if err != nil {
		return stats, err
	}
	c := codec.New(codec.Options{})
	before := k.exec.Stats().Fills

	err = pb.Run(ctx, func(h schema.EventHeader, payload []byte) error {
		stats.Records++
		stats.Counts[h.Type]++
		stats.LastSeq = h.Seq
		stats.LastTsRecv = h.TsRecv
		if ts := model.UnixNanos(h.TsRecv); ts > tc.TimestampNs() {
			tc.SetTime(ts)
		}

		v, err := c.Decode(payload)
		if err != nil {
			return fmt.Errorf("decode record %d: %w", h.Seq, err)
		}
		skipped, err := k.replayOne(v)
		if err != nil {
			return fmt.Errorf("replay record %d: %w", h.Seq, err)
		}
		if skipped {
			stats.Skipped++
		}
		return nil
	})
	stats.Fills = k.exec.Stats().Fills - before
	if err != nil {
		return stats, err
	}
	if err := k.CheckIntegrity(); err != nil {
		return stats, err
	}
	logs.Infof("[Replay] %d records, %d fills applied, %d skipped, last seq %d",
		stats.Records, stats.Fills, stats.Skipped, stats.LastSeq)
	return stats, nil
}

// replayOne applies one decoded record. Position events are derived again
// from the fills and only counted.
func (k *Kernel) replayOne(v any) (bool, error) {
	switch x := v.(type) {
	case *og.OrderInitialized:
		if _, ok := k.cache.Order(x.ClientOrderID); ok {
			return true, nil
		}
		o, err := og.NewOrder(x)
		if err != nil {
			return false, err
		}
		return false, k.cache.AddOrder(o, model.PositionID{}, model.ClientID{})
	case og.OrderEvent:
		if _, ok := k.cache.Order(x.Header().ClientOrderID); !ok {
			logs.Warnf("[Replay] %s for unknown order %s", x.EventType(), x.Header().ClientOrderID)
			return true, nil
		}
		k.exec.Process(x)
	case *state.AccountState:
		return false, k.exec.ProcessAccountState(x)
	case state.PositionEvent:
		return true, nil
	case model.Data:
		k.data.Process(x)
	default:
		return true, nil
	}
	return false, nil
}

// VerifySnapshot compares the replayed positions with a snapshot written
// by a previous run and lists the position ids that differ.
func (k *Kernel) VerifySnapshot(path string) ([]string, error) {
	expected, err := state.ReadSnapshot(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot %s", path)
	}
	return state.Diff(expected, k.Snapshot()), nil
}
