package chaos

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/model"
	"hftcore/internal/recorder"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "negative drop", cfg: Config{DropRate: -0.1, ReorderWindow: 1}},
		{name: "drop above one", cfg: Config{DropRate: 1.5, ReorderWindow: 1}},
		{name: "duplicate above one", cfg: Config{DuplicateRate: 2, ReorderWindow: 1}},
		{name: "negative window", cfg: Config{ReorderWindow: -1}},
		{name: "negative delay", cfg: Config{ReorderWindow: 1, MaxDelay: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine[int](tt.cfg, nil)
			assert.ErrorIs(t, err, exception.ErrInvalidArgument)
		})
	}
}

func TestEnginePassThrough(t *testing.T) {
	e, err := NewEngine[int](Config{Seed: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, seq(10), e.Perturb(seq(10)))
	assert.Equal(t, Stats{In: 10, Out: 10}, e.Stats())
}

func TestEngineDropAll(t *testing.T) {
	e, err := NewEngine[int](Config{Seed: 1, DropRate: 1}, nil)
	require.NoError(t, err)
	assert.Empty(t, e.Perturb(seq(5)))
	assert.EqualValues(t, 5, e.Stats().Dropped)
}

func TestEngineDuplicateAll(t *testing.T) {
	e, err := NewEngine[int](Config{Seed: 1, DuplicateRate: 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 2, 3, 3}, e.Perturb(seq(3)))
	assert.EqualValues(t, 3, e.Stats().Duplicated)
	assert.EqualValues(t, 6, e.Stats().Out)
}

func TestEngineReorderKeepsItems(t *testing.T) {
	e, err := NewEngine[int](Config{Seed: 7, ReorderWindow: 4}, nil)
	require.NoError(t, err)

	// nothing leaves until the window is full
	for i := 1; i < 4; i++ {
		assert.Empty(t, e.Process(i))
	}
	out := e.Process(4)
	assert.Len(t, out, 1)

	out = append(out, e.Perturb(seq(50)[4:])...)
	assert.Len(t, out, 50)
	assert.NotEqual(t, seq(50), out)
	slices.Sort(out)
	assert.Equal(t, seq(50), out)
	assert.EqualValues(t, 50, e.Stats().Out)
}

func TestEngineSameSeedSameOrder(t *testing.T) {
	cfg := Config{Seed: 42, DropRate: 0.2, DuplicateRate: 0.2, ReorderWindow: 8}
	a, err := NewEngine[int](cfg, nil)
	require.NoError(t, err)
	b, err := NewEngine[int](cfg, nil)
	require.NoError(t, err)

	outA := a.Perturb(seq(200))
	assert.Equal(t, outA, b.Perturb(seq(200)))
	assert.Equal(t, a.Stats(), b.Stats())

	sorted := slices.Clone(outA)
	slices.Sort(sorted)
	assert.NotEqual(t, sorted, outA)
}

func TestEngineDelay(t *testing.T) {
	e, err := NewEngine(Config{Seed: 3, MaxDelay: time.Millisecond}, DelayRecord)
	require.NoError(t, err)

	in := make([]Record, 20)
	for i := range in {
		in[i] = Record{Header: schema.NewHeader(schema.EventQuoteTick, schema.SourceDataEngine, uint64(i+1), 1000, 2000)}
	}
	out := e.Perturb(in)
	require.Len(t, out, 20)
	for _, r := range out {
		assert.GreaterOrEqual(t, r.Header.TsRecv, int64(2000))
		assert.LessOrEqual(t, r.Header.TsRecv, int64(2000+time.Millisecond))
		assert.Equal(t, int64(1000), r.Header.TsEvent)
	}
	assert.Positive(t, e.Stats().Delayed)
}

func TestDelayRecordWithoutRecvTime(t *testing.T) {
	r := DelayRecord(Record{Header: schema.EventHeader{TsEvent: 500}}, 10)
	assert.Equal(t, int64(510), r.Header.TsRecv)

	r = DelayRecord(Record{}, 10)
	assert.Zero(t, r.Header.TsRecv)
}

func TestDelayData(t *testing.T) {
	q := model.QuoteTick{TsEvent: 100, TsInit: 100}
	got := DelayData(q, time.Microsecond)
	assert.Equal(t, model.UnixNanos(1100), got.InitTs())
	assert.Equal(t, model.UnixNanos(100), got.(model.QuoteTick).TsEvent)

	bar := model.Bar{TsInit: 5}
	assert.Equal(t, model.UnixNanos(15), DelayData(bar, 10).InitTs())
}

func TestPerturbJournal(t *testing.T) {
	src := recorder.DefaultConfig(t.TempDir())
	src.FlushInterval = 0
	w, err := recorder.NewWriter(src)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	for i := 1; i <= 10; i++ {
		h := schema.NewHeader(schema.EventOrderFilled, schema.SourceExecEngine, uint64(i), int64(i*100), int64(i*100))
		require.NoError(t, w.TryAppend(h, []byte{byte(i)}))
	}
	require.NoError(t, w.Close())

	dst := recorder.DefaultConfig(t.TempDir())
	dst.FilePrefix = "chaos"
	dst.FlushInterval = 0
	stats, err := PerturbJournal(ctx, recorder.PlaybackConfig{Dir: src.Dir}, dst, Config{Seed: 9, DuplicateRate: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 10, stats.In)
	assert.EqualValues(t, 20, stats.Out)

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{Dir: dst.Dir, FilePrefix: "chaos"})
	require.NoError(t, err)
	var seqs []uint64
	var payloads []byte
	require.NoError(t, pb.Run(ctx, func(h schema.EventHeader, payload []byte) error {
		seqs = append(seqs, h.Seq)
		payloads = append(payloads, payload...)
		return nil
	}))
	require.Len(t, seqs, 20)
	for i, s := range seqs {
		assert.EqualValues(t, i+1, s)
	}
	assert.Equal(t, []byte{1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7, 7, 8, 8, 9, 9, 10, 10}, payloads)
}

func TestPerturbJournalMissingDir(t *testing.T) {
	_, err := PerturbJournal(context.Background(), recorder.PlaybackConfig{}, recorder.DefaultConfig(t.TempDir()), Config{})
	assert.Error(t, err)
}
