package chaos

import (
	"context"
	"fmt"

	"github.com/yanun0323/logs"

	"hftcore/internal/recorder"
	"hftcore/internal/schema"
)

// PerturbJournal plays the journal in src through a chaos engine and writes
// the result to a new journal. Output records are numbered again from 1.
func PerturbJournal(ctx context.Context, src recorder.PlaybackConfig, dst recorder.Config, cfg Config) (Stats, error) {
	engine, err := NewEngine(cfg, DelayRecord)
	if err != nil {
		return Stats{}, err
	}
	pb, err := recorder.NewPlayback(src)
	if err != nil {
		return Stats{}, err
	}
	w, err := recorder.NewWriter(dst)
	if err != nil {
		return Stats{}, err
	}
	if err := w.Start(ctx); err != nil {
		return Stats{}, err
	}

	var seq uint64
	write := func(records []Record) error {
		for _, r := range records {
			seq++
			r.Header.Seq = seq
			if err := w.Append(ctx, r.Header, r.Payload); err != nil {
				return err
			}
		}
		return nil
	}

	handle := recordHandler(func(r Record) error {
		return write(engine.Process(r))
	})
	err = pb.Run(ctx, handle.adapt())
	if err == nil {
		err = write(engine.Flush())
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	stats := engine.Stats()
	if err != nil {
		return stats, fmt.Errorf("perturb journal: %w", err)
	}
	logs.Infof("[Chaos] %s -> %s: in %d, out %d, dropped %d, duplicated %d, delayed %d",
		src.Dir, dst.Dir, stats.In, stats.Out, stats.Dropped, stats.Duplicated, stats.Delayed)
	return stats, nil
}

type recordHandler func(Record) error

// adapt copies the payload, which playback reuses after the call returns.
func (h recordHandler) adapt() recorder.Handler {
	return func(header schema.EventHeader, payload []byte) error {
		r := Record{Header: header}
		if len(payload) > 0 {
			r.Payload = make([]byte, len(payload))
			copy(r.Payload, payload)
		}
		return h(r)
	}
}
