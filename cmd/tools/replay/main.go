package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yanun0323/logs"

	"hftcore/internal/clock"
	"hftcore/internal/codec"
	"hftcore/internal/core"
	"hftcore/internal/ops"
	"hftcore/internal/recorder"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("[Replay] %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to JSON or YAML config (instruments)")
	envFile := flag.String("env", "", "Env file to load (default: .env if present)")
	dir := flag.String("dir", "testdata/journal", "Journal directory")
	prefix := flag.String("prefix", "", "Journal file prefix (default: journal)")
	types := flag.String("types", "", "Comma separated event types to replay (default: all)")
	snapshot := flag.String("snapshot", "", "Snapshot to verify against (default: <dir>/positions.json)")
	verify := flag.Bool("verify", true, "Verify replayed positions against the snapshot")
	dump := flag.Bool("dump", false, "Print every record instead of rebuilding state")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	flag.Parse()

	cfg := recorder.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	}
	var err error
	if cfg.Types, err = parseTypes(*types); err != nil {
		return err
	}

	ctx := context.Background()
	if *dump {
		return dumpJournal(ctx, cfg)
	}

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	loaded, err := ops.Load(*configPath, envFiles...)
	if err != nil {
		return err
	}
	kc := loaded.Core
	kc.Venues = nil
	kc.Journal = nil
	k, err := core.NewKernel(kc, clock.NewTestClock(0), nil)
	if err != nil {
		return err
	}
	defer func() { _ = k.Dispose(ctx) }()

	stats, err := k.Replay(ctx, cfg)
	if err != nil {
		return err
	}
	for t, n := range stats.Counts {
		logs.Infof("[Replay] %s: %d", t, n)
	}
	if !*verify {
		return nil
	}
	path := *snapshot
	if path == "" {
		path = filepath.Join(*dir, "positions.json")
	}
	diff, err := k.VerifySnapshot(path)
	if err != nil {
		return err
	}
	if len(diff) > 0 {
		return fmt.Errorf("%w: snapshot %s differs at positions %s", exception.ErrInvariantViolation, path, strings.Join(diff, ", "))
	}
	logs.Infof("[Replay] snapshot %s verified, %d positions", path, len(k.Snapshot().Positions))
	return nil
}

func parseTypes(s string) ([]schema.EventType, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []schema.EventType
	for _, name := range strings.Split(s, ",") {
		t, err := schema.ParseEventType(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func dumpJournal(ctx context.Context, cfg recorder.PlaybackConfig) error {
	pb, err := recorder.NewPlayback(cfg)
	if err != nil {
		return err
	}
	c := codec.New(codec.Options{})
	var index int
	return pb.Run(ctx, func(h schema.EventHeader, payload []byte) error {
		index++
		fmt.Printf("%06d seq=%d type=%s source=%s ts_event=%d ts_recv=%d len=%d\n",
			index, h.Seq, h.Type, h.Source, h.TsEvent, h.TsRecv, len(payload))
		v, err := c.Decode(payload)
		if err != nil {
			fmt.Printf("  decode failed: %v\n", err)
			return nil
		}
		fmt.Printf("  %+v\n", v)
		return nil
	})
}
