package recorder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/yanun0323/errors"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// PlaybackConfig controls journal playback.
type PlaybackConfig struct {
	Dir        string `json:"dir" yaml:"dir"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
	// Speed paces records by their timestamps. Zero plays as fast as possible.
	Speed           float64 `json:"speed" yaml:"speed"`
	UseRecvTime     bool    `json:"use_recv_time" yaml:"use_recv_time"`
	DisableChecksum bool    `json:"disable_checksum" yaml:"disable_checksum"`
	MaxPayloadSize  int     `json:"max_payload_size" yaml:"max_payload_size"`
	// Types keeps only the listed event types. Empty keeps everything.
	Types []schema.EventType `json:"-" yaml:"-"`

	Clock bclock.Clock `json:"-" yaml:"-"`
}

// Handler receives one record. The payload is only valid during the call.
type Handler func(header schema.EventHeader, payload []byte) error

// Playback replays journal records in file order.
type Playback struct {
	cfg   PlaybackConfig
	types map[schema.EventType]struct{}
}

// NewPlayback validates the config and creates a playback.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Playback{cfg: cfg}
	if len(cfg.Types) > 0 {
		p.types = make(map[schema.EventType]struct{}, len(cfg.Types))
		for _, t := range cfg.Types {
			p.types[t] = struct{}{}
		}
	}
	return p, nil
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.Clock == nil {
		c.Clock = bclock.New()
	}
	return c
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	switch {
	case c.Dir == "":
		return fmt.Errorf("%w: playback dir is empty", exception.ErrInvalidArgument)
	case c.Speed < 0:
		return fmt.Errorf("%w: playback speed must be >= 0", exception.ErrInvalidArgument)
	case c.MaxPayloadSize < 0:
		return fmt.Errorf("%w: playback max_payload_size must be >= 0", exception.ErrInvalidArgument)
	}
	return nil
}

// Files lists the journal segments in write order.
func (p *Playback) Files() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read journal dir %s", p.cfg.Dir)
	}
	prefix := p.cfg.FilePrefix + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		files = append(files, filepath.Join(p.cfg.Dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// Run replays every record and calls handler for each one that passes the
// type filter. A handler error stops playback and is returned as is.
func (p *Playback) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: playback handler is nil", exception.ErrInvalidArgument)
	}
	files, err := p.Files()
	if err != nil {
		return err
	}

	var prevTs int64
	for _, path := range files {
		if err := p.playFile(ctx, path, handler, &prevTs); err != nil {
			return err
		}
	}
	return nil
}

func (p *Playback) playFile(ctx context.Context, path string, handler Handler, prevTs *int64) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open journal segment %s", path)
	}
	defer file.Close()

	reader := NewReader(file, ReaderOptions{
		DisableChecksum: p.cfg.DisableChecksum,
		MaxPayloadSize:  p.cfg.MaxPayloadSize,
	})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, payload, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read journal segment %s: %w", filepath.Base(path), err)
		}
		if p.types != nil {
			if _, ok := p.types[header.Type]; !ok {
				continue
			}
		}

		if err := p.pace(ctx, header, prevTs); err != nil {
			return err
		}
		if err := handler(header, payload); err != nil {
			return err
		}
	}
}

func (p *Playback) pace(ctx context.Context, header schema.EventHeader, prevTs *int64) error {
	if p.cfg.Speed <= 0 {
		return nil
	}
	current := header.TsEvent
	if p.cfg.UseRecvTime {
		current = header.TsRecv
	}
	if current <= 0 {
		return nil
	}
	defer func() { *prevTs = current }()
	if *prevTs <= 0 || current <= *prevTs {
		return nil
	}

	t := p.cfg.Clock.Timer(time.Duration(float64(current-*prevTs) / p.cfg.Speed))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
