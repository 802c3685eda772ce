// Package recorder is the event journal: a segmented, checksummed write-ahead
// log of codec-encoded events, the bus subscriber that feeds it and the
// playback that reads it back.
package recorder

import (
	"fmt"
	"time"

	bclock "github.com/benbjohnson/clock"

	"hftcore/pkg/exception"
)

const (
	defaultSegmentMaxBytes int64 = 1 << 30
	defaultQueueSize             = 4096
	defaultBufferSize            = 256 * 1024
	defaultFilePrefix            = "journal"
	segmentSuffix                = ".wal"
)

var defaultSegmentMaxDuration = 5 * time.Minute

// Config controls the journal writer.
type Config struct {
	Dir                string        `json:"dir" yaml:"dir"`
	FilePrefix         string        `json:"file_prefix" yaml:"file_prefix"`
	SegmentMaxBytes    int64         `json:"segment_max_bytes" yaml:"segment_max_bytes"`
	SegmentMaxDuration time.Duration `json:"segment_max_duration" yaml:"segment_max_duration"`
	QueueSize          int           `json:"queue_size" yaml:"queue_size"`
	BufferSize         int           `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval      time.Duration `json:"flush_interval" yaml:"flush_interval"`
	SyncInterval       time.Duration `json:"sync_interval" yaml:"sync_interval"`
	// SaveMarketData also journals quotes, trades, bars and book deltas.
	SaveMarketData bool `json:"save_market_data" yaml:"save_market_data"`

	// Clock drives segment rotation and the flush tickers. Nil is wall time.
	Clock bclock.Clock `json:"-" yaml:"-"`
}

// DefaultConfig returns a baseline configuration for the journal writer.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		FilePrefix:         defaultFilePrefix,
		SegmentMaxBytes:    defaultSegmentMaxBytes,
		SegmentMaxDuration: defaultSegmentMaxDuration,
		QueueSize:          defaultQueueSize,
		BufferSize:         defaultBufferSize,
		FlushInterval:      time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.Clock == nil {
		c.Clock = bclock.New()
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.Dir == "":
		return fmt.Errorf("%w: journal dir is empty", exception.ErrInvalidArgument)
	case c.SegmentMaxBytes <= 0:
		return fmt.Errorf("%w: journal segment_max_bytes must be > 0", exception.ErrInvalidArgument)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: journal queue_size must be > 0", exception.ErrInvalidArgument)
	case c.BufferSize <= 0:
		return fmt.Errorf("%w: journal buffer_size must be > 0", exception.ErrInvalidArgument)
	case c.FilePrefix == "":
		return fmt.Errorf("%w: journal file_prefix is empty", exception.ErrInvalidArgument)
	case c.FlushInterval < 0 || c.SyncInterval < 0 || c.SegmentMaxDuration < 0:
		return fmt.Errorf("%w: journal intervals must be >= 0", exception.ErrInvalidArgument)
	}
	return nil
}
