// Package data is the data engine: it routes subscriptions to data clients,
// validates and caches inbound market data, keeps order books current,
// aggregates bars and fans everything out on the message bus.
package data

import "hftcore/internal/model/enum"

type Config struct {
	TimeBarsBuildWithNoUpdates  bool                 `json:"time_bars_build_with_no_updates" yaml:"time_bars_build_with_no_updates"`
	TimeBarsTimestampOnClose    bool                 `json:"time_bars_timestamp_on_close" yaml:"time_bars_timestamp_on_close"`
	TimeBarsIntervalType        enum.BarIntervalType `json:"time_bars_interval_type" yaml:"time_bars_interval_type"`
	TimeBarsSkipFirstNonFullBar bool                 `json:"time_bars_skip_first_non_full_bar" yaml:"time_bars_skip_first_non_full_bar"`
	ValidateDataSequence        bool                 `json:"validate_data_sequence" yaml:"validate_data_sequence"`
	BufferDeltas                bool                 `json:"buffer_deltas" yaml:"buffer_deltas"`
	ExternalClients             []string             `json:"external_clients" yaml:"external_clients"`
	// DefaultBookType is used for books created by depth or snapshot subscriptions
	// that do not name one.
	DefaultBookType enum.BookType `json:"default_book_type" yaml:"default_book_type"`
}

func DefaultConfig() Config {
	return Config{
		TimeBarsBuildWithNoUpdates: true,
		TimeBarsTimestampOnClose:   true,
		TimeBarsIntervalType:       enum.BarIntervalLeftOpen,
		DefaultBookType:            enum.BookL2MBP,
	}
}

func (c Config) withDefaults() Config {
	if c.TimeBarsIntervalType == 0 {
		c.TimeBarsIntervalType = enum.BarIntervalLeftOpen
	}
	if !c.DefaultBookType.IsAvailable() {
		c.DefaultBookType = enum.BookL2MBP
	}
	return c
}

func (c Config) timeOptions() TimeOptions {
	return TimeOptions{
		BuildWithNoUpdates:  c.TimeBarsBuildWithNoUpdates,
		TimestampOnClose:    c.TimeBarsTimestampOnClose,
		IntervalType:        c.TimeBarsIntervalType,
		SkipFirstNonFullBar: c.TimeBarsSkipFirstNonFullBar,
	}
}
