package cache

import "time"

const (
	DefaultTickCapacity = 10_000
	DefaultBarCapacity  = 10_000
)

type Config struct {
	TickCapacity           int  `json:"tick_capacity" yaml:"tick_capacity"`
	BarCapacity            int  `json:"bar_capacity" yaml:"bar_capacity"`
	BufferIntervalMs       int  `json:"buffer_interval_ms" yaml:"buffer_interval_ms"`
	UseTraderPrefix        bool `json:"use_trader_prefix" yaml:"use_trader_prefix"`
	UseInstanceID          bool `json:"use_instance_id" yaml:"use_instance_id"`
	FlushOnStart           bool `json:"flush_on_start" yaml:"flush_on_start"`
	DropInstrumentsOnReset bool `json:"drop_instruments_on_reset" yaml:"drop_instruments_on_reset"`
	SaveMarketData         bool `json:"save_market_data" yaml:"save_market_data"`
}

func DefaultConfig() Config {
	return Config{
		TickCapacity:           DefaultTickCapacity,
		BarCapacity:            DefaultBarCapacity,
		UseTraderPrefix:        true,
		DropInstrumentsOnReset: true,
	}
}

func (c Config) withDefaults() Config {
	if c.TickCapacity <= 0 {
		c.TickCapacity = DefaultTickCapacity
	}
	if c.BarCapacity <= 0 {
		c.BarCapacity = DefaultBarCapacity
	}
	return c
}

// BufferInterval is zero when writes go straight to the backend.
func (c Config) BufferInterval() time.Duration {
	if c.BufferIntervalMs <= 0 {
		return 0
	}
	return time.Duration(c.BufferIntervalMs) * time.Millisecond
}
