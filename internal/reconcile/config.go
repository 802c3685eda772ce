// Package reconcile converges the local order, position and account state
// with what a venue reports, by feeding corrective events through the
// execution engine.
package reconcile

import (
	"time"

	"hftcore/pkg/backoff"
)

type Config struct {
	// LookbackMins bounds the closed order and fill reports requested; 0 asks for everything.
	LookbackMins int `json:"lookback_mins" yaml:"lookback_mins"`
	// MaxAttempts is how often a venue is asked for reports before giving up.
	MaxAttempts     int `json:"max_attempts" yaml:"max_attempts"`
	RetryDelayMs    int `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	RetryMaxDelayMs int `json:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`
	// GenerateMissingOrders adopts venue orders the cache does not know.
	GenerateMissingOrders bool `json:"generate_missing_orders" yaml:"generate_missing_orders"`
	// FilterUnclaimedExternalOrders drops venue orders no strategy claimed.
	FilterUnclaimedExternalOrders bool `json:"filter_unclaimed_external_orders" yaml:"filter_unclaimed_external_orders"`
	FilterPositionReports         bool `json:"filter_position_reports" yaml:"filter_position_reports"`
	// InflightThresholdMs is how long an order may sit in an in-flight status
	// before the venue is asked about it.
	InflightThresholdMs     int `json:"inflight_threshold_ms" yaml:"inflight_threshold_ms"`
	InflightMaxRetries      int `json:"inflight_max_retries" yaml:"inflight_max_retries"`
	InflightCheckIntervalMs int `json:"inflight_check_interval_ms" yaml:"inflight_check_interval_ms"`
}

func DefaultConfig() Config {
	return Config{
		LookbackMins:            60,
		MaxAttempts:             3,
		RetryDelayMs:            250,
		RetryMaxDelayMs:         5000,
		GenerateMissingOrders:   true,
		InflightThresholdMs:     5000,
		InflightMaxRetries:      5,
		InflightCheckIntervalMs: 2000,
	}
}

func (c Config) backoff() backoff.Backoff {
	b := backoff.Default()
	if c.RetryDelayMs > 0 {
		b.Min = time.Duration(c.RetryDelayMs) * time.Millisecond
	}
	if c.RetryMaxDelayMs > 0 {
		b.Max = time.Duration(c.RetryMaxDelayMs) * time.Millisecond
	}
	return b
}
