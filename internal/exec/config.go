// Package exec is the execution engine: it routes trading commands to
// execution clients or the order emulator, applies the order events that come
// back, and keeps positions and accounts in step with fills.
package exec

import "hftcore/internal/model/enum"

type Config struct {
	// ActivateOTOOnPartialFill releases OTO children on the parent's first fill
	// instead of waiting for it to be completely filled.
	ActivateOTOOnPartialFill bool `json:"activate_oto_on_partial_fill" yaml:"activate_oto_on_partial_fill"`
	// AllowCashBorrowing skips the free balance check for cash accounts.
	AllowCashBorrowing bool     `json:"allow_cash_borrowing" yaml:"allow_cash_borrowing"`
	ExternalClients    []string `json:"external_clients" yaml:"external_clients"`
	// OmsOverrides maps strategy ids to the OMS used for their fills.
	OmsOverrides map[string]enum.OmsType `json:"oms_overrides" yaml:"oms_overrides"`
	// SnapshotPositions keeps a copy of every netting position closed and reopened.
	SnapshotPositions bool `json:"snapshot_positions" yaml:"snapshot_positions"`
}

func DefaultConfig() Config {
	return Config{ActivateOTOOnPartialFill: true, SnapshotPositions: true}
}
