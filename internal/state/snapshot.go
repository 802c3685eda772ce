package state

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bytedance/sonic"
)

// Snapshot captures open position quantities at a point in time.
type Snapshot struct {
	Timestamp   int64           `json:"timestamp"`
	LastSeq     uint64          `json:"lastSeq"`
	LastEventTs int64           `json:"lastEventTs"`
	Positions   []PositionEntry `json:"positions"`
}

// PositionEntry is a single position entry.
type PositionEntry struct {
	PositionID   string `json:"positionId"`
	InstrumentID string `json:"instrumentId"`
	AccountID    string `json:"accountId"`
	SignedQty    string `json:"signedQty"`
	AvgPxOpen    string `json:"avgPxOpen"`
	RealizedPnL  string `json:"realizedPnl"`
}

// BuildSnapshot captures the given positions with event metadata.
func BuildSnapshot(positions []*Position, lastSeq uint64, lastEventTs int64) Snapshot {
	entries := make([]PositionEntry, 0, len(positions))
	for _, p := range positions {
		entries = append(entries, PositionEntry{
			PositionID:   p.ID.String(),
			InstrumentID: p.InstrumentID.String(),
			AccountID:    p.AccountID.String(),
			SignedQty:    p.SignedQty().String(),
			AvgPxOpen:    p.AvgPxOpen.String(),
			RealizedPnL:  p.RealizedPnL.String(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].PositionID < entries[j].PositionID
	})
	return Snapshot{
		Timestamp:   time.Now().UTC().UnixNano(),
		LastSeq:     lastSeq,
		LastEventTs: lastEventTs,
		Positions:   entries,
	}
}

// Diff lists position ids whose entries differ between two snapshots.
func Diff(a, b Snapshot) []string {
	index := make(map[string]PositionEntry, len(a.Positions))
	for _, e := range a.Positions {
		index[e.PositionID] = e
	}
	var out []string
	for _, e := range b.Positions {
		prev, ok := index[e.PositionID]
		if !ok || prev != e {
			out = append(out, e.PositionID)
		}
		delete(index, e.PositionID)
	}
	for id := range index {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
