package domain

// Trigger identifies what caused a supply snapshot to be recorded.
type Trigger string

const (
	TriggerStartup    Trigger = "startup"
	TriggerInterval   Trigger = "interval"
	TriggerMintChange Trigger = "mint_change"
)

// IsValid reports whether t is a known trigger.
func (t Trigger) IsValid() bool {
	switch t {
	case TriggerStartup, TriggerInterval, TriggerMintChange:
		return true
	}
	return false
}

// SupplySnapshot is one recorded supply computation.
// Corresponds to supply_snapshots table in PostgreSQL.
// Amounts are base-unit integers rendered as decimal strings so they survive
// storage without precision loss.
type SupplySnapshot struct {
	SnapshotID        string  // PK, deterministic hash
	Mint              string  // token mint address
	Authority         string  // owner of locked token accounts
	Decimals          int     // mint decimals
	TotalSupply       string  // base units
	LockedSupply      string  // base units
	CirculatingSupply string  // base units, may be negative
	LockedAccounts    int     // number of locked token accounts
	Slot              int64   // highest slot observed across reads
	Trigger           Trigger // what caused the recording
	TakenAt           int64   // computation timestamp (ms)
	CreatedAt         int64   // record creation timestamp (ms)
}

// SupplyTimeseriesPoint is a supply sample for time-range analytics.
// Corresponds to supply_timeseries table in ClickHouse.
type SupplyTimeseriesPoint struct {
	Mint              string  // token mint address
	TimestampMs       int64   // Unix timestamp in milliseconds
	Slot              int64   // Solana slot number
	Decimals          int     // mint decimals
	TotalSupply       string  // base units
	LockedSupply      string  // base units
	CirculatingSupply string  // base units
	Trigger           Trigger // what caused the sample
}
