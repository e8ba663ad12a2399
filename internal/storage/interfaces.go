package storage

import (
	"context"

	"forge-supply/internal/domain"
)

// SnapshotStore provides access to supply_snapshots storage.
type SnapshotStore interface {
	// Insert adds a new snapshot. Returns ErrDuplicateKey if snapshot_id exists.
	Insert(ctx context.Context, s *domain.SupplySnapshot) error

	// Latest retrieves the most recent snapshot for a mint. Returns ErrNotFound if none.
	Latest(ctx context.Context, mint string) (*domain.SupplySnapshot, error)

	// List retrieves up to limit snapshots for a mint, ordered by taken_at DESC.
	List(ctx context.Context, mint string, limit int) ([]*domain.SupplySnapshot, error)
}

// SupplyTimeseriesStore provides access to supply_timeseries storage.
type SupplyTimeseriesStore interface {
	// InsertBulk adds multiple points. Fails entire batch on duplicate (mint, timestamp_ms).
	InsertBulk(ctx context.Context, points []*domain.SupplyTimeseriesPoint) error

	// GetByTimeRange retrieves points for a mint within [start, end] (inclusive),
	// ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, mint string, start, end int64) ([]*domain.SupplyTimeseriesPoint, error)
}
