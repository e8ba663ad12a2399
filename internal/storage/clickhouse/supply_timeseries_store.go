package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"forge-supply/internal/domain"
	"forge-supply/internal/storage"
)

// SupplyTimeseriesStore implements storage.SupplyTimeseriesStore using ClickHouse.
type SupplyTimeseriesStore struct {
	conn driver.Conn
}

// NewSupplyTimeseriesStore creates a SupplyTimeseriesStore on an open connection.
func NewSupplyTimeseriesStore(conn driver.Conn) *SupplyTimeseriesStore {
	return &SupplyTimeseriesStore{conn: conn}
}

// EnsureSchema creates the supply_timeseries table if missing.
func (s *SupplyTimeseriesStore) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create supply_timeseries schema: %w", err)
	}
	return nil
}

// Close closes the connection.
func (s *SupplyTimeseriesStore) Close() error {
	return s.conn.Close()
}

// Compile-time interface check.
var _ storage.SupplyTimeseriesStore = (*SupplyTimeseriesStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate (mint, timestamp_ms).
func (s *SupplyTimeseriesStore) InsertBulk(ctx context.Context, points []*domain.SupplyTimeseriesPoint) error {
	if len(points) == 0 {
		return nil
	}

	// Check for invalid input and intra-batch duplicates
	type key struct {
		mint        string
		timestampMs int64
	}
	seen := make(map[key]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.Mint == "" || p.Decimals < 0 || p.Decimals > 255 {
			return storage.ErrInvalidInput
		}
		k := key{p.Mint, p.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// MergeTree does not enforce uniqueness; check existing rows first.
	for _, p := range points {
		exists, err := s.exists(ctx, p.Mint, p.TimestampMs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO supply_timeseries (
			mint, timestamp_ms, slot, decimals,
			total_supply, locked_supply, circulating_supply, trigger
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.Mint, p.TimestampMs, p.Slot, uint8(p.Decimals),
			p.TotalSupply, p.LockedSupply, p.CirculatingSupply, string(p.Trigger),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves points for a mint within [start, end] (inclusive).
func (s *SupplyTimeseriesStore) GetByTimeRange(ctx context.Context, mint string, start, end int64) ([]*domain.SupplyTimeseriesPoint, error) {
	query := `
		SELECT mint, timestamp_ms, slot, decimals,
		       total_supply, locked_supply, circulating_supply, trigger
		FROM supply_timeseries FINAL
		WHERE mint = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, mint, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanSupplyTimeseries(rows)
}

func (s *SupplyTimeseriesStore) exists(ctx context.Context, mint string, timestampMs int64) (bool, error) {
	query := `
		SELECT count(*) FROM supply_timeseries
		WHERE mint = ? AND timestamp_ms = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, mint, timestampMs).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanSupplyTimeseries(rows chRows) ([]*domain.SupplyTimeseriesPoint, error) {
	var points []*domain.SupplyTimeseriesPoint

	for rows.Next() {
		var p domain.SupplyTimeseriesPoint
		var decimals uint8
		var trigger string

		err := rows.Scan(
			&p.Mint, &p.TimestampMs, &p.Slot, &decimals,
			&p.TotalSupply, &p.LockedSupply, &p.CirculatingSupply, &trigger,
		)
		if err != nil {
			return nil, fmt.Errorf("scan supply timeseries row: %w", err)
		}

		p.Decimals = int(decimals)
		p.Trigger = domain.Trigger(trigger)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate supply timeseries rows: %w", err)
	}

	return points, nil
}
