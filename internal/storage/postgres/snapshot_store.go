package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"forge-supply/internal/domain"
	"forge-supply/internal/storage"
)

// schema creates supply_snapshots. Every statement is idempotent.
//
//go:embed schema.sql
var schema string

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore on an existing pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Open connects to dsn, verifies the connection and creates the schema.
// The returned store owns the pool; call Close when done.
func Open(ctx context.Context, dsn string) (*SnapshotStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := NewSnapshotStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the supply_snapshots table and index if missing.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create supply_snapshots schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *SnapshotStore) Close() {
	s.pool.Close()
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotColumns = `
	snapshot_id, mint, authority, decimals,
	total_supply::text, locked_supply::text, circulating_supply::text,
	locked_accounts, slot, trigger, taken_at, created_at
`

// Insert adds a new snapshot. Returns ErrDuplicateKey if snapshot_id exists.
func (s *SnapshotStore) Insert(ctx context.Context, snap *domain.SupplySnapshot) error {
	if snap == nil || snap.SnapshotID == "" || snap.Mint == "" || !snap.Trigger.IsValid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO supply_snapshots (
			snapshot_id, mint, authority, decimals,
			total_supply, locked_supply, circulating_supply,
			locked_accounts, slot, trigger, taken_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		snap.SnapshotID,
		snap.Mint,
		snap.Authority,
		snap.Decimals,
		snap.TotalSupply,
		snap.LockedSupply,
		snap.CirculatingSupply,
		snap.LockedAccounts,
		snap.Slot,
		string(snap.Trigger),
		snap.TakenAt,
	)
	if err != nil {
		return insertError(err)
	}
	return nil
}

// Latest retrieves the most recent snapshot for a mint. Returns ErrNotFound if none.
func (s *SnapshotStore) Latest(ctx context.Context, mint string) (*domain.SupplySnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM supply_snapshots
		WHERE mint = $1
		ORDER BY taken_at DESC, snapshot_id DESC
		LIMIT 1
	`

	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, mint))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest supply snapshot: %w", err)
	}
	return snap, nil
}

// List retrieves up to limit snapshots for a mint, ordered by taken_at DESC.
func (s *SnapshotStore) List(ctx context.Context, mint string, limit int) ([]*domain.SupplySnapshot, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `SELECT ` + snapshotColumns + `
		FROM supply_snapshots
		WHERE mint = $1
		ORDER BY taken_at DESC, snapshot_id DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, mint, limit)
	if err != nil {
		return nil, fmt.Errorf("list supply snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.SupplySnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan supply snapshot: %w", err)
		}
		result = append(result, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate supply snapshots: %w", err)
	}

	return result, nil
}

// scanSnapshot scans a single row into SupplySnapshot.
func scanSnapshot(row pgx.Row) (*domain.SupplySnapshot, error) {
	var snap domain.SupplySnapshot
	var trigger string

	err := row.Scan(
		&snap.SnapshotID,
		&snap.Mint,
		&snap.Authority,
		&snap.Decimals,
		&snap.TotalSupply,
		&snap.LockedSupply,
		&snap.CirculatingSupply,
		&snap.LockedAccounts,
		&snap.Slot,
		&trigger,
		&snap.TakenAt,
		&snap.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	snap.Trigger = domain.Trigger(trigger)
	return &snap, nil
}

// PostgreSQL error codes raised by supply_snapshots constraints and casts.
const (
	pgErrUniqueViolation   = "23505"
	pgErrCheckViolation    = "23514" // unknown trigger, decimals out of range
	pgErrInvalidTextRepr   = "22P02" // non-numeric supply string
	pgErrNumericOutOfRange = "22003"
)

// insertError maps constraint and cast failures to storage sentinels.
func insertError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("insert supply snapshot: %w", err)
	}

	switch pgErr.Code {
	case pgErrUniqueViolation:
		return storage.ErrDuplicateKey
	case pgErrCheckViolation, pgErrInvalidTextRepr, pgErrNumericOutOfRange:
		return fmt.Errorf("%w: %s", storage.ErrInvalidInput, pgErr.Message)
	default:
		return fmt.Errorf("insert supply snapshot: %w", err)
	}
}
