package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"forge-supply/internal/domain"
	"forge-supply/internal/storage"
)

// MaxPointsPerMint is how many points SupplyTimeseriesStore keeps per mint.
// Inserting beyond it evicts the earliest timestamps.
const MaxPointsPerMint = 10_000

// SupplyTimeseriesStore is an in-memory implementation of storage.SupplyTimeseriesStore.
type SupplyTimeseriesStore struct {
	mu         sync.RWMutex
	data       map[string]*domain.SupplyTimeseriesPoint // keyed by (mint, timestamp_ms)
	perMint    map[string]int
	maxPerMint int
}

// NewSupplyTimeseriesStore creates a new in-memory supply timeseries store.
func NewSupplyTimeseriesStore() *SupplyTimeseriesStore {
	return &SupplyTimeseriesStore{
		data:       make(map[string]*domain.SupplyTimeseriesPoint),
		perMint:    make(map[string]int),
		maxPerMint: MaxPointsPerMint,
	}
}

func supplyKey(mint string, timestampMs int64) string {
	return fmt.Sprintf("%s|%d", mint, timestampMs)
}

// InsertBulk adds multiple points. Fails entire batch on duplicate.
func (s *SupplyTimeseriesStore) InsertBulk(_ context.Context, points []*domain.SupplyTimeseriesPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(points))

	// First pass: validate and check duplicates (existing + intra-batch)
	for _, p := range points {
		if p == nil || p.Mint == "" {
			return storage.ErrInvalidInput
		}
		key := supplyKey(p.Mint, p.TimestampMs)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, p := range points {
		pointCopy := *p
		s.data[supplyKey(p.Mint, p.TimestampMs)] = &pointCopy
		s.perMint[p.Mint]++
	}

	for mint := range batchMints(points) {
		for s.perMint[mint] > s.maxPerMint {
			s.evictEarliest(mint)
		}
	}

	return nil
}

func batchMints(points []*domain.SupplyTimeseriesPoint) map[string]struct{} {
	mints := make(map[string]struct{}, 1)
	for _, p := range points {
		mints[p.Mint] = struct{}{}
	}
	return mints
}

// evictEarliest drops the point with the smallest timestamp for mint. Caller holds mu.
func (s *SupplyTimeseriesStore) evictEarliest(mint string) {
	var earliest *domain.SupplyTimeseriesPoint
	for _, p := range s.data {
		if p.Mint == mint && (earliest == nil || p.TimestampMs < earliest.TimestampMs) {
			earliest = p
		}
	}
	if earliest == nil {
		return
	}

	delete(s.data, supplyKey(mint, earliest.TimestampMs))
	s.perMint[mint]--
}

// GetByTimeRange retrieves points for a mint within [start, end] (inclusive).
func (s *SupplyTimeseriesStore) GetByTimeRange(_ context.Context, mint string, start, end int64) ([]*domain.SupplyTimeseriesPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SupplyTimeseriesPoint
	for _, p := range s.data {
		if p.Mint == mint && p.TimestampMs >= start && p.TimestampMs <= end {
			pointCopy := *p
			result = append(result, &pointCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

var _ storage.SupplyTimeseriesStore = (*SupplyTimeseriesStore)(nil)
