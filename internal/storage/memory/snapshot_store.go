package memory

import (
	"context"
	"sort"
	"sync"

	"forge-supply/internal/domain"
	"forge-supply/internal/storage"
)

// MaxSnapshotsPerMint is how many snapshots SnapshotStore keeps per mint.
// Inserting beyond it evicts the oldest by taken_at.
const MaxSnapshotsPerMint = 500

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu         sync.RWMutex
	byID       map[string]*domain.SupplySnapshot   // keyed by snapshot_id
	byMint     map[string][]*domain.SupplySnapshot // insertion order per mint
	maxPerMint int
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		byID:       make(map[string]*domain.SupplySnapshot),
		byMint:     make(map[string][]*domain.SupplySnapshot),
		maxPerMint: MaxSnapshotsPerMint,
	}
}

// Insert adds a new snapshot. Returns ErrDuplicateKey if snapshot_id exists.
func (s *SnapshotStore) Insert(_ context.Context, snap *domain.SupplySnapshot) error {
	if snap == nil || snap.SnapshotID == "" || snap.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[snap.SnapshotID]; exists {
		return storage.ErrDuplicateKey
	}

	snapCopy := *snap
	s.byID[snap.SnapshotID] = &snapCopy
	s.byMint[snap.Mint] = append(s.byMint[snap.Mint], &snapCopy)

	for len(s.byMint[snap.Mint]) > s.maxPerMint {
		s.evictOldest(snap.Mint)
	}
	return nil
}

// evictOldest drops the snapshot List would return last. Caller holds mu.
func (s *SnapshotStore) evictOldest(mint string) {
	list := s.byMint[mint]
	oldest := 0
	for i, snap := range list {
		o := list[oldest]
		if snap.TakenAt < o.TakenAt || (snap.TakenAt == o.TakenAt && snap.SnapshotID < o.SnapshotID) {
			oldest = i
		}
	}

	delete(s.byID, list[oldest].SnapshotID)
	s.byMint[mint] = append(list[:oldest], list[oldest+1:]...)
}

// Latest retrieves the most recent snapshot for a mint. Returns ErrNotFound if none.
func (s *SnapshotStore) Latest(ctx context.Context, mint string) (*domain.SupplySnapshot, error) {
	list, err := s.List(ctx, mint, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, storage.ErrNotFound
	}
	return list[0], nil
}

// List retrieves up to limit snapshots for a mint, ordered by taken_at DESC.
func (s *SnapshotStore) List(_ context.Context, mint string, limit int) ([]*domain.SupplySnapshot, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.SupplySnapshot, 0, len(s.byMint[mint]))
	for _, snap := range s.byMint[mint] {
		snapCopy := *snap
		result = append(result, &snapCopy)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].TakenAt != result[j].TakenAt {
			return result[i].TakenAt > result[j].TakenAt
		}
		return result[i].SnapshotID > result[j].SnapshotID
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
