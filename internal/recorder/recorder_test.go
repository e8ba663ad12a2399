package recorder

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge-supply/internal/domain"
	"forge-supply/internal/solana"
	"forge-supply/internal/solana/stub"
	"forge-supply/internal/storage"
	"forge-supply/internal/storage/memory"
	"forge-supply/internal/supply"
)

const (
	testMint      = "2FKq2Bp8u1LbXqk74nSRWV87MXvELTgAHeRHXxHV94hk"
	testAuthority = "J6kZJ7pM4tavNJdbv8fyv5VAiRUt4iWiFKBZgMDzhzsR"
)

var discard = log.New(io.Discard, "", 0)

// tickingClock returns a clock that advances one second per call so that
// consecutive snapshots never share a timestamp.
func tickingClock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func newStubReporter(t *testing.T) (*supply.Reporter, *stub.RPCClient) {
	t.Helper()

	rpc := stub.NewRPCClient()
	rpc.SetMint(testMint, 1_000_000_000, 6)
	rpc.AddTokenAccount("locked1", testMint, testAuthority, 400_000_000)

	return supply.NewReporter(supply.Options{
		RPC:       rpc,
		Mint:      testMint,
		Authority: testAuthority,
		Logger:    discard,
		Now:       tickingClock(),
	}), rpc
}

// fakeWatcher delivers notifications pushed by the test.
type fakeWatcher struct {
	ch         chan solana.AccountNotification
	err        error
	subscribed atomic.Bool
}

func (w *fakeWatcher) SubscribeAccount(_ context.Context, _ string) (<-chan solana.AccountNotification, error) {
	if w.err != nil {
		return nil, w.err
	}
	w.subscribed.Store(true)
	return w.ch, nil
}

func (w *fakeWatcher) Close() error { return nil }

// blockingComputer blocks every Compute until release is closed.
type blockingComputer struct {
	inner   Computer
	release chan struct{}
	calls   atomic.Int64
}

func (c *blockingComputer) Compute(ctx context.Context) (*supply.Report, error) {
	c.calls.Add(1)
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.inner.Compute(ctx)
}

// failingSnapshotStore rejects every insert.
type failingSnapshotStore struct {
	storage.SnapshotStore
}

func (failingSnapshotStore) Insert(context.Context, *domain.SupplySnapshot) error {
	return errors.New("connection refused")
}

func TestRecorder_RecordWritesAllSinks(t *testing.T) {
	reporter, _ := newStubReporter(t)
	snapshots := memory.NewSnapshotStore()
	timeseries := memory.NewSupplyTimeseriesStore()

	rec := New(Options{
		Reporter:   reporter,
		Mint:       testMint,
		Snapshots:  snapshots,
		Timeseries: timeseries,
		Logger:     discard,
	})

	ctx := context.Background()
	snap, err := rec.record(ctx, domain.TriggerInterval)
	require.NoError(t, err)

	assert.Len(t, snap.SnapshotID, 64)
	assert.Equal(t, "1000000000", snap.TotalSupply)
	assert.Equal(t, "400000000", snap.LockedSupply)
	assert.Equal(t, "600000000", snap.CirculatingSupply)
	assert.Equal(t, 1, snap.LockedAccounts)
	assert.Equal(t, 6, snap.Decimals)
	assert.Equal(t, domain.TriggerInterval, snap.Trigger)

	latest, err := snapshots.Latest(ctx, testMint)
	require.NoError(t, err)
	assert.Equal(t, snap.SnapshotID, latest.SnapshotID)

	points, err := timeseries.GetByTimeRange(ctx, testMint, 0, snap.TakenAt)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "600000000", points[0].CirculatingSupply)
	assert.Equal(t, domain.TriggerInterval, points[0].Trigger)
}

func TestRecorder_RecordComputeFailure(t *testing.T) {
	reporter, rpc := newStubReporter(t)
	rpc.Errors["getTokenAccountsByOwner"] = solana.ErrTransport
	snapshots := memory.NewSnapshotStore()

	rec := New(Options{Reporter: reporter, Mint: testMint, Snapshots: snapshots, Logger: discard})

	_, err := rec.record(context.Background(), domain.TriggerInterval)
	require.Error(t, err)

	var supplyErr *supply.Error
	require.ErrorAs(t, err, &supplyErr)
	assert.Equal(t, supply.OpListAccounts, supplyErr.Op)

	_, err = snapshots.Latest(context.Background(), testMint)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecorder_RecordSinkFailureStillWritesOtherSinks(t *testing.T) {
	reporter, _ := newStubReporter(t)
	timeseries := memory.NewSupplyTimeseriesStore()

	rec := New(Options{
		Reporter:   reporter,
		Mint:       testMint,
		Snapshots:  failingSnapshotStore{},
		Timeseries: timeseries,
		Logger:     discard,
	})

	snap, err := rec.record(context.Background(), domain.TriggerStartup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), SinkSnapshots)
	require.NotNil(t, snap)

	points, err := timeseries.GetByTimeRange(context.Background(), testMint, 0, snap.TakenAt)
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestRecorder_DispatchSkipsWhileRunning(t *testing.T) {
	reporter, _ := newStubReporter(t)
	blocking := &blockingComputer{inner: reporter, release: make(chan struct{})}

	rec := New(Options{Reporter: blocking, Mint: testMint, Logger: discard})

	ctx := context.Background()
	rec.dispatch(ctx, domain.TriggerInterval)
	require.Eventually(t, func() bool { return blocking.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	rec.dispatch(ctx, domain.TriggerMintChange)

	close(blocking.release)
	rec.inflight.Wait()
	assert.Equal(t, int64(1), blocking.calls.Load())

	// Free again once the first recording finished.
	rec.dispatch(ctx, domain.TriggerInterval)
	rec.inflight.Wait()
	assert.Equal(t, int64(2), blocking.calls.Load())
}

func TestRecorder_RunRecordsStartupAndMintChanges(t *testing.T) {
	reporter, _ := newStubReporter(t)
	snapshots := memory.NewSnapshotStore()
	watcher := &fakeWatcher{ch: make(chan solana.AccountNotification, 1)}

	rec := New(Options{
		Reporter:  reporter,
		Mint:      testMint,
		Snapshots: snapshots,
		Watcher:   watcher,
		Logger:    discard,
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- rec.Run(ctx) }()

	countSnapshots := func() int {
		list, _ := snapshots.List(context.Background(), testMint, 100)
		return len(list)
	}

	require.Eventually(t, func() bool { return countSnapshots() == 1 && watcher.subscribed.Load() },
		time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !rec.running.Load() }, time.Second, 5*time.Millisecond)

	watcher.ch <- solana.AccountNotification{Pubkey: testMint, Slot: 42}

	require.Eventually(t, func() bool { return countSnapshots() == 2 }, time.Second, 5*time.Millisecond)

	latest, err := snapshots.Latest(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerMintChange, latest.Trigger)

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)
}

func TestRecorder_RunRecordsOnInterval(t *testing.T) {
	reporter, _ := newStubReporter(t)
	timeseries := memory.NewSupplyTimeseriesStore()

	rec := New(Options{
		Reporter:   reporter,
		Mint:       testMint,
		Timeseries: timeseries,
		Interval:   10 * time.Millisecond,
		Logger:     discard,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rec.Run(ctx)

	require.Eventually(t, func() bool {
		points, _ := timeseries.GetByTimeRange(context.Background(), testMint, 0, 1<<62)
		intervals := 0
		for _, p := range points {
			if p.Trigger == domain.TriggerInterval {
				intervals++
			}
		}
		return intervals >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecorder_RunContinuesWhenSubscribeFails(t *testing.T) {
	reporter, _ := newStubReporter(t)
	snapshots := memory.NewSnapshotStore()

	rec := New(Options{
		Reporter:  reporter,
		Mint:      testMint,
		Snapshots: snapshots,
		Watcher:   &fakeWatcher{err: errors.New("dial failed")},
		Logger:    discard,
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- rec.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := snapshots.Latest(context.Background(), testMint)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)
}

func TestRecorder_RunSkipsOverlappingTriggers(t *testing.T) {
	reporter, _ := newStubReporter(t)
	blocking := &blockingComputer{inner: reporter, release: make(chan struct{})}
	watcher := &fakeWatcher{ch: make(chan solana.AccountNotification, 4)}

	rec := New(Options{Reporter: blocking, Mint: testMint, Watcher: watcher, Logger: discard})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- rec.Run(ctx) }()

	require.Eventually(t, func() bool { return blocking.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	watcher.ch <- solana.AccountNotification{Slot: 1}
	watcher.ch <- solana.AccountNotification{Slot: 2}
	require.Eventually(t, func() bool { return len(watcher.ch) == 0 }, time.Second, 5*time.Millisecond)

	close(blocking.release)
	cancel()
	<-runErr

	assert.Equal(t, int64(1), blocking.calls.Load())
}

func TestNewSnapshot_DeterministicID(t *testing.T) {
	reporter, _ := newStubReporter(t)
	report, err := reporter.Compute(context.Background())
	require.NoError(t, err)

	now := time.Unix(1700000000, 0)
	a := NewSnapshot(report, domain.TriggerInterval, now)
	b := NewSnapshot(report, domain.TriggerInterval, now)
	c := NewSnapshot(report, domain.TriggerMintChange, now)

	assert.Equal(t, a.SnapshotID, b.SnapshotID)
	assert.NotEqual(t, a.SnapshotID, c.SnapshotID)
	assert.Equal(t, report.ComputedAt.UnixMilli(), a.TakenAt)
	assert.Equal(t, now.UnixMilli(), a.CreatedAt)
}
