// Package recorder persists supply snapshots on a schedule and when the mint
// account changes on chain.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"forge-supply/internal/domain"
	"forge-supply/internal/idhash"
	"forge-supply/internal/observability"
	"forge-supply/internal/solana"
	"forge-supply/internal/storage"
	"forge-supply/internal/supply"
)

// Sink names used in logs and metrics.
const (
	SinkSnapshots  = "snapshots"
	SinkTimeseries = "timeseries"
)

// Computer produces supply reports. *supply.Reporter satisfies it.
type Computer interface {
	Compute(ctx context.Context) (*supply.Report, error)
}

// Options contains configuration for creating a Recorder.
type Options struct {
	Reporter   Computer
	Mint       string
	Snapshots  storage.SnapshotStore         // optional
	Timeseries storage.SupplyTimeseriesStore // optional
	Watcher    solana.WSClient               // optional; enables mint_change recordings
	Interval   time.Duration                 // 0 disables interval recordings
	Timeout    time.Duration                 // per recording; default 30s
	Logger     *log.Logger
	Now        func() time.Time
}

// Recorder computes and stores supply snapshots.
type Recorder struct {
	reporter   Computer
	mint       string
	snapshots  storage.SnapshotStore
	timeseries storage.SupplyTimeseriesStore
	watcher    solana.WSClient
	interval   time.Duration
	timeout    time.Duration
	logger     *log.Logger
	now        func() time.Time

	running  atomic.Bool
	inflight sync.WaitGroup
}

// New creates a Recorder.
func New(opts Options) *Recorder {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Recorder{
		reporter:   opts.Reporter,
		mint:       opts.Mint,
		snapshots:  opts.Snapshots,
		timeseries: opts.Timeseries,
		watcher:    opts.Watcher,
		interval:   opts.Interval,
		timeout:    timeout,
		logger:     logger,
		now:        now,
	}
}

// Run records a startup snapshot, then one per interval tick and per mint
// notification until ctx is cancelled. Triggers that arrive while a recording
// is in flight are skipped. Failed recordings are logged and never end Run.
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.Printf("Recorder started, interval: %v, watcher: %t", r.interval, r.watcher != nil)

	var notifications <-chan solana.AccountNotification
	if r.watcher != nil {
		ch, err := r.watcher.SubscribeAccount(ctx, r.mint)
		if err != nil {
			r.logger.Printf("WARN: subscribe to mint %s failed, continuing without watcher: %v", r.mint, err)
		} else {
			notifications = ch
			r.logger.Printf("Subscribed to mint account %s", r.mint)
		}
	}

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.dispatch(ctx, domain.TriggerStartup)

	for {
		select {
		case <-ctx.Done():
			r.inflight.Wait()
			r.logger.Println("Recorder stopping...")
			return ctx.Err()

		case <-tick:
			r.dispatch(ctx, domain.TriggerInterval)

		case notif, ok := <-notifications:
			if !ok {
				r.logger.Println("Mint notification channel closed")
				notifications = nil
				continue
			}
			observability.RecordMintNotification()
			r.logger.Printf("Mint account changed at slot %d", notif.Slot)
			r.dispatch(ctx, domain.TriggerMintChange)
		}
	}
}

// dispatch starts a recording in the background unless one is in flight.
func (r *Recorder) dispatch(ctx context.Context, trigger domain.Trigger) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Printf("Skipping %s snapshot: previous recording still running", trigger)
		return
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer r.running.Store(false)

		if _, err := r.record(ctx, trigger); err != nil && ctx.Err() == nil {
			r.logger.Printf("ERROR: %s snapshot failed: %v", trigger, err)
		}
	}()
}

// record computes one report and writes it to every configured sink. A sink
// failure does not stop the other sinks.
func (r *Recorder) record(ctx context.Context, trigger domain.Trigger) (*domain.SupplySnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	report, err := r.reporter.Compute(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute supply: %w", err)
	}

	snap := NewSnapshot(report, trigger, r.now())

	var errs []error
	if r.snapshots != nil {
		err := r.snapshots.Insert(ctx, snap)
		observability.RecordSnapshot(SinkSnapshots, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", SinkSnapshots, err))
		}
	}
	if r.timeseries != nil {
		err := r.timeseries.InsertBulk(ctx, []*domain.SupplyTimeseriesPoint{NewTimeseriesPoint(snap)})
		observability.RecordSnapshot(SinkTimeseries, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", SinkTimeseries, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return snap, err
	}

	r.logger.Printf("Recorded %s snapshot: total=%s circulating=%s slot=%d",
		trigger,
		supply.FormatAmount(report.Total, report.Decimals),
		supply.FormatAmount(report.Circulating, report.Decimals),
		report.Slot)
	return snap, nil
}

// NewSnapshot converts a report into a storable snapshot.
func NewSnapshot(report *supply.Report, trigger domain.Trigger, now time.Time) *domain.SupplySnapshot {
	takenAt := report.ComputedAt.UnixMilli()

	return &domain.SupplySnapshot{
		SnapshotID:        idhash.ComputeSnapshotID(report.Mint, trigger, report.Slot, takenAt),
		Mint:              report.Mint,
		Authority:         report.Authority,
		Decimals:          int(report.Decimals),
		TotalSupply:       report.Total.String(),
		LockedSupply:      report.Locked.String(),
		CirculatingSupply: report.Circulating.String(),
		LockedAccounts:    len(report.Accounts),
		Slot:              report.Slot,
		Trigger:           trigger,
		TakenAt:           takenAt,
		CreatedAt:         now.UnixMilli(),
	}
}

// NewTimeseriesPoint derives the analytics sample for a snapshot.
func NewTimeseriesPoint(snap *domain.SupplySnapshot) *domain.SupplyTimeseriesPoint {
	return &domain.SupplyTimeseriesPoint{
		Mint:              snap.Mint,
		TimestampMs:       snap.TakenAt,
		Slot:              snap.Slot,
		Decimals:          snap.Decimals,
		TotalSupply:       snap.TotalSupply,
		LockedSupply:      snap.LockedSupply,
		CirculatingSupply: snap.CirculatingSupply,
		Trigger:           snap.Trigger,
	}
}
