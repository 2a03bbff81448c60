package service

import (
	"context"
	"sync"
	"time"

	"github.com/bodyback/bodyback-backend/internal/domain"
	"github.com/rs/zerolog"
)

// SnapshotRecorder receives live volume counts per status
type SnapshotRecorder interface {
	VolumeSnapshot(status string, count int)
}

// VolumeSnapshotWorker periodically counts live session volumes by status
// and publishes the counts to a SnapshotRecorder.
type VolumeSnapshotWorker struct {
	repo     domain.SessionVolumeRepository
	recorder SnapshotRecorder
	logger   zerolog.Logger
	interval time.Duration
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce *sync.Once
}

// DefaultSnapshotInterval is used when no positive interval is configured
const DefaultSnapshotInterval = time.Minute

// NewVolumeSnapshotWorker creates a new snapshot worker
func NewVolumeSnapshotWorker(
	repo domain.SessionVolumeRepository,
	recorder SnapshotRecorder,
	logger zerolog.Logger,
	interval time.Duration,
) *VolumeSnapshotWorker {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}

	return &VolumeSnapshotWorker{
		repo:     repo,
		recorder: recorder,
		logger:   logger.With().Str("component", "volume_snapshot_worker").Logger(),
		interval: interval,
	}
}

// Start begins the background snapshots. A stopped worker can be started again.
func (w *VolumeSnapshotWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.stopOnce = &sync.Once{}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	w.logger.Info().Dur("interval", w.interval).Msg("Starting volume snapshot worker")

	go w.run(ctx, stopCh, doneCh)
}

// Stop gracefully stops the worker and waits for the loop to exit. It is
// safe to call concurrently and more than once.
func (w *VolumeSnapshotWorker) Stop() {
	w.mu.Lock()
	if w.stopCh == nil {
		w.mu.Unlock()
		return
	}
	stopCh, doneCh, once := w.stopCh, w.doneCh, w.stopOnce
	w.mu.Unlock()

	once.Do(func() {
		w.logger.Info().Msg("Stopping volume snapshot worker")
		close(stopCh)
	})
	<-doneCh
}

func (w *VolumeSnapshotWorker) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	// Run immediately on startup
	w.Snapshot(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.setStopped()
			return
		case <-stopCh:
			w.setStopped()
			w.logger.Info().Msg("Volume snapshot worker stopped")
			return
		case <-ticker.C:
			w.Snapshot(ctx)
		}
	}
}

func (w *VolumeSnapshotWorker) setStopped() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// Snapshot counts every status once. A failed count is skipped so the gauge
// keeps its previous value.
func (w *VolumeSnapshotWorker) Snapshot(ctx context.Context) map[domain.Status]int {
	startTime := time.Now()
	counts := make(map[domain.Status]int, len(domain.AllStatuses))
	failed := 0

	for _, status := range domain.AllStatuses {
		select {
		case <-ctx.Done():
			return counts
		default:
		}

		st := status
		n, err := w.repo.Count(ctx, domain.VolumeFilter{Status: &st})
		if err != nil {
			w.logger.Error().Err(err).Str("status", string(status)).Msg("Failed to count session volumes")
			failed++
			continue
		}
		counts[status] = n
		if w.recorder != nil {
			w.recorder.VolumeSnapshot(string(status), n)
		}
	}

	w.logger.Debug().
		Int("statuses", len(counts)).
		Int("failed", failed).
		Dur("elapsed", time.Since(startTime)).
		Msg("Completed volume snapshot")
	return counts
}

// IsRunning returns whether the worker is currently running
func (w *VolumeSnapshotWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
