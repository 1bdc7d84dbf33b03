package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/leaderboard-ledger/internal/domain"
	"github.com/leaderboard-ledger/internal/metrics"
)

// SnapshotSource reads the current leaderboard aggregates
type SnapshotSource interface {
	QueryLeaderboard(ctx context.Context) (*domain.LeaderboardSnapshot, error)
}

// SnapshotPublisher pushes snapshots to live subscribers
type SnapshotPublisher interface {
	BroadcastSnapshot(snap domain.LeaderboardSnapshot)
}

// StatsWorker periodically publishes the leaderboard snapshot to the
// metrics gauges and live subscribers
type StatsWorker struct {
	source    SnapshotSource
	publisher SnapshotPublisher
	metrics   *metrics.Manager
	interval  time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewStatsWorker creates a new stats worker. publisher and m may be nil.
func NewStatsWorker(
	source SnapshotSource,
	publisher SnapshotPublisher,
	m *metrics.Manager,
	interval time.Duration,
	logger *slog.Logger,
) *StatsWorker {
	return &StatsWorker{
		source:    source,
		publisher: publisher,
		metrics:   m,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background publishing loop
func (w *StatsWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("stats worker started", "interval", w.interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background loop and waits for it to exit
func (w *StatsWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("stats worker stopped")
	return nil
}

// run is the main worker loop
func (w *StatsWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("stats cycle failed", "error", err)
			}
		}
	}
}

// RunOnce reads and publishes one snapshot. A leaderboard that has not been
// initialized yet is not an error.
func (w *StatsWorker) RunOnce(ctx context.Context) error {
	snap, err := w.source.QueryLeaderboard(ctx)
	if errors.Is(err, domain.ErrLeaderboardNotInitialized) {
		w.logger.Debug("leaderboard not initialized, skipping stats cycle")
		return nil
	}
	if err != nil {
		return err
	}

	w.metrics.SetSnapshot(*snap)
	if w.publisher != nil {
		w.publisher.BroadcastSnapshot(*snap)
	}
	w.logger.Debug("stats published",
		"total_players", snap.TotalPlayers,
		"total_games", snap.TotalGames,
		"top_score", snap.TopScore,
	)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *StatsWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
