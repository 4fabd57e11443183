package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/challenge-ladder/internal/config"
	"github.com/challenge-ladder/internal/ladder"
)

// Ladder is the part of the ladder service the sync worker drives
type Ladder interface {
	VerifyLadder(ctx context.Context) ([]ladder.Anomaly, error)
	RebuildStandings(ctx context.Context) (int, error)
}

// CycleResult summarizes one sync cycle
type CycleResult struct {
	Anomalies []ladder.Anomaly
	Rebuilt   int
}

// SyncWorker periodically verifies rank integrity and rebuilds the standings cache
type SyncWorker struct {
	ladder  Ladder
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(ladder Ladder, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		ladder: ladder,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
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

	w.logger.Info("sync worker stopped")
	return nil
}

func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single sync cycle. A ladder with broken ranks is reported
// but its standings are not pushed to the cache.
func (w *SyncWorker) RunOnce(ctx context.Context) CycleResult {
	startTime := time.Now()
	var result CycleResult

	anomalies, err := w.ladder.VerifyLadder(ctx)
	if err != nil {
		w.logger.Error("failed to verify ladder", "error", err)
		return result
	}
	result.Anomalies = anomalies
	if len(anomalies) > 0 {
		for _, a := range anomalies {
			w.logger.Warn("ladder anomaly",
				"player_id", a.PlayerID,
				"rank", a.Rank,
				"problem", a.Problem,
			)
		}
		return result
	}

	rebuilt, err := w.ladder.RebuildStandings(ctx)
	if err != nil {
		w.logger.Error("failed to rebuild standings", "error", err)
		return result
	}
	result.Rebuilt = rebuilt

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"rebuilt", rebuilt,
	)
	return result
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
