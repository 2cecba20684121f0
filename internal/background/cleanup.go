package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pruner is a rate limiter whose idle keys can be dropped
type Pruner interface {
	Prune(now time.Time) int
	Keys() int
}

// PruneReporter receives the outcome of each pass. Optional.
type PruneReporter interface {
	LimiterPruned(removed, remaining int)
}

// CleanupManager periodically drops idle keys from the in-memory rate limiter
type CleanupManager struct {
	limiter  Pruner
	reporter PruneReporter
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	limiter Pruner,
	reporter PruneReporter,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CleanupManager{
		limiter:  limiter,
		reporter: reporter,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task and blocks until stopped
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.RunOnce()
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce prunes the limiter a single time
func (cm *CleanupManager) RunOnce() {
	removed := cm.limiter.Prune(cm.now())
	remaining := cm.limiter.Keys()

	if cm.reporter != nil {
		cm.reporter.LimiterPruned(removed, remaining)
	}
	if removed > 0 {
		cm.logger.Debug("rate limiter pruned",
			slog.Int("removed", removed),
			slog.Int("remaining", remaining))
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
