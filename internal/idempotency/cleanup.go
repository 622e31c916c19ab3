package idempotency

import (
	"log/slog"
	"time"
)

// DefaultExpiry is how long a key stays replayable before cleanup may
// remove it.
const DefaultExpiry = 24 * time.Hour

// CleanupOldKeys deletes keys older than expiry and returns the count.
// Callers schedule it periodically to keep the store bounded.
func CleanupOldKeys(repo Repository, expiry time.Duration) (int64, error) {
	deleted, err := repo.DeleteOlderThan(expiry)
	if err != nil {
		slog.Error("failed to cleanup old idempotency keys", "error", err)
		return 0, err
	}
	if deleted > 0 {
		slog.Info("cleaned up old idempotency keys", "deleted", deleted, "older_than", expiry)
	}
	return deleted, nil
}

// RunPeriodicCleanup sweeps the store once immediately and then on every
// interval tick until stopChan closes. It blocks, so run it in its own
// goroutine:
//
//	stop := make(chan struct{})
//	go idempotency.RunPeriodicCleanup(repo, time.Hour, idempotency.DefaultExpiry, stop)
//	defer close(stop)
func RunPeriodicCleanup(repo Repository, interval time.Duration, expiry time.Duration, stopChan <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := CleanupOldKeys(repo, expiry); err != nil {
		slog.Error("initial cleanup failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if _, err := CleanupOldKeys(repo, expiry); err != nil {
				slog.Error("periodic cleanup failed", "error", err)
			}
		case <-stopChan:
			slog.Info("stopping periodic cleanup")
			return
		}
	}
}
