package storage

import (
	"context"
	"log/slog"
	"time"

	"webinarfeedback/internal/server/database"
)

// CleanupService periodically prunes expired issuance tokens and rate-limit
// log rows older than the retention window.
type CleanupService struct {
	repo      database.Store
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	done      chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(repo database.Store, interval, retention time.Duration) *CleanupService {
	return &CleanupService{
		repo:      repo,
		interval:  interval,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
		done:      make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval, "retention", cs.retention)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				cs.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

// RunOnce performs a single prune pass.
func (cs *CleanupService) RunOnce(ctx context.Context) (*database.PruneResult, error) {
	cutoff := cs.now().Add(-cs.retention)

	res, err := cs.repo.PruneExpired(ctx, database.PruneParams{
		TokensExpiredBefore: cutoff,
		LogsBefore:          cutoff,
	})
	if err != nil {
		slog.Error("cleanup cycle failed", "error", err)
		return nil, err
	}

	slog.Info("cleanup cycle complete",
		"tokens", res.Tokens,
		"submission_logs", res.SubmissionLogs,
		"download_logs", res.DownloadLogs,
		"cutoff", cutoff,
	)
	return res, nil
}
