package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

// StartStaleReleaseReaper periodically fails releases stuck in DEPLOYING.
// a release only stays there when the process died (or was restarted) between
// reserving the row and committing the platform outcome.
// it blocks until ctx is cancelled, run it in its own goroutine.
func (manager *Manager) StartStaleReleaseReaper(ctx context.Context, tickInterval time.Duration) {
	manager.logger.Info("stale release reaper started",
		"interval", tickInterval.String(),
		"stale_after", manager.staleAfter.String(),
	)

	for {
		select {
		case <-ctx.Done():
			manager.logger.Info("stale release reaper stopped")
			return
		case <-manager.clock.After(tickInterval):
			if _, err := manager.ReapStaleReleases(ctx); err != nil {
				manager.logger.Error("failed to reap stale releases", "error", err)
			}
		}
	}
}

// ReapStaleReleases moves every release that has been DEPLOYING for longer than
// StaleAfter to FAILED and returns how many it moved.
func (manager *Manager) ReapStaleReleases(ctx context.Context) (int, error) {
	deploying, err := manager.releases.ListReleasesByStatus(ctx, models.StatusDeploying)
	if err != nil {
		return 0, fmt.Errorf("failed to list deploying releases: %w", err)
	}

	reaped := 0
	for _, candidate := range deploying {
		if !manager.isStale(candidate) {
			continue
		}

		err := manager.withReleaseLock(candidate.Name, func() error {
			// re-read under the lock, the install may have committed since the listing
			release, err := manager.findRelease(ctx, candidate.Name, candidate.Version)
			if err != nil {
				return err
			}
			if release.StatusCode() != models.StatusDeploying || !manager.isStale(release) {
				return nil
			}

			description := fmt.Sprintf("Install failed: still deploying after %s", manager.staleAfter)
			if err := manager.commitFailed(ctx, release, description); err != nil {
				return err
			}
			reaped++
			return nil
		})
		if err != nil {
			manager.logger.Error("failed to reap stale release",
				"release", candidate.Name,
				"version", candidate.Version,
				"error", err,
			)
		}
	}

	if reaped > 0 {
		manager.logger.Info("stale releases failed", "count", reaped)
	}
	return reaped, nil
}

func (manager *Manager) isStale(release *models.Release) bool {
	return manager.clock.Now().Sub(release.Info.LastDeployed) > manager.staleAfter
}
