package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/juju/retry"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform"
)

// deployOnPlatform installs the release and, for asynchronous platforms, waits for it to come up.
// the whole thing is bounded by deployTimeout. any error returned wraps ErrPlatformUnavailable.
// the handle is returned even when the status poll fails, so the row keeps something to tear down.
func (manager *Manager) deployOnPlatform(ctx context.Context, release *models.Release, deployer platform.Deployer) (platform.Handle, platform.Status, error) {
	deployCtx, cancel := context.WithTimeout(ctx, manager.deployTimeout)
	defer cancel()

	request := platform.DeployRequest{
		PlatformName: release.PlatformName,
		ReleaseName:  release.Name,
		Version:      release.Version,
		Package:      release.Pkg.Clone(),
		Values:       copyValues(release.Values),
	}

	var handle platform.Handle
	err := manager.callWithRetry(deployCtx, release, "deploy", func() error {
		var err error
		handle, err = deployer.Deploy(deployCtx, request)
		return err
	})
	if err != nil {
		return "", platform.Status{}, fmt.Errorf("%w: deploy on platform %q: %w", ErrPlatformUnavailable, release.PlatformName, err)
	}
	manager.releaseLog.info(release, "platform accepted the release, handle %q", handle)

	reporter, async := deployer.(platform.StatusReporter)
	if !async {
		return handle, platform.Status{}, nil
	}

	status, err := manager.awaitReady(deployCtx, release, reporter, handle)
	if err != nil {
		return handle, status, fmt.Errorf("%w: platform %q: %w", ErrPlatformUnavailable, release.PlatformName, err)
	}
	return handle, status, nil
}

// awaitReady polls the platform until the release leaves the pending state or ctx runs out.
// status errors are treated like a pending answer, the deadline decides when to give up.
func (manager *Manager) awaitReady(ctx context.Context, release *models.Release, reporter platform.StatusReporter, handle platform.Handle) (platform.Status, error) {
	var last platform.Status
	for {
		start := manager.clock.Now()
		status, err := reporter.Status(ctx, handle)
		manager.metrics.PlatformCall(release.PlatformName, "status", err, manager.clock.Now().Sub(start))

		switch {
		case err != nil && ctx.Err() != nil:
			return last, fmt.Errorf("release did not become ready: %w", ctx.Err())
		case err != nil:
			manager.releaseLog.warn(release, "status check failed: %v", err)
		case status.State == platform.StateReady:
			return status, nil
		case status.State == platform.StateFailed:
			return status, fmt.Errorf("platform reported failure: %s", status.Message)
		default:
			last = status
		}

		select {
		case <-ctx.Done():
			return last, fmt.Errorf("release did not become ready: %w", ctx.Err())
		case <-manager.clock.After(manager.statusPollInterval):
		}
	}
}

// teardown removes the release from its platform. releases the platform never accepted
// (no handle) have nothing to remove. any error returned wraps ErrPlatformUnavailable.
func (manager *Manager) teardown(ctx context.Context, release *models.Release) error {
	if release.PlatformHandle == "" {
		manager.releaseLog.info(release, "no platform handle recorded, skipping teardown")
		return nil
	}

	deployer, err := manager.lookupPlatform(release.PlatformName)
	if err != nil {
		return err
	}

	undeployCtx, cancel := context.WithTimeout(ctx, manager.deployTimeout)
	defer cancel()

	handle := platform.Handle(release.PlatformHandle)
	err = manager.callWithRetry(undeployCtx, release, "undeploy", func() error {
		return deployer.Undeploy(undeployCtx, handle)
	})
	if err != nil {
		return fmt.Errorf("%w: undeploy from platform %q: %w", ErrPlatformUnavailable, release.PlatformName, err)
	}
	return nil
}

// callWithRetry runs call with exponential backoff. cancellation and deadline errors end
// the retries right away, there is no point in calling a platform with a dead context.
func (manager *Manager) callWithRetry(ctx context.Context, release *models.Release, operation string, call func() error) error {
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			start := manager.clock.Now()
			err := call()
			manager.metrics.PlatformCall(release.PlatformName, operation, err, manager.clock.Now().Sub(start))
			return err
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
		NotifyFunc: func(err error, attempt int) {
			manager.releaseLog.warn(release, "%s attempt %d failed: %v", operation, attempt, err)
		},
		Attempts:    manager.retryAttempts,
		Delay:       manager.retryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       manager.clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}

	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		lastErr := retry.LastError(err)
		if ctxErr := ctx.Err(); ctxErr != nil && (lastErr == nil || !errors.Is(lastErr, ctxErr)) {
			if lastErr == nil {
				return ctxErr
			}
			return fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
		}
		return lastErr
	}
	return err
}
