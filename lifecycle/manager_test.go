package lifecycle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/juju/clock/testclock"
	"go.uber.org/goleak"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/catalog"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/lifecycle"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/memstore"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform/inmemory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingMetrics struct {
	mu          sync.Mutex
	transitions []models.StatusCode
	calls       map[string]int
}

func (metrics *recordingMetrics) ReleaseTransition(status models.StatusCode) {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	metrics.transitions = append(metrics.transitions, status)
}

func (metrics *recordingMetrics) PlatformCall(platformName, operation string, _ error, _ time.Duration) {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.calls == nil {
		metrics.calls = make(map[string]int)
	}
	metrics.calls[platformName+"/"+operation]++
}

type harness struct {
	store   *memstore.Store
	test    *inmemory.Deployer
	other   *inmemory.Deployer
	manager *lifecycle.Manager
	metrics *recordingMetrics
	logRoot string
	logPkg  *models.PackageMetadata
	log2Pkg *models.PackageMetadata
	timePkg *models.PackageMetadata
}

func newHarness(c *qt.C, configure ...func(*lifecycle.Config)) *harness {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	packages := catalog.New(store, logger, catalog.Config{})

	h := &harness{
		store:   store,
		test:    inmemory.New(),
		other:   inmemory.New(),
		metrics: &recordingMetrics{},
		logRoot: c.TempDir(),
	}

	var err error
	h.logPkg, err = packages.Publish(ctx, models.PackageMetadata{Name: "log", Version: "1.0.0"})
	c.Assert(err, qt.IsNil)
	h.log2Pkg, err = packages.Publish(ctx, models.PackageMetadata{Name: "log2", Version: "1.0.1"})
	c.Assert(err, qt.IsNil)
	h.timePkg, err = packages.Publish(ctx, models.PackageMetadata{Name: "time", Version: "2.0.0"})
	c.Assert(err, qt.IsNil)

	registry := platform.NewRegistry()
	c.Assert(registry.Register("test", h.test), qt.IsNil)
	c.Assert(registry.Register("other", h.other), qt.IsNil)

	config := lifecycle.Config{
		DeployTimeout:      time.Second,
		RetryAttempts:      3,
		RetryDelay:         time.Millisecond,
		StatusPollInterval: time.Millisecond,
		LogRoot:            h.logRoot,
		Metrics:            h.metrics,
	}
	for _, apply := range configure {
		apply(&config)
	}
	h.manager = lifecycle.NewManager(store, packages, registry, logger, config)
	return h
}

func deployProperties(releaseName string) models.DeployProperties {
	return models.DeployProperties{PlatformName: "test", ReleaseName: releaseName}
}

func (h *harness) deploy(c *qt.C, pkg *models.PackageMetadata, releaseName string) *models.Release {
	release, err := h.manager.Deploy(context.Background(), pkg.ID, deployProperties(releaseName))
	c.Assert(err, qt.IsNil)
	c.Assert(release.StatusCode(), qt.Equals, models.StatusDeployed)
	return release
}

// insertDeploying puts a row in DEPLOYING directly into the store, as if a deploy was interrupted.
func (h *harness) insertDeploying(c *qt.C, releaseName string, pkg *models.PackageMetadata, at time.Time) {
	c.Assert(h.store.CreateRelease(context.Background(), &models.Release{
		Name:         releaseName,
		Version:      pkg.Version,
		PlatformName: "test",
		Pkg:          *pkg,
		Info: models.Info{
			Status:        models.Status{StatusCode: models.StatusDeploying},
			FirstDeployed: at,
			LastDeployed:  at,
		},
	}), qt.IsNil)
}

func (h *harness) rowCount(c *qt.C) int {
	releases, err := h.manager.List(context.Background())
	c.Assert(err, qt.IsNil)
	return len(releases)
}

func TestDeployUpdateUndeploy(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	h := newHarness(c)

	deployed, err := h.manager.Deploy(ctx, h.logPkg.ID, models.DeployProperties{
		PlatformName: "test",
		ReleaseName:  "log-sink-app",
		Values:       map[string]string{"log.level": "DEBUG"},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(deployed.Name, qt.Equals, "log-sink-app")
	c.Assert(deployed.Version, qt.Equals, "1.0.0")
	c.Assert(deployed.Pkg.Name, qt.Equals, "log")
	c.Assert(deployed.StatusCode(), qt.Equals, models.StatusDeployed)
	c.Assert(deployed.Info.Description, qt.Equals, lifecycle.DescriptionInstallComplete)
	c.Assert(deployed.Values, qt.DeepEquals, map[string]string{"log.level": "DEBUG"})
	c.Assert(deployed.PlatformHandle, qt.Equals, string(inmemory.HandleFor("log-sink-app", "1.0.0")))

	updated, err := h.manager.Update(ctx, models.UpdateProperties{
		PackageID:  h.log2Pkg.ID,
		OldVersion: "1.0.0",
		NewVersion: "1.0.1",
		Config:     models.DeployProperties{PlatformName: "test", ReleaseName: "log-sink-app"},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(updated.Version, qt.Equals, "1.0.1")
	c.Assert(updated.Pkg.Name, qt.Equals, "log2")
	c.Assert(updated.StatusCode(), qt.Equals, models.StatusDeployed)

	// the superseded version is left as it was
	old, err := h.manager.Status(ctx, "log-sink-app", "1.0.0")
	c.Assert(err, qt.IsNil)
	c.Assert(old, qt.DeepEquals, deployed)

	latest, err := h.manager.Status(ctx, "log-sink-app", "")
	c.Assert(err, qt.IsNil)
	c.Assert(latest.Version, qt.Equals, "1.0.1")

	undeployed, err := h.manager.Undeploy(ctx, models.UndeployProperties{ReleaseName: "log-sink-app", Version: "1.0.1"})
	c.Assert(err, qt.IsNil)
	c.Assert(undeployed.StatusCode(), qt.Equals, models.StatusDeleted)
	c.Assert(undeployed.Info.Deleted, qt.Not(qt.IsNil))
	c.Assert(undeployed.Info.Description, qt.Equals, lifecycle.DescriptionDeleteComplete)
	c.Assert(h.test.IsDeployed(inmemory.HandleFor("log-sink-app", "1.0.1")), qt.IsFalse)
	c.Assert(h.test.IsDeployed(inmemory.HandleFor("log-sink-app", "1.0.0")), qt.IsTrue)

	history, err := h.manager.History(ctx, "log-sink-app")
	c.Assert(err, qt.IsNil)
	c.Assert(history, qt.HasLen, 2)
	c.Assert(history[0].StatusCode(), qt.Equals, models.StatusDeployed)
	c.Assert(history[1].StatusCode(), qt.Equals, models.StatusDeleted)

	c.Assert(h.metrics.transitions, qt.DeepEquals, []models.StatusCode{
		models.StatusDeploying, models.StatusDeployed,
		models.StatusDeploying, models.StatusDeployed,
		models.StatusDeleted,
	})

	logContent, err := os.ReadFile(lifecycle.ReleaseLogPath(h.logRoot, "log-sink-app"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(logContent), qt.Contains, "1.0.0 DEPLOYED: Install complete")
	c.Assert(string(logContent), qt.Contains, "1.0.1 DEPLOYING: superseding version 1.0.0")
	c.Assert(string(logContent), qt.Contains, "1.0.1 DELETED: Delete complete")
}

func TestDeployRejectsInvalidInput(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)

	tests := []struct {
		about      string
		packageID  string
		properties models.DeployProperties
		err        error
	}{{
		about:      "missing package id",
		properties: deployProperties("log-sink-app"),
		err:        lifecycle.ErrValidation,
	}, {
		about:      "missing release name",
		packageID:  h.logPkg.ID,
		properties: models.DeployProperties{PlatformName: "test"},
		err:        lifecycle.ErrValidation,
	}, {
		about:      "malformed release name",
		packageID:  h.logPkg.ID,
		properties: deployProperties("Log_Sink"),
		err:        lifecycle.ErrValidation,
	}, {
		about:      "missing platform",
		packageID:  h.logPkg.ID,
		properties: models.DeployProperties{ReleaseName: "log-sink-app"},
		err:        lifecycle.ErrValidation,
	}, {
		about:      "unknown package",
		packageID:  "no-such-package",
		properties: deployProperties("log-sink-app"),
		err:        lifecycle.ErrPackageNotFound,
	}, {
		about:      "unknown platform",
		packageID:  h.logPkg.ID,
		properties: models.DeployProperties{PlatformName: "cloudfoundry", ReleaseName: "log-sink-app"},
		err:        lifecycle.ErrPlatformUnavailable,
	}}

	for _, test := range tests {
		c.Run(test.about, func(c *qt.C) {
			release, err := h.manager.Deploy(context.Background(), test.packageID, test.properties)
			c.Assert(err, qt.ErrorIs, test.err)
			c.Assert(release, qt.IsNil)
		})
	}

	c.Assert(h.rowCount(c), qt.Equals, 0)
	deploys, _ := h.test.Calls()
	c.Assert(deploys, qt.Equals, 0)
}

func TestDeployDuplicateVersion(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	first := h.deploy(c, h.logPkg, "log-sink-app")

	release, err := h.manager.Deploy(context.Background(), h.logPkg.ID, deployProperties("log-sink-app"))
	c.Assert(err, qt.ErrorIs, lifecycle.ErrDuplicateRelease)
	c.Assert(release, qt.IsNil)

	stored, err := h.manager.Status(context.Background(), "log-sink-app", "1.0.0")
	c.Assert(err, qt.IsNil)
	c.Assert(stored, qt.DeepEquals, first)
	deploys, _ := h.test.Calls()
	c.Assert(deploys, qt.Equals, 1)
}

func TestDeployPlatformFailureRecordsFailed(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	h := newHarness(c)
	h.test.FailDeploys("log-sink-app", errors.New("no capacity"))

	release, err := h.manager.Deploy(ctx, h.logPkg.ID, deployProperties("log-sink-app"))
	c.Assert(err, qt.ErrorIs, lifecycle.ErrPlatformUnavailable)
	c.Assert(err, qt.ErrorMatches, `.*no capacity`)
	c.Assert(release, qt.Not(qt.IsNil))
	c.Assert(release.StatusCode(), qt.Equals, models.StatusFailed)
	c.Assert(release.PlatformHandle, qt.Equals, "")
	c.Assert(strings.HasPrefix(release.Info.Description, "Install failed: "), qt.IsTrue)

	// every attempt was made
	deploys, _ := h.test.Calls()
	c.Assert(deploys, qt.Equals, 3)

	stored, err := h.manager.Status(ctx, "log-sink-app", "1.0.0")
	c.Assert(err, qt.IsNil)
	c.Assert(stored.StatusCode(), qt.Equals, models.StatusFailed)

	// a failed release with no handle is retired without calling the platform
	undeployed, err := h.manager.Undeploy(ctx, models.UndeployProperties{ReleaseName: "log-sink-app", Version: "1.0.0"})
	c.Assert(err, qt.IsNil)
	c.Assert(undeployed.StatusCode(), qt.Equals, models.StatusDeleted)
	_, undeploys := h.test.Calls()
	c.Assert(undeploys, qt.Equals, 0)
}

func TestDeployRecoversOnRetry(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.test.FailNextDeploys("log-sink-app", 2, errors.New("flaky"))

	release := h.deploy(c, h.logPkg, "log-sink-app")
	c.Assert(release.PlatformHandle, qt.Equals, string(inmemory.HandleFor("log-sink-app", "1.0.0")))

	deploys, _ := h.test.Calls()
	c.Assert(deploys, qt.Equals, 3)
	c.Assert(h.metrics.calls["test/deploy"], qt.Equals, 3)
}

func TestDeployTimeoutRecordsFailed(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c, func(config *lifecycle.Config) {
		config.DeployTimeout = 20 * time.Millisecond
	})
	h.test.Hang("log-sink-app")

	release, err := h.manager.Deploy(context.Background(), h.logPkg.ID, deployProperties("log-sink-app"))
	c.Assert(err, qt.ErrorIs, lifecycle.ErrPlatformUnavailable)
	c.Assert(err, qt.ErrorIs, context.DeadlineExceeded)
	c.Assert(release.StatusCode(), qt.Equals, models.StatusFailed)

	// deadline errors are not retried
	deploys, _ := h.test.Calls()
	c.Assert(deploys, qt.Equals, 1)
}

func TestDeployWaitsForAsyncPlatform(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)
	h.test.ReportPending(3)

	release := h.deploy(c, h.logPkg, "log-sink-app")
	c.Assert(release.Info.Status.PlatformStatus, qt.Equals, "running")
	c.Assert(h.metrics.calls["test/status"], qt.Equals, 4)
}

func TestDeployAsyncPlatformReportsFailure(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	h := newHarness(c)
	h.test.ReportFailed("log-sink-app", "crash loop")

	release, err := h.manager.Deploy(ctx, h.logPkg.ID, deployProperties("log-sink-app"))
	c.Assert(err, qt.ErrorIs, lifecycle.ErrPlatformUnavailable)
	c.Assert(release.StatusCode(), qt.Equals, models.StatusFailed)
	c.Assert(release.Info.Status.PlatformStatus, qt.Equals, "crash loop")

	// the platform did accept it, so the handle is kept and undeploy tears it down
	c.Assert(release.PlatformHandle, qt.Not(qt.Equals), "")
	undeployed, err := h.manager.Undeploy(ctx, models.UndeployProperties{ReleaseName: "log-sink-app", Version: "1.0.0"})
	c.Assert(err, qt.IsNil)
	c.Assert(undeployed.StatusCode(), qt.Equals, models.StatusDeleted)
	c.Assert(h.test.Deployed(), qt.HasLen, 0)
}

func TestRedeployReusesDeletedRow(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	h := newHarness(c)
	h.deploy(c, h.logPkg, "log-sink-app")

	_, err := h.manager.Undeploy(ctx, models.UndeployProperties{ReleaseName: "log-sink-app", Version: "1.0.0"})
	c.Assert(err, qt.IsNil)

	redeployed := h.deploy(c, h.logPkg, "log-sink-app")
	c.Assert(redeployed.Info.Deleted, qt.IsNil)
	c.Assert(redeployed.Info.Description, qt.Equals, lifecycle.DescriptionInstallComplete)

	history, err := h.manager.History(ctx, "log-sink-app")
	c.Assert(err, qt.IsNil)
	c.Assert(history, qt.HasLen, 1)
}

func TestUpdateErrors(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	h := newHarness(c)
	h.deploy(c, h.logPkg, "log-sink-app")
	h.insertDeploying(c, "audit", h.logPkg, time.Now())

	update := func(packageID, oldVersion, newVersion, releaseName string) error {
		_, err := h.manager.Update(ctx, models.UpdateProperties{
			PackageID:  packageID,
			OldVersion: oldVersion,
			NewVersion: newVersion,
			Config:     models.DeployProperties{ReleaseName: releaseName},
		})
		return err
	}

	c.Assert(update("", "1.0.0", "1.0.1", "log-sink-app"), qt.ErrorIs, lifecycle.ErrValidation)
	c.Assert(update(h.logPkg.ID, "1.0.0", "1.0.0", "log-sink-app"), qt.ErrorIs, lifecycle.ErrValidation)
	c.Assert(update(h.timePkg.ID, "1.0.0", "1.0.1", "log-sink-app"), qt.ErrorIs, lifecycle.ErrValidation)
	c.Assert(update("no-such-package", "1.0.0", "1.0.1", "log-sink-app"), qt.ErrorIs, lifecycle.ErrPackageNotFound)
	c.Assert(update(h.log2Pkg.ID, "0.9.0", "1.0.1", "log-sink-app"), qt.ErrorIs, lifecycle.ErrReleaseNotFound)
	c.Assert(update(h.log2Pkg.ID, "1.0.0", "1.0.1", "unknown-app"), qt.ErrorIs, lifecycle.ErrReleaseNotFound)
	c.Assert(update(h.log2Pkg.ID, "1.0.0", "1.0.1", "audit"), qt.ErrorIs, lifecycle.ErrInvalidTransition)

	// a new version that is already live is a duplicate
	c.Assert(update(h.log2Pkg.ID, "1.0.0", "1.0.1", "log-sink-app"), qt.IsNil)
	c.Assert(update(h.log2Pkg.ID, "1.0.0", "1.0.1", "log-sink-app"), qt.ErrorIs, lifecycle.ErrDuplicateRelease)
}

func TestUpdatePlatformSelection(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	h := newHarness(c)
	h.deploy(c, h.logPkg, "log-sink-app")

	// defaults to the platform of the old version
	updated, err := h.manager.Update(ctx, models.UpdateProperties{
		PackageID:  h.log2Pkg.ID,
		OldVersion: "1.0.0",
		NewVersion: "1.0.1",
		Config:     models.DeployProperties{ReleaseName: "log-sink-app", Values: map[string]string{"a": "b"}},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(updated.PlatformName, qt.Equals, "test")
	c.Assert(updated.Values, qt.DeepEquals, map[string]string{"a": "b"})

	moved, err := h.manager.Update(ctx, models.UpdateProperties{
		PackageID:  h.timePkg.ID,
		OldVersion: "1.0.1",
		NewVersion: "2.0.0",
		Config:     models.DeployProperties{PlatformName: "other", ReleaseName: "log-sink-app"},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(moved.PlatformName, qt.Equals, "other")
	c.Assert(h.other.Deployed(), qt.HasLen, 1)

	_, err = h.manager.Update(ctx, models.UpdateProperties{
		PackageID:  h.timePkg.ID,
		OldVersion: "1.0.0",
		NewVersion: "2.0.0",
		Config:     models.DeployProperties{PlatformName: "cloudfoundry", ReleaseName: "log-sink-app"},
	})
	c.Assert(err, qt.ErrorIs, lifecycle.ErrPlatformUnavailable)
}

func TestUndeployStates(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	h := newHarness(c)
	h.deploy(c, h.logPkg, "log-sink-app")
	h.insertDeploying(c, "audit", h.logPkg, time.Now())

	_, err := h.manager.Undeploy(ctx, models.UndeployProperties{ReleaseName: "log-sink-app"})
	c.Assert(err, qt.ErrorIs, lifecycle.ErrValidation)

	_, err = h.manager.Undeploy(ctx, models.UndeployProperties{ReleaseName: "log-sink-app", Version: "9.9.9"})
	c.Assert(err, qt.ErrorIs, lifecycle.ErrReleaseNotFound)

	_, err = h.manager.Undeploy(ctx, models.UndeployProperties{ReleaseName: "audit", Version: "1.0.0"})
	c.Assert(err, qt.ErrorIs, lifecycle.ErrInvalidTransition)

	first, err := h.manager.Undeploy(ctx, models.UndeployProperties{ReleaseName: "log-sink-app", Version: "1.0.0"})
	c.Assert(err, qt.IsNil)

	// undeploying again is a no-op success
	second, err := h.manager.Undeploy(ctx, models.UndeployProperties{ReleaseName: "log-sink-app", Version: "1.0.0"})
	c.Assert(err, qt.IsNil)
	c.Assert(second, qt.DeepEquals, first)
	_, undeploys := h.test.Calls()
	c.Assert(undeploys, qt.Equals, 1)
}

func TestUndeployTeardownFailure(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	h := newHarness(c)
	h.deploy(c, h.logPkg, "log-sink-app")
	h.test.FailUndeploys(errors.New("agent offline"))

	release, err := h.manager.Undeploy(ctx, models.UndeployProperties{ReleaseName: "log-sink-app", Version: "1.0.0"})
	c.Assert(err, qt.ErrorIs, lifecycle.ErrPlatformUnavailable)
	c.Assert(release.StatusCode(), qt.Equals, models.StatusFailed)
	c.Assert(release.PlatformHandle, qt.Not(qt.Equals), "")
	c.Assert(release.Info.Deleted, qt.IsNil)

	h.test.FailUndeploys(nil)
	release, err = h.manager.Undeploy(ctx, models.UndeployProperties{ReleaseName: "log-sink-app", Version: "1.0.0"})
	c.Assert(err, qt.IsNil)
	c.Assert(release.StatusCode(), qt.Equals, models.StatusDeleted)
	c.Assert(h.test.Deployed(), qt.HasLen, 0)
}

func TestStatusAndHistoryLookups(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	h := newHarness(c)

	_, err := h.manager.Status(ctx, "log-sink-app", "")
	c.Assert(err, qt.ErrorIs, lifecycle.ErrReleaseNotFound)
	_, err = h.manager.History(ctx, "log-sink-app")
	c.Assert(err, qt.ErrorIs, lifecycle.ErrReleaseNotFound)
	_, err = h.manager.Status(ctx, "NOT VALID", "")
	c.Assert(err, qt.ErrorIs, lifecycle.ErrValidation)

	h.deploy(c, h.logPkg, "log-sink-app")
	h.deploy(c, h.timePkg, "clock")

	latest, err := h.manager.Status(ctx, "log-sink-app", "")
	c.Assert(err, qt.IsNil)
	c.Assert(latest.Version, qt.Equals, "1.0.0")

	all, err := h.manager.List(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.HasLen, 2)
	c.Assert(all[0].Name, qt.Equals, "clock")
}

func TestConcurrentDeploysOfOneVersion(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.manager.Deploy(context.Background(), h.logPkg.ID, deployProperties("log-sink-app"))
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		c.Assert(err, qt.ErrorIs, lifecycle.ErrDuplicateRelease)
	}
	c.Assert(succeeded, qt.Equals, 1)
	c.Assert(h.rowCount(c), qt.Equals, 1)
	c.Assert(h.test.Deployed(), qt.HasLen, 1)
}

func TestConcurrentDeploysOfDistinctReleases(t *testing.T) {
	c := qt.New(t)
	h := newHarness(c)

	names := []string{"a", "b", "c", "d", "e"}
	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, name := range names {
		i, name := i, name
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.manager.Deploy(context.Background(), h.logPkg.ID, deployProperties(name))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		c.Assert(err, qt.IsNil)
	}
	c.Assert(h.test.Deployed(), qt.HasLen, len(names))
}

func TestReapStaleReleases(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	clock := testclock.NewClock(start)
	h := newHarness(c, func(config *lifecycle.Config) {
		config.Clock = clock
		config.StaleAfter = 10 * time.Minute
	})

	h.insertDeploying(c, "stuck", h.logPkg, start)
	h.insertDeploying(c, "fresh", h.logPkg, start.Add(8*time.Minute))
	h.deploy(c, h.log2Pkg, "healthy")

	reaped, err := h.manager.ReapStaleReleases(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(reaped, qt.Equals, 0)

	clock.Advance(11 * time.Minute)
	reaped, err = h.manager.ReapStaleReleases(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(reaped, qt.Equals, 1)

	stuck, err := h.manager.Status(ctx, "stuck", "1.0.0")
	c.Assert(err, qt.IsNil)
	c.Assert(stuck.StatusCode(), qt.Equals, models.StatusFailed)
	c.Assert(stuck.Info.Description, qt.Equals, "Install failed: still deploying after 10m0s")

	fresh, err := h.manager.Status(ctx, "fresh", "1.0.0")
	c.Assert(err, qt.IsNil)
	c.Assert(fresh.StatusCode(), qt.Equals, models.StatusDeploying)

	healthy, err := h.manager.Status(ctx, "healthy", "1.0.1")
	c.Assert(err, qt.IsNil)
	c.Assert(healthy.StatusCode(), qt.Equals, models.StatusDeployed)

	// a reaped release can be undeployed like any failed one
	_, err = h.manager.Undeploy(ctx, models.UndeployProperties{ReleaseName: "stuck", Version: "1.0.0"})
	c.Assert(err, qt.IsNil)
}

func TestStaleReleaseReaperLoop(t *testing.T) {
	c := qt.New(t)
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	clock := testclock.NewClock(start)
	h := newHarness(c, func(config *lifecycle.Config) {
		config.Clock = clock
		config.StaleAfter = 10 * time.Minute
	})
	h.insertDeploying(c, "stuck", h.logPkg, start.Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		h.manager.StartStaleReleaseReaper(ctx, time.Minute)
	}()

	// nothing is reaped before the first tick
	release, err := h.manager.Status(context.Background(), "stuck", "1.0.0")
	c.Assert(err, qt.IsNil)
	c.Assert(release.StatusCode(), qt.Equals, models.StatusDeploying)

	c.Assert(clock.WaitAdvance(time.Minute, 5*time.Second, 1), qt.IsNil)

	deadline := time.Now().Add(5 * time.Second)
	for {
		release, err := h.manager.Status(context.Background(), "stuck", "1.0.0")
		c.Assert(err, qt.IsNil)
		if release.StatusCode() == models.StatusFailed {
			break
		}
		if time.Now().After(deadline) {
			c.Fatalf("release was not reaped, status %s", release.StatusCode())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-stopped
}
