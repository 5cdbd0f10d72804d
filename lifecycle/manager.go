package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform"
)

// Config groups the tunables of the manager. zero values fall back to the defaults below.
type Config struct {
	// DeployTimeout bounds one whole platform install (all retries and status polls)
	// and one whole teardown. running out of it fails the release.
	DeployTimeout time.Duration

	// RetryAttempts is how many times a failing platform call is tried
	RetryAttempts int

	// RetryDelay is the first backoff delay, doubled after every attempt
	RetryDelay time.Duration

	// StatusPollInterval is how often an asynchronous platform is asked whether the release is up
	StatusPollInterval time.Duration

	// StaleAfter is how long a release may sit in DEPLOYING before the reaper fails it
	StaleAfter time.Duration

	// LogRoot is the directory for per release log files, empty disables them
	LogRoot string

	Clock   clock.Clock
	Metrics Metrics
}

const (
	defaultDeployTimeout      = 5 * time.Minute
	defaultRetryAttempts      = 3
	defaultRetryDelay         = time.Second
	defaultStatusPollInterval = 2 * time.Second
	defaultStaleAfter         = 30 * time.Minute
)

// Manager implements the release operations. safe for concurrent use.
type Manager struct {
	releases  ReleaseStore
	packages  PackageResolver
	platforms PlatformResolver

	logger     *slog.Logger
	releaseLog *releaseLogger
	metrics    Metrics
	clock      clock.Clock

	// locks is keyed by release name. held only for store read-check-write and for teardowns.
	locks *kmutex.Kmutex

	deployTimeout      time.Duration
	retryAttempts      int
	retryDelay         time.Duration
	statusPollInterval time.Duration
	staleAfter         time.Duration
}

// NewManager wires a manager from its ports.
func NewManager(
	releases ReleaseStore,
	packages PackageResolver,
	platforms PlatformResolver,
	logger *slog.Logger,
	config Config,
) *Manager {
	manager := &Manager{
		releases:           releases,
		packages:           packages,
		platforms:          platforms,
		logger:             logger,
		metrics:            config.Metrics,
		clock:              config.Clock,
		locks:              kmutex.New(),
		deployTimeout:      config.DeployTimeout,
		retryAttempts:      config.RetryAttempts,
		retryDelay:         config.RetryDelay,
		statusPollInterval: config.StatusPollInterval,
		staleAfter:         config.StaleAfter,
	}
	if manager.clock == nil {
		manager.clock = clock.WallClock
	}
	if manager.metrics == nil {
		manager.metrics = noopMetrics{}
	}
	if manager.deployTimeout <= 0 {
		manager.deployTimeout = defaultDeployTimeout
	}
	if manager.retryAttempts <= 0 {
		manager.retryAttempts = defaultRetryAttempts
	}
	if manager.retryDelay <= 0 {
		manager.retryDelay = defaultRetryDelay
	}
	if manager.statusPollInterval <= 0 {
		manager.statusPollInterval = defaultStatusPollInterval
	}
	if manager.staleAfter <= 0 {
		manager.staleAfter = defaultStaleAfter
	}
	manager.releaseLog = &releaseLogger{
		logger:  logger,
		logRoot: config.LogRoot,
		now:     manager.clock.Now,
	}
	return manager
}

// Deploy creates release version <pkg.version> of properties.ReleaseName from the
// package and installs it on properties.PlatformName.
//
// nothing is stored when validation, the package lookup or the platform lookup fails.
// a platform failure leaves a FAILED row behind, which is returned together with an
// error wrapping ErrPlatformUnavailable.
func (manager *Manager) Deploy(ctx context.Context, packageID string, properties models.DeployProperties) (*models.Release, error) {
	if packageID == "" {
		return nil, fmt.Errorf("%w: packageId is required", ErrValidation)
	}
	if err := properties.Validate(true); err != nil {
		return nil, err
	}

	pkg, err := manager.packages.FindByID(ctx, packageID)
	if err != nil {
		return nil, err
	}
	deployer, err := manager.lookupPlatform(properties.PlatformName)
	if err != nil {
		return nil, err
	}

	var release *models.Release
	err = manager.withReleaseLock(properties.ReleaseName, func() error {
		release, err = manager.reserve(ctx, properties.ReleaseName, properties.PlatformName, pkg, properties.Values)
		return err
	})
	if err != nil {
		return nil, err
	}

	return manager.install(ctx, release, deployer)
}

// Update installs properties.NewVersion of a release from properties.PackageID,
// superseding properties.OldVersion. the old version must be DEPLOYED and stays untouched,
// the new version gets its own row. the platform defaults to the old version's platform.
func (manager *Manager) Update(ctx context.Context, properties models.UpdateProperties) (*models.Release, error) {
	if err := properties.Validate(); err != nil {
		return nil, err
	}

	pkg, err := manager.packages.FindByID(ctx, properties.PackageID)
	if err != nil {
		return nil, err
	}
	if pkg.Version != properties.NewVersion {
		return nil, fmt.Errorf("%w: package %s-%s does not provide newVersion %q",
			ErrValidation, pkg.Name, pkg.Version, properties.NewVersion)
	}

	releaseName := properties.Config.ReleaseName
	var release *models.Release
	var deployer platform.Deployer
	err = manager.withReleaseLock(releaseName, func() error {
		old, err := manager.findRelease(ctx, releaseName, properties.OldVersion)
		if err != nil {
			return err
		}
		if old.StatusCode() != models.StatusDeployed {
			return fmt.Errorf("%w: cannot update from %s-%s in status %s",
				ErrInvalidTransition, releaseName, properties.OldVersion, old.StatusCode())
		}

		platformName := properties.Config.PlatformName
		if platformName == "" {
			platformName = old.PlatformName
		}
		deployer, err = manager.lookupPlatform(platformName)
		if err != nil {
			return err
		}

		release, err = manager.reserve(ctx, releaseName, platformName, pkg, properties.Config.Values)
		if err != nil {
			return err
		}
		manager.releaseLog.info(release, "superseding version %s", properties.OldVersion)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return manager.install(ctx, release, deployer)
}

// Undeploy tears down one release version and marks it DELETED.
// undeploying a DELETED version succeeds without doing anything. a version that is still
// DEPLOYING cannot be undeployed. a failed teardown leaves the version FAILED, with its
// platform handle kept so the undeploy can be retried.
func (manager *Manager) Undeploy(ctx context.Context, properties models.UndeployProperties) (*models.Release, error) {
	if err := properties.Validate(); err != nil {
		return nil, err
	}

	var release *models.Release
	var teardownErr error
	err := manager.withReleaseLock(properties.ReleaseName, func() error {
		var err error
		release, err = manager.findRelease(ctx, properties.ReleaseName, properties.Version)
		if err != nil {
			return err
		}

		switch release.StatusCode() {
		case models.StatusDeleted:
			manager.releaseLog.info(release, "already deleted, nothing to undeploy")
			return nil
		case models.StatusDeploying:
			return fmt.Errorf("%w: %s-%s is still deploying", ErrInvalidTransition, release.Name, release.Version)
		}

		teardownErr = manager.teardown(ctx, release)
		commitCtx := context.WithoutCancel(ctx)
		if teardownErr != nil {
			return manager.commitFailed(commitCtx, release, "Delete failed: "+teardownErr.Error())
		}
		return manager.commitDeleted(commitCtx, release)
	})
	if err != nil {
		return nil, err
	}
	if teardownErr != nil {
		return release, teardownErr
	}
	return release, nil
}

// Status returns one release version. an empty version selects the latest version.
func (manager *Manager) Status(ctx context.Context, releaseName, version string) (*models.Release, error) {
	if err := models.ValidateReleaseName(releaseName); err != nil {
		return nil, err
	}
	if version != "" {
		return manager.findRelease(ctx, releaseName, version)
	}

	versions, err := manager.History(ctx, releaseName)
	if err != nil {
		return nil, err
	}
	return versions[len(versions)-1], nil
}

// History returns every version of a release, oldest first.
func (manager *Manager) History(ctx context.Context, releaseName string) ([]*models.Release, error) {
	if err := models.ValidateReleaseName(releaseName); err != nil {
		return nil, err
	}
	versions, err := manager.releases.ListReleaseVersions(ctx, releaseName)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of release %q: %w", releaseName, err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrReleaseNotFound, releaseName)
	}
	return versions, nil
}

// List returns every release version of every release.
func (manager *Manager) List(ctx context.Context) ([]*models.Release, error) {
	releases, err := manager.releases.ListReleases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}
	return releases, nil
}

// reserve writes the DEPLOYING row for (releaseName, pkg.Version). the row doubles as the
// reservation of that version while the platform call runs outside the lock.
// a DELETED row at the same version is reset and reused. must be called with the release lock held.
func (manager *Manager) reserve(
	ctx context.Context,
	releaseName string,
	platformName string,
	pkg *models.PackageMetadata,
	values map[string]string,
) (*models.Release, error) {
	now := manager.clock.Now().UTC()
	release := &models.Release{
		Name:         releaseName,
		Version:      pkg.Version,
		PlatformName: platformName,
		Pkg:          pkg.Clone(),
		Values:       copyValues(values),
		Info: models.Info{
			Status:        models.Status{StatusCode: models.StatusDeploying},
			FirstDeployed: now,
			LastDeployed:  now,
			Description:   DescriptionInstalling,
		},
	}

	existing, err := manager.releases.FindReleaseByNameAndVersion(ctx, releaseName, pkg.Version)
	switch {
	case errors.Is(err, models.ErrRecordNotFound):
		err = manager.releases.CreateRelease(ctx, release)
		if errors.Is(err, models.ErrRecordExists) {
			return nil, fmt.Errorf("%w: %s-%s", ErrDuplicateRelease, releaseName, pkg.Version)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create release %s-%s: %w", releaseName, pkg.Version, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to look up release %s-%s: %w", releaseName, pkg.Version, err)
	case existing.StatusCode() != models.StatusDeleted:
		return nil, fmt.Errorf("%w: %s-%s is %s", ErrDuplicateRelease, releaseName, pkg.Version, existing.StatusCode())
	default:
		if err := manager.releases.SaveRelease(ctx, release); err != nil {
			return nil, fmt.Errorf("failed to reuse deleted release %s-%s: %w", releaseName, pkg.Version, err)
		}
		manager.releaseLog.info(release, "reusing the row of the deleted version")
	}

	manager.metrics.ReleaseTransition(models.StatusDeploying)
	manager.releaseLog.info(release, "installing package %s-%s on platform %q", pkg.Name, pkg.Version, platformName)
	return release, nil
}

// install runs the platform deploy without holding the lock, then commits the outcome under it.
func (manager *Manager) install(ctx context.Context, release *models.Release, deployer platform.Deployer) (*models.Release, error) {
	handle, status, deployErr := manager.deployOnPlatform(ctx, release, deployer)
	release.PlatformHandle = string(handle)

	// the outcome has to be recorded even if the caller went away meanwhile
	commitCtx := context.WithoutCancel(ctx)
	err := manager.withReleaseLock(release.Name, func() error {
		if deployErr != nil {
			release.Info.Status.PlatformStatus = status.Message
			return manager.commitFailed(commitCtx, release, "Install failed: "+deployErr.Error())
		}
		return manager.commitDeployed(commitCtx, release, status.Message)
	})
	if err != nil {
		return nil, err
	}
	if deployErr != nil {
		return release, deployErr
	}
	return release, nil
}

func (manager *Manager) commitDeployed(ctx context.Context, release *models.Release, platformStatus string) error {
	release.Info.Status = models.Status{StatusCode: models.StatusDeployed, PlatformStatus: platformStatus}
	release.Info.LastDeployed = manager.clock.Now().UTC()
	release.Info.Description = DescriptionInstallComplete
	return manager.commit(ctx, release)
}

func (manager *Manager) commitFailed(ctx context.Context, release *models.Release, description string) error {
	platformStatus := release.Info.Status.PlatformStatus
	release.Info.Status = models.Status{StatusCode: models.StatusFailed, PlatformStatus: platformStatus}
	release.Info.LastDeployed = manager.clock.Now().UTC()
	release.Info.Description = description
	return manager.commit(ctx, release)
}

func (manager *Manager) commitDeleted(ctx context.Context, release *models.Release) error {
	now := manager.clock.Now().UTC()
	release.Info.Status = models.Status{StatusCode: models.StatusDeleted}
	release.Info.LastDeployed = now
	release.Info.Deleted = &now
	release.Info.Description = DescriptionDeleteComplete
	return manager.commit(ctx, release)
}

func (manager *Manager) commit(ctx context.Context, release *models.Release) error {
	if err := manager.releases.SaveRelease(ctx, release); err != nil {
		manager.logger.Error("failed to record release transition",
			"release", release.Name,
			"version", release.Version,
			"status", release.StatusCode(),
			"error", err,
		)
		return fmt.Errorf("failed to save release %s-%s: %w", release.Name, release.Version, err)
	}
	manager.metrics.ReleaseTransition(release.StatusCode())
	manager.releaseLog.info(release, "%s", release.Info.Description)
	return nil
}

func (manager *Manager) findRelease(ctx context.Context, releaseName, version string) (*models.Release, error) {
	release, err := manager.releases.FindReleaseByNameAndVersion(ctx, releaseName, version)
	if errors.Is(err, models.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s-%s", ErrReleaseNotFound, releaseName, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up release %s-%s: %w", releaseName, version, err)
	}
	return release, nil
}

func (manager *Manager) lookupPlatform(platformName string) (platform.Deployer, error) {
	deployer, err := manager.platforms.Lookup(platformName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlatformUnavailable, err)
	}
	return deployer, nil
}

// withReleaseLock runs fn while holding the lock of releaseName.
func (manager *Manager) withReleaseLock(releaseName string, fn func() error) error {
	manager.locks.Lock(releaseName)
	defer manager.locks.Unlock(releaseName)
	return fn()
}

func copyValues(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	copied := make(map[string]string, len(values))
	for key, value := range values {
		copied[key] = value
	}
	return copied
}
