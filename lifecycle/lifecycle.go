// Package lifecycle is the release lifecycle manager. it creates releases from
// catalog packages, drives them through
//
//	DEPLOYING -> DEPLOYED | FAILED -> DELETED
//
// on a platform deployer, and supersedes a deployed version with a new version row on update.
// every transition is committed to the release store under a per release name lock,
// so two requests for the same release name never interleave their read-check-write.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/catalog"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform"
)

// errors returned by the manager. callers match them with errors.Is,
// the HTTP layer maps each one onto a status code.
var (
	// ErrValidation wraps malformed input (missing or invalid properties)
	ErrValidation = models.ErrValidation

	// ErrPackageNotFound means the referenced package id is not in the catalog
	ErrPackageNotFound = catalog.ErrPackageNotFound

	ErrReleaseNotFound  = errors.New("release not found")
	ErrDuplicateRelease = errors.New("release version already exists")

	// ErrPlatformUnavailable covers unknown platform names as well as deployer
	// calls that failed, timed out, or whose status came back failed
	ErrPlatformUnavailable = errors.New("platform unavailable")

	// ErrInvalidTransition means the release is in a state the operation cannot start from
	ErrInvalidTransition = errors.New("invalid release transition")
)

// Release descriptions recorded on successful transitions.
const (
	DescriptionInstalling      = "Install in progress"
	DescriptionInstallComplete = "Install complete"
	DescriptionDeleteComplete  = "Delete complete"
)

// ReleaseStore is the persistence port for release rows.
// implemented by db.Database (SQLite) and memstore.Store.
type ReleaseStore interface {
	CreateRelease(ctx context.Context, release *models.Release) error
	SaveRelease(ctx context.Context, release *models.Release) error
	FindReleaseByNameAndVersion(ctx context.Context, name, version string) (*models.Release, error)
	ListReleaseVersions(ctx context.Context, name string) ([]*models.Release, error)
	ListReleasesByStatus(ctx context.Context, status models.StatusCode) ([]*models.Release, error)
	ListReleases(ctx context.Context) ([]*models.Release, error)
}

// PackageResolver resolves package ids to metadata. *catalog.Catalog implements it.
type PackageResolver interface {
	FindByID(ctx context.Context, id string) (*models.PackageMetadata, error)
}

// PlatformResolver resolves platform names to deployers. *platform.Registry implements it.
type PlatformResolver interface {
	Lookup(name string) (platform.Deployer, error)
}

// Metrics receives transition counts and platform call timings. *metrics.Metrics implements it.
type Metrics interface {
	ReleaseTransition(status models.StatusCode)
	PlatformCall(platformName, operation string, err error, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ReleaseTransition(models.StatusCode) {}
func (noopMetrics) PlatformCall(string, string, error, time.Duration) {}
