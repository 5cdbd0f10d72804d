// Package catalog resolves package name + version (or id) to immutable package metadata.
// it is read-only from the release lifecycle's point of view. new metadata only
// enters through Publish or Sync (repository index ingestion).
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

// ErrPackageNotFound is returned when no package matches a lookup.
var ErrPackageNotFound = errors.New("package not found")

// PackageStore is the persistence port for package metadata.
// implemented by db.Database (SQLite) and memstore.Store.
type PackageStore interface {
	CreatePackage(ctx context.Context, metadata *models.PackageMetadata) error
	FindPackageByID(ctx context.Context, id string) (*models.PackageMetadata, error)
	FindPackageByNameAndVersion(ctx context.Context, name, version string) (*models.PackageMetadata, error)
	ListPackages(ctx context.Context) ([]*models.PackageMetadata, error)
	SearchPackages(ctx context.Context, term string) ([]*models.PackageMetadata, error)
}

// Config groups the tunables of the catalog. zero values fall back to defaults.
type Config struct {
	// FetchAttempts is how many times a remote index download is tried
	FetchAttempts int

	// FetchDelay is the first backoff delay between attempts, doubled on each retry
	FetchDelay time.Duration

	// HTTPClient is used for http(s) index sources
	HTTPClient *http.Client

	// Clock drives the retry backoff, tests can swap in a fake
	Clock clock.Clock
}

// Catalog serves package lookups from a PackageStore.
type Catalog struct {
	store         PackageStore
	logger        *slog.Logger
	httpClient    *http.Client
	clock         clock.Clock
	fetchAttempts int
	fetchDelay    time.Duration
}

// New constructs a Catalog.
func New(store PackageStore, logger *slog.Logger, config Config) *Catalog {
	catalog := &Catalog{
		store:         store,
		logger:        logger,
		httpClient:    config.HTTPClient,
		clock:         config.Clock,
		fetchAttempts: config.FetchAttempts,
		fetchDelay:    config.FetchDelay,
	}
	if catalog.httpClient == nil {
		catalog.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if catalog.clock == nil {
		catalog.clock = clock.WallClock
	}
	if catalog.fetchAttempts <= 0 {
		catalog.fetchAttempts = 3
	}
	if catalog.fetchDelay <= 0 {
		catalog.fetchDelay = time.Second
	}
	return catalog
}

// FindByID returns the package with the given id.
func (catalog *Catalog) FindByID(ctx context.Context, id string) (*models.PackageMetadata, error) {
	metadata, err := catalog.store.FindPackageByID(ctx, id)
	if errors.Is(err, models.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %q", ErrPackageNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return metadata, nil
}

// FindByNameAndVersion returns the package with the exact name and version.
func (catalog *Catalog) FindByNameAndVersion(ctx context.Context, name, version string) (*models.PackageMetadata, error) {
	metadata, err := catalog.store.FindPackageByNameAndVersion(ctx, name, version)
	if errors.Is(err, models.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s-%s", ErrPackageNotFound, name, version)
	}
	if err != nil {
		return nil, err
	}
	return metadata, nil
}

// List returns every known package.
func (catalog *Catalog) List(ctx context.Context) ([]*models.PackageMetadata, error) {
	return catalog.store.ListPackages(ctx)
}

// Search returns the packages whose name contains term.
func (catalog *Catalog) Search(ctx context.Context, term string) ([]*models.PackageMetadata, error) {
	return catalog.store.SearchPackages(ctx, term)
}

// Publish stores new package metadata under a fresh UUID and returns the stored copy.
// metadata is immutable: publishing an existing (name, version) returns the stored
// package untouched together with models.ErrRecordExists.
func (catalog *Catalog) Publish(ctx context.Context, metadata models.PackageMetadata) (*models.PackageMetadata, error) {
	if metadata.Name == "" || metadata.Version == "" {
		return nil, fmt.Errorf("%w: package name and version are required", models.ErrValidation)
	}

	existing, err := catalog.store.FindPackageByNameAndVersion(ctx, metadata.Name, metadata.Version)
	if err == nil {
		return existing, fmt.Errorf("package %s-%s: %w", metadata.Name, metadata.Version, models.ErrRecordExists)
	}
	if !errors.Is(err, models.ErrRecordNotFound) {
		return nil, err
	}

	metadata.ID = uuid.New().String()
	if err := catalog.store.CreatePackage(ctx, &metadata); err != nil {
		return nil, err
	}

	catalog.logger.Info("package published",
		"id", metadata.ID,
		"name", metadata.Name,
		"version", metadata.Version,
		"origin", metadata.Origin,
	)
	return &metadata, nil
}
