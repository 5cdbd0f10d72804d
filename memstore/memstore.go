// Package memstore is an in-memory implementation of the package and release stores.
// it satisfies the same contract as the SQLite database (see storetest) and is
// used where persistence across restarts is not needed, eg unit tests and throwaway servers.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

type releaseKey struct {
	name    string
	version string
}

// Store holds packages and releases in maps guarded by one RWMutex.
// every value is cloned on the way in and on the way out, so callers can
// never mutate stored rows behind the store's back.
type Store struct {
	mu sync.RWMutex

	packages       map[string]*models.PackageMetadata
	packagesByName map[releaseKey]string
	releases       map[releaseKey]*models.Release
}

// New returns an empty store.
func New() *Store {
	return &Store{
		packages:       make(map[string]*models.PackageMetadata),
		packagesByName: make(map[releaseKey]string),
		releases:       make(map[releaseKey]*models.Release),
	}
}

// CreatePackage stores new package metadata.
func (store *Store) CreatePackage(_ context.Context, metadata *models.PackageMetadata) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	key := releaseKey{name: metadata.Name, version: metadata.Version}
	if _, exists := store.packages[metadata.ID]; exists {
		return fmt.Errorf("package %q: %w", metadata.ID, models.ErrRecordExists)
	}
	if _, exists := store.packagesByName[key]; exists {
		return fmt.Errorf("package %s-%s: %w", metadata.Name, metadata.Version, models.ErrRecordExists)
	}

	stored := metadata.Clone()
	store.packages[metadata.ID] = &stored
	store.packagesByName[key] = metadata.ID
	return nil
}

// FindPackageByID returns the package with the given id.
func (store *Store) FindPackageByID(_ context.Context, id string) (*models.PackageMetadata, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	metadata, ok := store.packages[id]
	if !ok {
		return nil, fmt.Errorf("package %q: %w", id, models.ErrRecordNotFound)
	}
	clone := metadata.Clone()
	return &clone, nil
}

// FindPackageByNameAndVersion returns the package with the exact name and version.
func (store *Store) FindPackageByNameAndVersion(_ context.Context, name, version string) (*models.PackageMetadata, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	id, ok := store.packagesByName[releaseKey{name: name, version: version}]
	if !ok {
		return nil, fmt.Errorf("package %s-%s: %w", name, version, models.ErrRecordNotFound)
	}
	clone := store.packages[id].Clone()
	return &clone, nil
}

// ListPackages returns every package ordered by name then version.
func (store *Store) ListPackages(ctx context.Context) ([]*models.PackageMetadata, error) {
	return store.SearchPackages(ctx, "")
}

// SearchPackages returns the packages whose name contains term, case insensitive.
func (store *Store) SearchPackages(_ context.Context, term string) ([]*models.PackageMetadata, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	term = strings.ToLower(term)
	var packages []*models.PackageMetadata
	for _, metadata := range store.packages {
		if !strings.Contains(strings.ToLower(metadata.Name), term) {
			continue
		}
		clone := metadata.Clone()
		packages = append(packages, &clone)
	}
	sort.Slice(packages, func(i, j int) bool {
		if packages[i].Name != packages[j].Name {
			return packages[i].Name < packages[j].Name
		}
		return packages[i].Version < packages[j].Version
	})
	return packages, nil
}

// CreateRelease stores a new release row. the referenced package must exist.
func (store *Store) CreateRelease(_ context.Context, release *models.Release) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	key := releaseKey{name: release.Name, version: release.Version}
	if _, exists := store.releases[key]; exists {
		return fmt.Errorf("release %s-%s: %w", release.Name, release.Version, models.ErrRecordExists)
	}
	if _, ok := store.packages[release.Pkg.ID]; !ok {
		return fmt.Errorf("release %s-%s references unknown package %q", release.Name, release.Version, release.Pkg.ID)
	}
	store.releases[key] = store.withStoredPackage(release)
	return nil
}

// SaveRelease overwrites an existing release row matched by (name, version).
func (store *Store) SaveRelease(_ context.Context, release *models.Release) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	key := releaseKey{name: release.Name, version: release.Version}
	if _, exists := store.releases[key]; !exists {
		return fmt.Errorf("release %s-%s: %w", release.Name, release.Version, models.ErrRecordNotFound)
	}
	if _, ok := store.packages[release.Pkg.ID]; !ok {
		return fmt.Errorf("release %s-%s references unknown package %q", release.Name, release.Version, release.Pkg.ID)
	}
	store.releases[key] = store.withStoredPackage(release)
	return nil
}

// withStoredPackage clones the release and replaces its package with the stored metadata,
// mirroring the SQL store which only keeps the package id and joins the rest back in.
func (store *Store) withStoredPackage(release *models.Release) *models.Release {
	clone := release.Clone()
	clone.Pkg = store.packages[release.Pkg.ID].Clone()
	if len(clone.Values) == 0 {
		clone.Values = nil
	}
	return clone
}

// FindReleaseByNameAndVersion returns exactly one release version.
func (store *Store) FindReleaseByNameAndVersion(_ context.Context, name, version string) (*models.Release, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	release, ok := store.releases[releaseKey{name: name, version: version}]
	if !ok {
		return nil, fmt.Errorf("release %s-%s: %w", name, version, models.ErrRecordNotFound)
	}
	return release.Clone(), nil
}

// ListReleaseVersions returns every version of a release name, oldest first.
func (store *Store) ListReleaseVersions(_ context.Context, name string) ([]*models.Release, error) {
	return store.filterReleases(func(release *models.Release) bool {
		return release.Name == name
	}, byNameThenFirstDeployed), nil
}

// ListReleasesByStatus returns every release in the given status, least recently touched first.
func (store *Store) ListReleasesByStatus(_ context.Context, status models.StatusCode) ([]*models.Release, error) {
	return store.filterReleases(func(release *models.Release) bool {
		return release.StatusCode() == status
	}, func(a, b *models.Release) bool {
		return a.Info.LastDeployed.Before(b.Info.LastDeployed)
	}), nil
}

// ListReleases returns every release row ordered by name then first deploy time.
func (store *Store) ListReleases(_ context.Context) ([]*models.Release, error) {
	return store.filterReleases(func(*models.Release) bool { return true }, byNameThenFirstDeployed), nil
}

func (store *Store) filterReleases(keep func(*models.Release) bool, less func(a, b *models.Release) bool) []*models.Release {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var releases []*models.Release
	for _, release := range store.releases {
		if keep(release) {
			releases = append(releases, release.Clone())
		}
	}
	sort.SliceStable(releases, func(i, j int) bool {
		return less(releases[i], releases[j])
	})
	return releases
}

func byNameThenFirstDeployed(a, b *models.Release) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if !a.Info.FirstDeployed.Equal(b.Info.FirstDeployed) {
		return a.Info.FirstDeployed.Before(b.Info.FirstDeployed)
	}
	return a.Version < b.Version
}
