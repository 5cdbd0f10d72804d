// Package storetest provides contract tests for package and release store
// implementations. every backing store runs the same suite.
package storetest

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/catalog"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/lifecycle"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

// Store is the union of the ports a backing store has to implement.
type Store interface {
	catalog.PackageStore
	lifecycle.ReleaseStore
}

// Factory creates a fresh, empty Store for each test.
type Factory func(c *qt.C) Store

var baseTime = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func logPackage() *models.PackageMetadata {
	return &models.PackageMetadata{
		ID:          "11111111-1111-1111-1111-111111111111",
		APIVersion:  "skipper.spring.io/v1",
		Origin:      "local",
		Kind:        "SpringCloudDeployerApplication",
		Name:        "log",
		Version:     "1.0.0",
		Description: "logs what it receives",
		Maintainer:  "corvus",
		Tags:        []string{"sink", "logging"},
		Resource:    "springcloud/log-sink-rabbit:1.0.0",
	}
}

func log2Package() *models.PackageMetadata {
	return &models.PackageMetadata{
		ID:      "22222222-2222-2222-2222-222222222222",
		Name:    "log2",
		Version: "1.0.1",
	}
}

func release(name, version string, pkg *models.PackageMetadata, status models.StatusCode, firstDeployed time.Time) *models.Release {
	return &models.Release{
		Name:         name,
		Version:      version,
		PlatformName: "test",
		Pkg:          *pkg,
		Info: models.Info{
			Status:        models.Status{StatusCode: status},
			FirstDeployed: firstDeployed,
			LastDeployed:  firstDeployed,
		},
	}
}

// Run exercises the store contract.
func Run(t *testing.T, factory Factory) {
	c := qt.New(t)

	c.Run("CreateAndFindPackage", func(c *qt.C) {
		store := factory(c)
		ctx := context.Background()

		c.Assert(store.CreatePackage(ctx, logPackage()), qt.IsNil)

		byID, err := store.FindPackageByID(ctx, logPackage().ID)
		c.Assert(err, qt.IsNil)
		c.Assert(byID, qt.DeepEquals, logPackage())

		byName, err := store.FindPackageByNameAndVersion(ctx, "log", "1.0.0")
		c.Assert(err, qt.IsNil)
		c.Assert(byName, qt.DeepEquals, logPackage())
	})

	c.Run("PackageWithoutTagsRoundTripsNil", func(c *qt.C) {
		store := factory(c)
		ctx := context.Background()

		c.Assert(store.CreatePackage(ctx, log2Package()), qt.IsNil)
		got, err := store.FindPackageByID(ctx, log2Package().ID)
		c.Assert(err, qt.IsNil)
		c.Assert(got.Tags, qt.IsNil)
	})

	c.Run("CreateDuplicatePackage", func(c *qt.C) {
		store := factory(c)
		ctx := context.Background()

		c.Assert(store.CreatePackage(ctx, logPackage()), qt.IsNil)

		sameNameAndVersion := logPackage()
		sameNameAndVersion.ID = "33333333-3333-3333-3333-333333333333"
		c.Assert(store.CreatePackage(ctx, sameNameAndVersion), qt.ErrorIs, models.ErrRecordExists)

		sameID := log2Package()
		sameID.ID = logPackage().ID
		c.Assert(store.CreatePackage(ctx, sameID), qt.ErrorIs, models.ErrRecordExists)
	})

	c.Run("FindPackageNotFound", func(c *qt.C) {
		store := factory(c)
		ctx := context.Background()

		_, err := store.FindPackageByID(ctx, "nope")
		c.Assert(err, qt.ErrorIs, models.ErrRecordNotFound)
		_, err = store.FindPackageByNameAndVersion(ctx, "log", "9.9.9")
		c.Assert(err, qt.ErrorIs, models.ErrRecordNotFound)
	})

	c.Run("ListAndSearchPackages", func(c *qt.C) {
		store := factory(c)
		ctx := context.Background()

		c.Assert(store.CreatePackage(ctx, log2Package()), qt.IsNil)
		c.Assert(store.CreatePackage(ctx, logPackage()), qt.IsNil)
		c.Assert(store.CreatePackage(ctx, &models.PackageMetadata{ID: "t1", Name: "time", Version: "2.0.0"}), qt.IsNil)

		all, err := store.ListPackages(ctx)
		c.Assert(err, qt.IsNil)
		c.Assert(packageNames(all), qt.DeepEquals, []string{"log", "log2", "time"})

		found, err := store.SearchPackages(ctx, "LOG")
		c.Assert(err, qt.IsNil)
		c.Assert(packageNames(found), qt.DeepEquals, []string{"log", "log2"})

		none, err := store.SearchPackages(ctx, "%")
		c.Assert(err, qt.IsNil)
		c.Assert(none, qt.HasLen, 0)
	})

	c.Run("CreateAndFindRelease", func(c *qt.C) {
		store := factory(c)
		ctx := context.Background()
		c.Assert(store.CreatePackage(ctx, logPackage()), qt.IsNil)

		created := release("log-sink-app", "1.0.0", logPackage(), models.StatusDeploying, baseTime)
		created.Values = map[string]string{"log.level": "DEBUG"}
		c.Assert(store.CreateRelease(ctx, created), qt.IsNil)

		got, err := store.FindReleaseByNameAndVersion(ctx, "log-sink-app", "1.0.0")
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.DeepEquals, created)
		c.Assert(got.Pkg, qt.DeepEquals, *logPackage())
	})

	c.Run("CreateDuplicateRelease", func(c *qt.C) {
		store := factory(c)
		ctx := context.Background()
		c.Assert(store.CreatePackage(ctx, logPackage()), qt.IsNil)

		c.Assert(store.CreateRelease(ctx, release("log-sink-app", "1.0.0", logPackage(), models.StatusDeployed, baseTime)), qt.IsNil)
		err := store.CreateRelease(ctx, release("log-sink-app", "1.0.0", logPackage(), models.StatusDeploying, baseTime))
		c.Assert(err, qt.ErrorIs, models.ErrRecordExists)
	})

	c.Run("FindReleaseNotFound", func(c *qt.C) {
		store := factory(c)
		_, err := store.FindReleaseByNameAndVersion(context.Background(), "log-sink-app", "1.0.0")
		c.Assert(err, qt.ErrorIs, models.ErrRecordNotFound)
	})

	c.Run("SaveRelease", func(c *qt.C) {
		store := factory(c)
		ctx := context.Background()
		c.Assert(store.CreatePackage(ctx, logPackage()), qt.IsNil)

		row := release("log-sink-app", "1.0.0", logPackage(), models.StatusDeployed, baseTime)
		row.PlatformHandle = "handle-1"
		c.Assert(store.CreateRelease(ctx, row), qt.IsNil)

		deletedAt := baseTime.Add(time.Hour)
		row.Info.Status = models.Status{StatusCode: models.StatusDeleted, PlatformStatus: "removed"}
		row.Info.LastDeployed = deletedAt
		row.Info.Deleted = &deletedAt
		row.Info.Description = "Delete complete"
		c.Assert(store.SaveRelease(ctx, row), qt.IsNil)

		got, err := store.FindReleaseByNameAndVersion(ctx, "log-sink-app", "1.0.0")
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.DeepEquals, row)
	})

	c.Run("SaveReleaseNotFound", func(c *qt.C) {
		store := factory(c)
		ctx := context.Background()
		c.Assert(store.CreatePackage(ctx, logPackage()), qt.IsNil)

		err := store.SaveRelease(ctx, release("log-sink-app", "1.0.0", logPackage(), models.StatusDeployed, baseTime))
		c.Assert(err, qt.ErrorIs, models.ErrRecordNotFound)
	})

	c.Run("ListVersionsAndStatus", func(c *qt.C) {
		store := factory(c)
		ctx := context.Background()
		c.Assert(store.CreatePackage(ctx, logPackage()), qt.IsNil)
		c.Assert(store.CreatePackage(ctx, log2Package()), qt.IsNil)

		c.Assert(store.CreateRelease(ctx, release("log-sink-app", "1.0.1", log2Package(), models.StatusDeploying, baseTime.Add(time.Minute))), qt.IsNil)
		c.Assert(store.CreateRelease(ctx, release("log-sink-app", "1.0.0", logPackage(), models.StatusDeployed, baseTime)), qt.IsNil)
		c.Assert(store.CreateRelease(ctx, release("audit", "1.0.0", logPackage(), models.StatusDeploying, baseTime.Add(-time.Minute))), qt.IsNil)

		versions, err := store.ListReleaseVersions(ctx, "log-sink-app")
		c.Assert(err, qt.IsNil)
		c.Assert(releaseKeys(versions), qt.DeepEquals, []string{"log-sink-app-1.0.0", "log-sink-app-1.0.1"})
		c.Assert(versions[1].Pkg.Name, qt.Equals, "log2")

		unknown, err := store.ListReleaseVersions(ctx, "nope")
		c.Assert(err, qt.IsNil)
		c.Assert(unknown, qt.HasLen, 0)

		deploying, err := store.ListReleasesByStatus(ctx, models.StatusDeploying)
		c.Assert(err, qt.IsNil)
		c.Assert(releaseKeys(deploying), qt.DeepEquals, []string{"audit-1.0.0", "log-sink-app-1.0.1"})

		all, err := store.ListReleases(ctx)
		c.Assert(err, qt.IsNil)
		c.Assert(releaseKeys(all), qt.DeepEquals, []string{"audit-1.0.0", "log-sink-app-1.0.0", "log-sink-app-1.0.1"})
	})
}

func packageNames(packages []*models.PackageMetadata) []string {
	names := make([]string, 0, len(packages))
	for _, metadata := range packages {
		names = append(names, metadata.Name)
	}
	return names
}

func releaseKeys(releases []*models.Release) []string {
	keys := make([]string, 0, len(releases))
	for _, release := range releases {
		keys = append(keys, release.Name+"-"+release.Version)
	}
	return keys
}
