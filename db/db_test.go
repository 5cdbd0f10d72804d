package db_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/db"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/storetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openTestDatabase opens a private in-memory database that is closed when the test finishes.
func openTestDatabase(c *qt.C) *db.Database {
	database, err := db.OpenDatabase(":memory:", discardLogger())
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { database.CloseDatabase() })
	return database
}

func TestDatabaseContract(t *testing.T) {
	storetest.Run(t, func(c *qt.C) storetest.Store {
		return openTestDatabase(c)
	})
}

func TestOpenDatabaseCreatesDirectoryAndReopens(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	dbPath := filepath.Join(c.TempDir(), "nested", "corvus.db")

	database, err := db.OpenDatabase(dbPath, discardLogger())
	c.Assert(err, qt.IsNil)
	err = database.CreatePackage(ctx, &models.PackageMetadata{ID: "p1", Name: "log", Version: "1.0.0"})
	c.Assert(err, qt.IsNil)
	c.Assert(database.CloseDatabase(), qt.IsNil)

	// migration is idempotent, existing rows survive a restart
	reopened, err := db.OpenDatabase(dbPath, discardLogger())
	c.Assert(err, qt.IsNil)
	defer reopened.CloseDatabase()

	got, err := reopened.FindPackageByNameAndVersion(ctx, "log", "1.0.0")
	c.Assert(err, qt.IsNil)
	c.Assert(got.ID, qt.Equals, "p1")
}

func TestCreateReleaseRequiresKnownPackage(t *testing.T) {
	c := qt.New(t)
	database := openTestDatabase(c)

	err := database.CreateRelease(context.Background(), &models.Release{
		Name:    "log-sink-app",
		Version: "1.0.0",
		Pkg:     models.PackageMetadata{ID: "missing"},
		Info:    models.Info{Status: models.Status{StatusCode: models.StatusDeploying}},
	})
	c.Assert(err, qt.ErrorMatches, `failed to insert release log-sink-app-1.0.0: .*FOREIGN KEY.*`)
}
