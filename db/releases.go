package db

// releases.go contains the SQL query functions for the releases table.
// one row per (release name, version). rows are inserted by deploy/update and
// then only change status, they are never deleted so the release history stays queryable.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

// the package columns are joined in so every release comes back with its full metadata
const releaseSelect = `
	SELECT
		r.name, r.version, r.platform_name, r.status_code, r.platform_status,
		r.description, r.config_values, r.platform_handle,
		r.first_deployed, r.last_deployed, r.deleted,
		p.id, p.api_version, p.origin, p.kind, p.name, p.version,
		p.description, p.maintainer, p.tags, p.resource, p.sha256
	FROM releases r
	JOIN packages p ON p.id = r.package_id
`

// CreateRelease inserts a new release row.
// a row with the same (name, version) already present returns models.ErrRecordExists.
func (database *Database) CreateRelease(ctx context.Context, release *models.Release) error {
	query := `
		INSERT INTO releases (
			name, version, platform_name, package_id,
			status_code, platform_status, description,
			config_values, platform_handle,
			first_deployed, last_deployed, deleted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	encodedValues, err := encodeValues(release.Values)
	if err != nil {
		return fmt.Errorf("failed to encode values for release %s-%s: %w", release.Name, release.Version, err)
	}

	_, err = database.connection.ExecContext(ctx, query,
		release.Name,
		release.Version,
		release.PlatformName,
		release.Pkg.ID,
		release.Info.Status.StatusCode,
		release.Info.Status.PlatformStatus,
		release.Info.Description,
		encodedValues, // nil inserts NULL
		release.PlatformHandle,
		release.Info.FirstDeployed.UTC(),
		release.Info.LastDeployed.UTC(),
		nullTime(release.Info.Deleted),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("release %s-%s: %w", release.Name, release.Version, models.ErrRecordExists)
		}
		return fmt.Errorf("failed to insert release %s-%s: %w", release.Name, release.Version, err)
	}
	return nil
}

// SaveRelease overwrites the mutable columns of an existing release row, matched by (name, version).
// returns models.ErrRecordNotFound when no row matches, so a save never silently creates a row.
func (database *Database) SaveRelease(ctx context.Context, release *models.Release) error {
	query := `
		UPDATE releases SET
			platform_name = ?, package_id = ?,
			status_code = ?, platform_status = ?, description = ?,
			config_values = ?, platform_handle = ?,
			first_deployed = ?, last_deployed = ?, deleted = ?
		WHERE name = ? AND version = ?
	`

	encodedValues, err := encodeValues(release.Values)
	if err != nil {
		return fmt.Errorf("failed to encode values for release %s-%s: %w", release.Name, release.Version, err)
	}

	result, err := database.connection.ExecContext(ctx, query,
		release.PlatformName,
		release.Pkg.ID,
		release.Info.Status.StatusCode,
		release.Info.Status.PlatformStatus,
		release.Info.Description,
		encodedValues,
		release.PlatformHandle,
		release.Info.FirstDeployed.UTC(),
		release.Info.LastDeployed.UTC(),
		nullTime(release.Info.Deleted),
		release.Name,
		release.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save release %s-%s: %w", release.Name, release.Version, err)
	}

	// RowsAffected is 0 when the WHERE clause matched nothing
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for release %s-%s: %w", release.Name, release.Version, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("release %s-%s: %w", release.Name, release.Version, models.ErrRecordNotFound)
	}
	return nil
}

// FindReleaseByNameAndVersion fetches exactly one release version.
func (database *Database) FindReleaseByNameAndVersion(ctx context.Context, name, version string) (*models.Release, error) {
	query := releaseSelect + ` WHERE r.name = ? AND r.version = ?`

	release, err := scanRelease(database.connection.QueryRowContext(ctx, query, name, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("release %s-%s: %w", name, version, models.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get release %s-%s: %w", name, version, err)
	}
	return release, nil
}

// ListReleaseVersions returns every version of a release name, oldest first.
// an unknown name returns an empty slice, not an error.
func (database *Database) ListReleaseVersions(ctx context.Context, name string) ([]*models.Release, error) {
	query := releaseSelect + ` WHERE r.name = ? ORDER BY r.first_deployed, r.version`
	return database.queryReleases(ctx, query, name)
}

// ListReleasesByStatus returns every release row currently in the given status, oldest first.
func (database *Database) ListReleasesByStatus(ctx context.Context, status models.StatusCode) ([]*models.Release, error) {
	query := releaseSelect + ` WHERE r.status_code = ? ORDER BY r.last_deployed`
	return database.queryReleases(ctx, query, status)
}

// ListReleases returns every release row ordered by name then first deploy time.
func (database *Database) ListReleases(ctx context.Context) ([]*models.Release, error) {
	query := releaseSelect + ` ORDER BY r.name, r.first_deployed, r.version`
	return database.queryReleases(ctx, query)
}

func (database *Database) queryReleases(ctx context.Context, query string, args ...any) ([]*models.Release, error) {
	rows, err := database.connection.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}
	defer rows.Close()

	var releases []*models.Release
	for rows.Next() {
		release, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan release row: %w", err)
		}
		releases = append(releases, release)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating release rows: %w", err)
	}
	return releases, nil
}

// scanRelease reads one joined release + package row.
func scanRelease(row scanner) (*models.Release, error) {
	var release models.Release
	var encodedValues, encodedTags sql.NullString
	var deleted sql.NullTime

	err := row.Scan(
		&release.Name,
		&release.Version,
		&release.PlatformName,
		&release.Info.Status.StatusCode,
		&release.Info.Status.PlatformStatus,
		&release.Info.Description,
		&encodedValues,
		&release.PlatformHandle,
		&release.Info.FirstDeployed,
		&release.Info.LastDeployed,
		&deleted,
		&release.Pkg.ID,
		&release.Pkg.APIVersion,
		&release.Pkg.Origin,
		&release.Pkg.Kind,
		&release.Pkg.Name,
		&release.Pkg.Version,
		&release.Pkg.Description,
		&release.Pkg.Maintainer,
		&encodedTags,
		&release.Pkg.Resource,
		&release.Pkg.SHA256,
	)
	if err != nil {
		return nil, err
	}

	if encodedValues.Valid {
		if err := json.Unmarshal([]byte(encodedValues.String), &release.Values); err != nil {
			return nil, fmt.Errorf("failed to decode values of release %s-%s: %w", release.Name, release.Version, err)
		}
	}
	if encodedTags.Valid {
		if err := json.Unmarshal([]byte(encodedTags.String), &release.Pkg.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags of package %q: %w", release.Pkg.ID, err)
		}
	}
	if deleted.Valid {
		deletedAt := deleted.Time.UTC()
		release.Info.Deleted = &deletedAt
	}
	release.Info.FirstDeployed = release.Info.FirstDeployed.UTC()
	release.Info.LastDeployed = release.Info.LastDeployed.UTC()

	return &release, nil
}

// encodeValues stores the override map as a JSON object, NULL when empty.
func encodeValues(values map[string]string) (*string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	valueBytes, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	encoded := string(valueBytes)
	return &encoded, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
