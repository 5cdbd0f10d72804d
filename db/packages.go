package db

// packages.go contains the SQL query functions for the packages table.
// package rows are insert-only: the catalog never updates or deletes metadata once stored.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
)

const packageColumns = `
	id, api_version, origin, kind, name, version,
	description, maintainer, tags, resource, sha256
`

// CreatePackage writes a new package row.
// the metadata MUST already carry its ID. a duplicate id or (name, version) returns models.ErrRecordExists.
func (database *Database) CreatePackage(ctx context.Context, metadata *models.PackageMetadata) error {
	query := `INSERT INTO packages (` + packageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	encodedTags, err := encodeTags(metadata.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags for package %s-%s: %w", metadata.Name, metadata.Version, err)
	}

	_, err = database.connection.ExecContext(ctx, query,
		metadata.ID,
		metadata.APIVersion,
		metadata.Origin,
		metadata.Kind,
		metadata.Name,
		metadata.Version,
		metadata.Description,
		metadata.Maintainer,
		encodedTags, // nil inserts NULL
		metadata.Resource,
		metadata.SHA256,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("package %s-%s: %w", metadata.Name, metadata.Version, models.ErrRecordExists)
		}
		return fmt.Errorf("failed to insert package %s-%s: %w", metadata.Name, metadata.Version, err)
	}
	return nil
}

// FindPackageByID fetches a single package by its UUID.
func (database *Database) FindPackageByID(ctx context.Context, id string) (*models.PackageMetadata, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE id = ?`

	metadata, err := scanPackage(database.connection.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("package %q: %w", id, models.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package %q: %w", id, err)
	}
	return metadata, nil
}

// FindPackageByNameAndVersion fetches the package with the exact name and version.
func (database *Database) FindPackageByNameAndVersion(ctx context.Context, name, version string) (*models.PackageMetadata, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE name = ? AND version = ?`

	metadata, err := scanPackage(database.connection.QueryRowContext(ctx, query, name, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("package %s-%s: %w", name, version, models.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package %s-%s: %w", name, version, err)
	}
	return metadata, nil
}

// ListPackages returns every package ordered by name then version.
func (database *Database) ListPackages(ctx context.Context) ([]*models.PackageMetadata, error) {
	query := `SELECT ` + packageColumns + ` FROM packages ORDER BY name, version`
	return database.queryPackages(ctx, query)
}

// SearchPackages returns the packages whose name contains term (case insensitive).
func (database *Database) SearchPackages(ctx context.Context, term string) ([]*models.PackageMetadata, error) {
	query := `SELECT ` + packageColumns + ` FROM packages WHERE name LIKE ? ESCAPE '\' ORDER BY name, version`
	return database.queryPackages(ctx, query, "%"+escapeLike(strings.ToLower(term))+"%")
}

func (database *Database) queryPackages(ctx context.Context, query string, args ...any) ([]*models.PackageMetadata, error) {
	rows, err := database.connection.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	// rows must be closed to hand the connection back to the pool
	defer rows.Close()

	var packages []*models.PackageMetadata
	for rows.Next() {
		metadata, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package row: %w", err)
		}
		packages = append(packages, metadata)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating package rows: %w", err)
	}
	return packages, nil
}

func scanPackage(row scanner) (*models.PackageMetadata, error) {
	var metadata models.PackageMetadata
	var encodedTags sql.NullString

	err := row.Scan(
		&metadata.ID,
		&metadata.APIVersion,
		&metadata.Origin,
		&metadata.Kind,
		&metadata.Name,
		&metadata.Version,
		&metadata.Description,
		&metadata.Maintainer,
		&encodedTags, // NULL -> Valid=false
		&metadata.Resource,
		&metadata.SHA256,
	)
	if err != nil {
		return nil, err
	}

	if encodedTags.Valid {
		if err := json.Unmarshal([]byte(encodedTags.String), &metadata.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags of package %q: %w", metadata.ID, err)
		}
	}
	return &metadata, nil
}

// encodeTags stores tags as a JSON array. no tags stores NULL so the round trip gives back a nil slice.
func encodeTags(tags []string) (*string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	tagBytes, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	encoded := string(tagBytes)
	return &encoded, nil
}

// escapeLike escapes the LIKE wildcards so a search term is matched literally.
func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}
