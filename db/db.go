// Package db manages the SQLite database connection and schema migrations.
// it exposes a Database struct that wraps *sql.DB and is passed via dependency
// injection to any layer that needs persistent release or package storage.
package db

import (
	"database/sql" // standard lib for SQL access. provides the connection pool and query execution methods
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	// the go-sqlite3 import registers the "sqlite3" driver with database/sql.
	// it is also referenced directly to detect unique constraint violations.
	"github.com/mattn/go-sqlite3"
)

/*
Database wraps the connection pool with a logger.
the connection field is private, so callers are restricted to the release and package
queries defined in this package. if the driver changes (eg, Postgres), only this package changes.
*/
type Database struct {
	connection *sql.DB
	logger     *slog.Logger
}

/*
schema is the SQL DDL for the packages and releases tables.
IF NOT EXISTS makes it safe to run on every startup.

releases reference packages by id, the (name, version) uniqueness of both tables
is enforced here so that two racing writers can never create the same row twice.
*/
const schema = `
CREATE TABLE IF NOT EXISTS packages (
    id           TEXT PRIMARY KEY,
    api_version  TEXT NOT NULL DEFAULT '',
    origin       TEXT NOT NULL DEFAULT '',
    kind         TEXT NOT NULL DEFAULT '',
    name         TEXT NOT NULL,
    version      TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    maintainer   TEXT NOT NULL DEFAULT '',
    tags         TEXT,
    resource     TEXT NOT NULL DEFAULT '',
    sha256       TEXT NOT NULL DEFAULT '',
    UNIQUE (name, version)
);

CREATE TABLE IF NOT EXISTS releases (
    name             TEXT NOT NULL,
    version          TEXT NOT NULL,
    platform_name    TEXT NOT NULL,
    package_id       TEXT NOT NULL REFERENCES packages (id),
    status_code      TEXT NOT NULL,
    platform_status  TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    config_values    TEXT,
    platform_handle  TEXT NOT NULL DEFAULT '',
    first_deployed   DATETIME NOT NULL,
    last_deployed    DATETIME NOT NULL,
    deleted          DATETIME,
    PRIMARY KEY (name, version)
);

CREATE INDEX IF NOT EXISTS releases_status_code ON releases (status_code);
`

// migrate runs the schema DDL against the database.
func (database *Database) migrate() error {
	_, err := database.connection.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema migration (create tables & columns): %w", err)
	}
	return nil
}

/*
OpenDatabase opens the SQLite database at the given file path, runs the schema
migration, and returns a ready-to-use *Database.
The directory for the database file is created if it does not exist.
":memory:" opens a private in-memory database (used by tests).
*/
func OpenDatabase(dbPath string, logger *slog.Logger) (*Database, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
		}
	}

	// _foreign_keys=on makes the releases -> packages reference actually enforced
	dbConnection, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %q: %w", dbPath, err)
	}

	// SQLite does not support concurrent writes from multiple connections.
	// one connection also keeps a ":memory:" database alive for the lifetime of the pool.
	dbConnection.SetMaxOpenConns(1)

	database := &Database{
		connection: dbConnection,
		logger:     logger,
	}

	// the app is useless without a working database, so fail fast here
	if err := database.migrate(); err != nil {
		dbConnection.Close()
		return nil, fmt.Errorf("database migration (table & column creation, DDL) failed: %w", err)
	}

	logger.Info("database opened and schema migrated", "path", dbPath)
	return database, nil
}

// CloseDatabase releases the database connection pool.
// this should be deferred in main.go immediately after OpenDatabase returns successfully.
func (database *Database) CloseDatabase() error {
	return database.connection.Close()
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY constraint.
func isUniqueViolation(err error) bool {
	var sqliteError sqlite3.Error
	if !errors.As(err, &sqliteError) {
		return false
	}
	return sqliteError.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteError.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// scanner is satisfied by both *sql.Row and *sql.Rows, so one scan function
// serves QueryRow (single row) and Query (multiple rows).
type scanner interface {
	Scan(dest ...any) error
}
