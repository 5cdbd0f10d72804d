// Package models defines the data structures (structs) shared across the application.
// this package has no imports from other internal packages, making it the
// foundation of the dependency graph. other packages (db, memstore, catalog, lifecycle, handlers) import from it.
package models

import (
	"errors"
	"time"
)

// StatusCode represents the current lifecycle state of a single release version.
// using a named string type instead of plain string means the compiler rejects
// `release.Info.Status.StatusCode = "typo"` unless it is converted on purpose.
type StatusCode string

const (
	// StatusDeploying means the platform deployer has been asked to install the release
	// and has not answered yet. every release version starts here.
	StatusDeploying StatusCode = "DEPLOYING"

	// StatusDeployed means the platform reported a successful install
	StatusDeployed StatusCode = "DEPLOYED"

	// StatusFailed means the platform call failed, timed out, or the process
	// died before the call returned (set by the stale release reaper)
	StatusFailed StatusCode = "FAILED"

	// StatusDeleted means the release version was undeployed.
	// the row is kept as history, it is never physically removed.
	StatusDeleted StatusCode = "DELETED"
)

// ErrRecordNotFound is returned by any store when no row matches the lookup.
// callers should check for this sentinel error to distinguish "not found" (404)
// from a real storage error (500, internal server error).
var ErrRecordNotFound = errors.New("record not found")

// ErrRecordExists is returned by any store when an insert would violate a
// uniqueness rule: (name, version) for packages and for releases, or the package id.
var ErrRecordExists = errors.New("record already exists")

// PackageMetadata identifies a deployable unit by Name and Version.
// it maps 1:1 to the packages table and is immutable once stored,
// the catalog only ever inserts new (name, version) pairs.
type PackageMetadata struct {
	// ID is a UUID v4 assigned when the package is first stored
	ID string `json:"id" yaml:"-"`

	// APIVersion is the package format version from the repository index, eg "skipper.spring.io/v1"
	APIVersion string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`

	// Origin is the repository (index source) the package was synced from
	Origin string `json:"origin,omitempty" yaml:"origin,omitempty"`

	// Kind is the package kind from the index, eg "SpringCloudDeployerApplication"
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty"`

	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`

	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Maintainer  string   `json:"maintainer,omitempty" yaml:"maintainer,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Resource points at the artifact the platform runs.
	// the docker platform treats it as an image reference (example: "nginx:alpine").
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty"`

	// SHA256 is the checksum of the package archive when the index provides one
	SHA256 string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
}

// Status wraps the status code together with whatever the platform said about it.
type Status struct {
	StatusCode StatusCode `json:"statusCode"`

	// PlatformStatus is a free form message from the platform deployer,
	// eg the container state or the failure reason.
	PlatformStatus string `json:"platformStatus,omitempty"`
}

// Info is the status block of a release.
type Info struct {
	Status Status `json:"status"`

	// FirstDeployed is set once when the row is created (or reused after a delete)
	FirstDeployed time.Time `json:"firstDeployed"`

	// LastDeployed is refreshed on every status transition
	LastDeployed time.Time `json:"lastDeployed"`

	// Deleted is set when the release version is undeployed, nil otherwise
	Deleted *time.Time `json:"deleted,omitempty"`

	// Description is the human readable outcome, eg "Install complete"
	Description string `json:"description,omitempty"`
}

/*
Release is one deployment instance of a package under a release name and version.
the (Name, Version) pair is unique. an update appends a new version row, an undeploy
flips the status of one row to DELETED. rows are never deleted, so the full history
of a release name can always be listed.
*/
type Release struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	PlatformName string          `json:"platformName"`
	Pkg          PackageMetadata `json:"pkg"`
	Info         Info            `json:"info"`

	// Values are the key/value overrides the release was deployed with
	Values map[string]string `json:"values,omitempty"`

	// PlatformHandle is the opaque handle the platform deployer returned.
	// empty means the platform never accepted the release (nothing to tear down).
	PlatformHandle string `json:"platformHandle,omitempty"`
}

// StatusCode is a shortcut for release.Info.Status.StatusCode
func (release *Release) StatusCode() StatusCode {
	return release.Info.Status.StatusCode
}

// Clone returns a deep copy of the release, so stores can hand out rows
// without callers mutating the stored copy.
func (release *Release) Clone() *Release {
	if release == nil {
		return nil
	}
	clone := *release
	clone.Pkg = release.Pkg.Clone()
	if release.Values != nil {
		clone.Values = make(map[string]string, len(release.Values))
		for key, value := range release.Values {
			clone.Values[key] = value
		}
	}
	if release.Info.Deleted != nil {
		deleted := *release.Info.Deleted
		clone.Info.Deleted = &deleted
	}
	return &clone
}

// Clone returns a deep copy of the package metadata.
func (metadata PackageMetadata) Clone() PackageMetadata {
	clone := metadata
	if metadata.Tags != nil {
		clone.Tags = append([]string(nil), metadata.Tags...)
	}
	return clone
}
