package models

// properties.go holds the request shapes for deploy, update and undeploy.
// they are transient input: validated at the boundary, then captured into a Release row.

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrValidation is wrapped by every Validate() failure.
// the HTTP layer maps it to 400 Bad Request.
var ErrValidation = errors.New("validation error")

// releaseNamePattern keeps release names usable as directory names, container names
// and docker labels: lowercase alphanumerics and dashes, starting and ending with an alphanumeric.
var releaseNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// maxReleaseNameLength matches the usual DNS label budget minus room for a version suffix
const maxReleaseNameLength = 53

// DeployProperties is the configuration for a new release.
// the recognised options are enumerated here instead of a loose property bag.
type DeployProperties struct {
	// PlatformName selects the platform account to deploy to, eg "test", "local", "docker"
	PlatformName string `json:"platformName,omitempty"`

	// ReleaseName is the name the release is tracked under (required)
	ReleaseName string `json:"releaseName,omitempty"`

	// Values are optional key/value overrides handed to the platform
	Values map[string]string `json:"values,omitempty"`
}

// Validate checks the deploy properties. platform may be left empty only when
// the caller can default it (the update path does that), so requirePlatform says which case applies.
func (properties DeployProperties) Validate(requirePlatform bool) error {
	if err := ValidateReleaseName(properties.ReleaseName); err != nil {
		return err
	}
	if requirePlatform && properties.PlatformName == "" {
		return fmt.Errorf("%w: platformName is required", ErrValidation)
	}
	for key := range properties.Values {
		if key == "" {
			return fmt.Errorf("%w: values must not contain an empty key", ErrValidation)
		}
	}
	return nil
}

// UpdateProperties references an existing release version and the package + version that supersedes it.
type UpdateProperties struct {
	PackageID  string           `json:"packageId,omitempty"`
	OldVersion string           `json:"oldVersion,omitempty"`
	NewVersion string           `json:"newVersion,omitempty"`
	Config     DeployProperties `json:"config"`
}

// Validate checks that the update names a package, both versions, and a release.
func (properties UpdateProperties) Validate() error {
	if properties.PackageID == "" {
		return fmt.Errorf("%w: packageId is required", ErrValidation)
	}
	if properties.OldVersion == "" {
		return fmt.Errorf("%w: oldVersion is required", ErrValidation)
	}
	if properties.NewVersion == "" {
		return fmt.Errorf("%w: newVersion is required", ErrValidation)
	}
	if properties.OldVersion == properties.NewVersion {
		return fmt.Errorf("%w: newVersion must differ from oldVersion %q", ErrValidation, properties.OldVersion)
	}
	return properties.Config.Validate(false)
}

// UndeployProperties identifies the exact release version to retire.
type UndeployProperties struct {
	ReleaseName string `json:"releaseName,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Validate checks that both the release name and version are present.
func (properties UndeployProperties) Validate() error {
	if err := ValidateReleaseName(properties.ReleaseName); err != nil {
		return err
	}
	if properties.Version == "" {
		return fmt.Errorf("%w: version is required", ErrValidation)
	}
	return nil
}

// ValidateReleaseName rejects empty, too long, or non DNS-label release names.
func ValidateReleaseName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: releaseName is required", ErrValidation)
	}
	if len(name) > maxReleaseNameLength {
		return fmt.Errorf("%w: releaseName %q is longer than %d characters", ErrValidation, name, maxReleaseNameLength)
	}
	if !releaseNamePattern.MatchString(name) {
		return fmt.Errorf("%w: releaseName %q must be lowercase alphanumerics and dashes", ErrValidation, name)
	}
	return nil
}
