// Package local is a platform deployer that installs release versions onto the
// local filesystem, one directory per release version:
//
//	<root>/<release name>/<version>/
//	    release.yml         manifest written on install
//	    ...                 package content (extracted archive or copied directory)
//
// package content is looked up in the package directory as either an archive
// <name>-<version>.zip or an unpacked directory <name>-<version>/. a package
// with neither is installed as manifest only.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sasta-kro/corvus-paas/corvus-release-manager/models"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/platform"
	"github.com/sasta-kro/corvus-paas/corvus-release-manager/util"
)

// ManifestFileName is the file written into every install directory.
const ManifestFileName = "release.yml"

// Config configures a local deployer.
type Config struct {
	// Root is where release versions are installed
	Root string

	// PackageDir is where package archives and unpacked package directories live
	PackageDir string

	// Now is used for the manifest timestamp, defaults to time.Now
	Now func() time.Time
}

// Manifest is the content of release.yml.
type Manifest struct {
	Release     string                 `yaml:"release"`
	Version     string                 `yaml:"version"`
	Platform    string                 `yaml:"platform"`
	Package     models.PackageMetadata `yaml:"package"`
	Values      map[string]string      `yaml:"values,omitempty"`
	Source      string                 `yaml:"source"`
	InstalledAt time.Time              `yaml:"installedAt"`
}

// Deployer installs releases below Config.Root.
type Deployer struct {
	root       string
	packageDir string
	now        func() time.Time
	logger     *slog.Logger
}

var _ platform.Deployer = (*Deployer)(nil)

// New returns a local deployer, creating the install root if needed.
func New(config Config, logger *slog.Logger) (*Deployer, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("local platform root is required")
	}
	if err := os.MkdirAll(config.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local platform root %q: %w", config.Root, err)
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Deployer{
		root:       config.Root,
		packageDir: config.PackageDir,
		now:        now,
		logger:     logger,
	}, nil
}

// Deploy installs the package content and the manifest. a half written install
// directory is removed again when anything fails, so a retry starts clean.
func (deployer *Deployer) Deploy(ctx context.Context, request platform.DeployRequest) (platform.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	handle := platform.Handle(request.ReleaseName + "/" + request.Version)
	installDirectory, err := deployer.installDirectory(handle)
	if err != nil {
		return "", err
	}

	source, err := deployer.installContent(request.Package, installDirectory)
	if err != nil {
		_ = os.RemoveAll(installDirectory)
		return "", err
	}

	manifest := Manifest{
		Release:     request.ReleaseName,
		Version:     request.Version,
		Platform:    request.PlatformName,
		Package:     request.Package,
		Values:      request.Values,
		Source:      source,
		InstalledAt: deployer.now().UTC(),
	}
	if err := writeManifest(filepath.Join(installDirectory, ManifestFileName), manifest); err != nil {
		_ = os.RemoveAll(installDirectory)
		return "", err
	}

	deployer.logger.Info("release installed on local platform",
		"release", request.ReleaseName,
		"version", request.Version,
		"directory", installDirectory,
		"source", source,
	)
	return handle, nil
}

// installContent puts the package content into installDirectory and returns where it came from.
func (deployer *Deployer) installContent(pkg models.PackageMetadata, installDirectory string) (string, error) {
	if err := os.RemoveAll(installDirectory); err != nil {
		return "", fmt.Errorf("failed to clear install directory: %w", err)
	}

	baseName := pkg.Name + "-" + pkg.Version
	if deployer.packageDir != "" {
		archivePath := filepath.Join(deployer.packageDir, baseName+".zip")
		if fileExists(archivePath) {
			if err := verifyChecksum(archivePath, pkg.SHA256); err != nil {
				return "", err
			}
			if err := util.ExtractZip(archivePath, installDirectory); err != nil {
				return "", err
			}
			return archivePath, nil
		}

		unpackedPath := filepath.Join(deployer.packageDir, baseName)
		if info, err := os.Stat(unpackedPath); err == nil && info.IsDir() {
			if err := util.CopyDirectory(unpackedPath, installDirectory); err != nil {
				return "", err
			}
			return unpackedPath, nil
		}
	}

	if err := os.MkdirAll(installDirectory, 0755); err != nil {
		return "", fmt.Errorf("failed to create install directory: %w", err)
	}
	return "manifest-only", nil
}

// Undeploy removes the install directory. a missing directory is not an error.
func (deployer *Deployer) Undeploy(ctx context.Context, handle platform.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	installDirectory, err := deployer.installDirectory(handle)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(installDirectory); err != nil {
		return fmt.Errorf("failed to remove install directory %q: %w", installDirectory, err)
	}

	// drop the release name directory once its last version is gone
	releaseDirectory := filepath.Dir(installDirectory)
	if entries, err := os.ReadDir(releaseDirectory); err == nil && len(entries) == 0 {
		_ = os.Remove(releaseDirectory)
	}

	deployer.logger.Info("release removed from local platform", "directory", installDirectory)
	return nil
}

// InstallDirectory returns the directory a handle is installed in.
func (deployer *Deployer) InstallDirectory(handle platform.Handle) (string, error) {
	return deployer.installDirectory(handle)
}

// installDirectory resolves a handle below the root, refusing handles that would escape it.
func (deployer *Deployer) installDirectory(handle platform.Handle) (string, error) {
	parts := strings.Split(string(handle), "/")
	if len(parts) != 2 || !isSafeSegment(parts[0]) || !isSafeSegment(parts[1]) {
		return "", fmt.Errorf("invalid local platform handle %q", handle)
	}
	return filepath.Join(deployer.root, parts[0], parts[1]), nil
}

func isSafeSegment(segment string) bool {
	return segment != "" && segment != "." && segment != ".." && !strings.ContainsAny(segment, `/\`)
}

func writeManifest(path string, manifest Manifest) error {
	content, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode release manifest: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write release manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the release.yml of an install directory.
func ReadManifest(installDirectory string) (Manifest, error) {
	var manifest Manifest
	content, err := os.ReadFile(filepath.Join(installDirectory, ManifestFileName))
	if err != nil {
		return manifest, fmt.Errorf("failed to read release manifest: %w", err)
	}
	if err := yaml.Unmarshal(content, &manifest); err != nil {
		return manifest, fmt.Errorf("failed to decode release manifest: %w", err)
	}
	return manifest, nil
}

// verifyChecksum compares the archive's sha256 with the one from the package index. empty means unchecked.
func verifyChecksum(archivePath string, expected string) error {
	if expected == "" {
		return nil
	}
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open package archive: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return fmt.Errorf("failed to hash package archive: %w", err)
	}
	if actual := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(actual, expected) {
		return fmt.Errorf("package archive %q checksum mismatch: expected %s, got %s", filepath.Base(archivePath), expected, actual)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
