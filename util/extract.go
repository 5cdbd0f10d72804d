// Package util holds filesystem helpers shared by the platform deployers:
// unpacking package archives and copying unpacked package directories.
package util

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ExtractZip unpacks a package archive into destinationDirectory, creating it if needed.
// entries whose cleaned path would land outside the destination (zip slip, eg "../../etc/passwd")
// abort the extraction with an error.
func ExtractZip(archivePath string, destinationDirectory string) error {
	if err := os.MkdirAll(destinationDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create extraction directory %q: %w", destinationDirectory, err)
	}

	archive, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		// only reported when GODEBUG=zipinsecurepath=0, otherwise extractEntry catches it
		archive.Close()
		return fmt.Errorf("zip slip detected in %q: %w", archivePath, err)
	}
	if err != nil {
		return fmt.Errorf("failed to open package archive %q: %w", archivePath, err)
	}
	defer archive.Close()

	safePrefix := filepath.Clean(destinationDirectory) + string(os.PathSeparator)
	for _, entry := range archive.File {
		if err := extractEntry(entry, destinationDirectory, safePrefix); err != nil {
			return fmt.Errorf("failed to extract entry %q: %w", entry.Name, err)
		}
	}
	return nil
}

func extractEntry(entry *zip.File, destinationDirectory string, safePrefix string) error {
	targetPath := filepath.Join(destinationDirectory, entry.Name)

	// the trailing separator keeps "/dest-evil" from passing as a child of "/dest"
	if !strings.HasPrefix(filepath.Clean(targetPath)+string(os.PathSeparator), safePrefix) {
		return fmt.Errorf("zip slip detected: entry would write outside %q", destinationDirectory)
	}

	if entry.FileInfo().IsDir() {
		return os.MkdirAll(targetPath, 0755)
	}
	if entry.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("symlink entries are not allowed in package archives")
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %q: %w", targetPath, err)
	}

	reader, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry: %w", err)
	}
	defer reader.Close()

	mode := entry.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	return writeFile(targetPath, reader, mode)
}

// writeFile streams content into path, truncating whatever was there.
func writeFile(path string, content io.Reader, mode os.FileMode) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", path, err)
	}
	if _, err := io.Copy(file, content); err != nil {
		file.Close()
		return fmt.Errorf("failed to write file %q: %w", path, err)
	}
	return file.Close()
}
