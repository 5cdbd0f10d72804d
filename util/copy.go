package util

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// CopyDirectory replaces destinationDirectory with a copy of sourceDirectory.
// only regular files and directories are copied, symlinks and special files
// are rejected so an unpacked package cannot point the install at files outside of it.
func CopyDirectory(sourceDirectory string, destinationDirectory string) error {
	info, err := os.Stat(sourceDirectory)
	if err != nil {
		return fmt.Errorf("failed to stat source directory %q: %w", sourceDirectory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path %q is not a directory", sourceDirectory)
	}

	if err := os.RemoveAll(destinationDirectory); err != nil {
		return fmt.Errorf("failed to clear destination directory %q: %w", destinationDirectory, err)
	}
	if err := os.MkdirAll(destinationDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory %q: %w", destinationDirectory, err)
	}

	return filepath.WalkDir(sourceDirectory, func(sourcePath string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		relativePath, err := filepath.Rel(sourceDirectory, sourcePath)
		if err != nil {
			return fmt.Errorf("failed to compute relative path for %q: %w", sourcePath, err)
		}
		destinationPath := filepath.Join(destinationDirectory, relativePath)

		switch {
		case entry.IsDir():
			return os.MkdirAll(destinationPath, 0755)
		case entry.Type()&os.ModeSymlink != 0:
			return fmt.Errorf("symlink not allowed in package directory: %q", sourcePath)
		case !entry.Type().IsRegular():
			return fmt.Errorf("unsupported file type in package directory: %q (type: %v)", sourcePath, entry.Type())
		}
		return copyFile(sourcePath, destinationPath)
	})
}

func copyFile(sourcePath string, destinationPath string) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file %q: %w", sourcePath, err)
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file %q: %w", sourcePath, err)
	}
	return writeFile(destinationPath, source, info.Mode().Perm())
}
