// Package security validates user-supplied file paths for the replay tool's
// report and database outputs.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// canonicalPath returns the absolute, symlink-resolved form of path. When
// path does not exist yet, the nearest existing ancestor is resolved and
// the remaining components are appended, so a new file under a symlinked
// directory still resolves to where it would really be written.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rel), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

// ValidatePathWithinDirectory rejects paths that resolve outside dir,
// including through ".." components or symlinks.
func ValidatePathWithinDirectory(path, dir string) error {
	target, err := canonicalPath(path)
	if err != nil {
		return err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}
	root, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(root, target)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, dir)
	}
	return nil
}

// ValidateOutputPath checks that path is inside one of allowedDirs. With no
// allowedDirs it defaults to the temp directory and the working directory.
func ValidateOutputPath(path string, allowedDirs ...string) error {
	if len(allowedDirs) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		allowedDirs = []string{os.TempDir(), cwd}
	}
	for _, dir := range allowedDirs {
		if ValidatePathWithinDirectory(path, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("output path %s must be within one of %v", path, allowedDirs)
}
