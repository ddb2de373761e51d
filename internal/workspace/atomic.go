// Package workspace implements the canonical, file-backed store: atomic
// file writes, workspace-relative path discipline, and YAML /
// markdown-with-frontmatter codecs for every entity in the workspace
// layout. Every governed write in agentco passes through this package;
// nothing else is allowed to write workspace files directly.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriteFile writes data to path by first writing to a sibling
// temp file and renaming it into place, so readers never observe a
// partially written file. Mirrors the write-to-temp-then-swap discipline
// the inherited config manager uses for in-memory config swaps, applied
// here to on-disk files.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workspace: create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".tmp-%d-*", os.Getpid()))
	if err != nil {
		return fmt.Errorf("workspace: create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("workspace: write temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("workspace: fsync temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("workspace: close temp file %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("workspace: chmod temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("workspace: rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}

// AtomicCreateFile is like AtomicWriteFile but fails if path already
// exists, for strictly append-once entities such as reviews.
func AtomicCreateFile(path string, data []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("workspace: %s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("workspace: stat %s: %w", path, err)
	}
	return AtomicWriteFile(path, data, perm)
}
