// Package contextdir maintains the agent-facing context directory: the
// append-based alert and changelog files and the projected markdown tree.
// Readers (the external agent) may open files at any moment, so every
// write goes through a same-directory temp file plus rename.
package contextdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomic writes content to path via a sibling temp file and a
// rename, so a reader never observes a truncated file. The temp file is
// removed on any failure, including cancellation between write and rename.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
