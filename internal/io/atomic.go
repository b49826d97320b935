// Package io has small filesystem helpers.
package io

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data using temp file + rename so a crash or a
// concurrent reader never sees a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
