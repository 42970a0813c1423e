// Package fileutil composes and manipulates the on-disk fragment file names
// and performs the small set of filesystem primitives the engine needs:
// create, delete, exists, and atomic rename-based replace.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockName is the name of the process-exclusive lock file held for the
// lifetime of an open store, matching go-ethereum's datadir LOCK convention.
const LockName = "LOCK"

// FragmentExt is the extension used for every fragment and merged-fragment
// data file.
const FragmentExt = "tdc"

// ManifestName is the name of the append-only manifest log within a store's
// directory.
const ManifestName = "manifest"

// ManifestTempName is the rename-source used by an atomic manifest rewrite.
const ManifestTempName = "manifest.tmp"

// MakeFileName builds the path "<dir>/<number zero-padded to 6 digits>.tdc",
// matching the original implementation's MakeFileName layout.
func MakeFileName(dir string, number uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.%s", number, FragmentExt))
}

// ManifestPath returns "<dir>/manifest".
func ManifestPath(dir string) string {
	return filepath.Join(dir, ManifestName)
}

// ManifestTempPath returns "<dir>/manifest.tmp".
func ManifestTempPath(dir string) string {
	return filepath.Join(dir, ManifestTempName)
}

// Exists reports whether path names an existing file or directory.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir creates dir (and any missing parents) if it does not already
// exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// CreateFile creates a new file at path for writing, truncating it if it
// already exists. The caller owns the returned handle.
func CreateFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

// OpenForAppend opens path for append, creating it if missing.
func OpenForAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
}

// DeleteFile removes path. It is not an error if path does not exist.
func DeleteFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// AtomicReplace fsyncs tmp, then renames it over dst. Callers should write
// and close tmp's handle before calling this.
func AtomicReplace(tmp, dst string) error {
	if err := syncPath(tmp); err != nil {
		return fmt.Errorf("fileutil: fsync %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("fileutil: rename %s -> %s: %w", tmp, dst, err)
	}
	return syncDir(filepath.Dir(dst))
}

func syncPath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// syncDir fsyncs the containing directory so the rename above is itself
// durable, not just the file content. Best-effort: some platforms don't
// support fsync on directories.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer f.Close()
	f.Sync()
	return nil
}

// Lock acquires an exclusive, non-blocking lock on "<dir>/LOCK", failing
// fast if another process already holds it. The returned *flock.Flock must
// be released with Unlock when the store is closed.
func Lock(dir string) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(dir, LockName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("fileutil: lock %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("fileutil: %s is already locked by another process", dir)
	}
	return fl, nil
}
