// Package snapshot persists the vector index and every user partition as a
// single artifact, replaced atomically on each save.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/becomeliminal/nim-recall/core"
)

// File stores snapshots in one file. Saves write a temporary file next to
// the target and rename it into place, so readers see either the previous
// or the new image, never a mix.
type File struct {
	path string
}

// New returns a File persister for path, creating its directory.
func New(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &File{path: path}, nil
}

// Path returns the artifact location.
func (f *File) Path() string {
	return f.path
}

// Load reads the last snapshot. A missing file is a cold start and yields an
// empty snapshot with Dimensions unset.
func (f *File) Load(ctx context.Context) (*core.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[SNAPSHOT] No snapshot at %s, starting empty", f.path)
		return &core.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}

	log.Printf("[SNAPSHOT] Loaded %d vectors, %d records for %d users from %s",
		len(snap.Entries), snap.RecordCount(), len(snap.Partitions), f.path)
	return snap, nil
}

// Save writes snap and atomically replaces the previous artifact.
func (f *File) Save(ctx context.Context, snap *core.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath) // best-effort cleanup
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename %s: %w", f.path, err)
	}
	syncDir(filepath.Dir(f.path))

	log.Printf("[SNAPSHOT] Wrote %d vectors, %d records to %s (%d bytes)",
		len(snap.Entries), snap.RecordCount(), f.path, len(data))
	return nil
}

// syncDir flushes the directory entry of a rename. Not every platform
// supports it, so failures are only logged.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		log.Printf("[SNAPSHOT] Directory sync skipped: %v", err)
	}
}
