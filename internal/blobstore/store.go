// Package blobstore is the disk-backed byte storage that internal/rangetracker
// deliberately treats as an external collaborator. It keeps one sparse file
// per artifact under a cache directory and knows nothing about PENDING vs
// COMPLETE segments; callers consult a Tracker first and only read back the
// byte ranges it has already reported COMPLETE.
package blobstore

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"
)

// Store manages one on-disk file per artifact name under dir.
type Store struct {
	dir string
}

// Open returns a Store rooted at dir, creating it if necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: %w", err)
	}
	return &Store{dir: dir}, nil
}

// path returns the on-disk path for name, normalizing it first so that
// remote object keys with combining-character variants land on one file.
func (s *Store) path(name string) string {
	return filepath.Join(s.dir, norm.NFC.String(name))
}

// WriteAt writes data to name's backing file at offset, creating the file
// (and any missing parent directories) if needed.
func (s *Store) WriteAt(name string, offset int64, data []byte) error {
	p := s.path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("blobstore: open %s: %w", name, err)
	}
	defer f.Close()
	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("blobstore: write %s: %w", name, err)
	}
	return nil
}

// ReadAt reads len(buf) bytes for name starting at offset, with the semantics
// of os.File.ReadAt: if the backing file ends before offset+len(buf), it
// returns the bytes available and io.EOF. Callers are expected to have
// already waited on a Tracker for the requested range to become COMPLETE.
func (s *Store) ReadAt(name string, offset int64, buf []byte) (int, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return 0, fmt.Errorf("blobstore: open %s: %w", name, err)
	}
	defer f.Close()
	return f.ReadAt(buf, offset)
}

// Remove deletes name's backing file. Best-effort: a missing file is not an
// error.
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: remove %s: %w", name, err)
	}
	return nil
}

// Size returns the current on-disk size of name's backing file, or 0 if it
// does not exist yet.
func (s *Store) Size(name string) (int64, error) {
	st, err := os.Stat(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("blobstore: stat %s: %w", name, err)
	}
	return st.Size(), nil
}

// Dir returns the root directory this Store manages.
func (s *Store) Dir() string { return s.dir }
