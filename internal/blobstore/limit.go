package blobstore

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

type fileInfo struct {
	name string
	path string
	size int64
	mt   time.Time
}

// InFlightFunc reports whether an artifact still has PENDING bytes and must
// not be evicted. EnforceSizeLimit consults it before removing any file,
// mirroring the tracker's own monotonic-absent-to-present guarantee at the
// store layer: eviction only ever removes whole, fully-settled artifacts.
type InFlightFunc func(name string) bool

// EnforceSizeLimit removes the least-recently-modified artifact files under
// the store's directory until total usage is at or below maxBytes. Files for
// which inFlight reports true are skipped entirely. Best-effort: I/O errors
// while walking or removing are ignored.
func (s *Store) EnforceSizeLimit(maxBytes int64, inFlight InFlightFunc) {
	if maxBytes <= 0 {
		return
	}
	var files []fileInfo
	var total int64
	_ = filepath.WalkDir(s.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		st, err := d.Info()
		if err != nil {
			return nil
		}
		name, relErr := filepath.Rel(s.dir, p)
		if relErr != nil {
			name = p
		}
		files = append(files, fileInfo{name: name, path: p, size: st.Size(), mt: st.ModTime()})
		total += st.Size()
		return nil
	})
	if total <= maxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mt.Before(files[j].mt) })
	for _, f := range files {
		if total <= maxBytes {
			break
		}
		if inFlight != nil && inFlight(f.name) {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			continue
		}
		total -= f.size
	}
}
