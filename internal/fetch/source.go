// Package fetch is the filler: it pulls missing byte ranges for an artifact
// from a remote object-storage-like Source and drives the Gap callbacks
// internal/rangetracker exposes to its collaborators.
package fetch

import (
	"context"
	"io"

	"github.com/dvinci-hrs/rangecache/internal/rangetracker"
)

// Source is the fetcher's only dependency on remote object storage.
// Implementations write exactly r.Len() bytes of name's content, starting at
// r.Start, to w.
type Source interface {
	FetchRange(ctx context.Context, name string, r rangetracker.Range, w io.Writer) error
}
