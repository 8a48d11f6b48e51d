package fusefs

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/google/uuid"

	"github.com/dvinci-hrs/rangecache/internal/blobstore"
	"github.com/dvinci-hrs/rangecache/internal/catalog"
	"github.com/dvinci-hrs/rangecache/internal/fetch"
	"github.com/dvinci-hrs/rangecache/internal/rangetracker"
)

// ArtifactsFS exposes every catalog-registered artifact as a read-only file
// directly under the mount root, replacing the teacher's RawFS (which
// exposed NZB imports under /raw/<importId>/<filename>).
type ArtifactsFS struct {
	Catalog *catalog.Catalog
	Store   *blobstore.Store
	Filler  *fetch.Filler

	// PrefetchAhead is how many bytes past a satisfied read to best-effort
	// fetch ahead of time. <= 0 disables prefetching.
	PrefetchAhead int64

	mu       sync.Mutex
	trackers map[string]*rangetracker.Tracker
}

func (a *ArtifactsFS) Root() (fs.Node, error) {
	return &artifactsRoot{fs: a}, nil
}

// trackerFor mirrors internal/httpapi.Server.trackerFor, seeding from the
// catalog on first access; unlike the HTTP path, an artifact not already
// registered is simply not visible in the mount.
func (a *ArtifactsFS) trackerFor(ctx context.Context, name string) (*rangetracker.Tracker, int64, error) {
	a.mu.Lock()
	if tr, ok := a.trackers[name]; ok {
		a.mu.Unlock()
		return tr, tr.Length(), nil
	}
	a.mu.Unlock()

	length, ok, err := a.Catalog.Length(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fuse.ENOENT
	}
	tr, err := a.Catalog.Seed(ctx, name, length)
	if err != nil {
		return nil, 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.trackers == nil {
		a.trackers = make(map[string]*rangetracker.Tracker)
	}
	if existing, ok := a.trackers[name]; ok {
		return existing, existing.Length(), nil
	}
	a.trackers[name] = tr
	return tr, length, nil
}

type artifactsRoot struct{ fs *ArtifactsFS }

func (n *artifactsRoot) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0o555
	return nil
}

func (n *artifactsRoot) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	names, err := n.fs.Catalog.Names(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]fuse.Dirent, 0, len(names))
	for _, name := range names {
		out = append(out, fuse.Dirent{Name: name, Type: fuse.DT_File})
	}
	return out, nil
}

func (n *artifactsRoot) Lookup(ctx context.Context, name string) (fs.Node, error) {
	_, length, err := n.fs.trackerFor(ctx, name)
	if err != nil {
		return nil, fuse.ENOENT
	}
	return &artifactFile{fs: n.fs, name: name, size: length}, nil
}

type artifactFile struct {
	fs   *ArtifactsFS
	name string
	size int64
}

func (n *artifactFile) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = 0o444
	a.Size = uint64(n.size)
	a.Mtime = time.Now()
	return nil
}

// ReadAt blocks the calling reader on the tracker until [offset, offset+len)
// is COMPLETE, driving any missing bytes through the filler, then reads them
// back from the blob store. This replaces the teacher's chunk-cache-backed
// StreamRange: there is no separate in-memory cache here, since the blob
// store already is the durable cache rangetracker coordinates against.
func (n *artifactFile) ReadAt(ctx context.Context, offset int64, size int) ([]byte, error) {
	reqID := uuid.NewString()

	tr, _, err := n.fs.trackerFor(ctx, n.name)
	if err != nil {
		return nil, err
	}
	if offset >= n.size {
		return nil, nil
	}
	end := offset + int64(size)
	if end > n.size {
		end = n.size
	}
	inner := rangetracker.Range{Start: offset, End: end}

	done := make(chan error, 1)
	gaps, err := tr.WaitForRange(inner, inner, func(err error) { done <- err })
	if err != nil {
		log.Printf("fusefs[%s]: WaitForRange %s %s: %v", reqID, n.name, inner, err)
		return nil, fuse.EIO
	}

	bg := context.WithoutCancel(ctx)
	for _, gap := range gaps {
		gap := gap
		go func() {
			r := rangetracker.Range{Start: gap.Start(), End: gap.End()}
			if err := n.fs.Filler.Run(bg, n.name, gap); err != nil {
				log.Printf("fusefs[%s]: fetch %s %s failed: %v", reqID, n.name, r, err)
				return
			}
			if err := n.fs.Catalog.RecordRange(bg, n.name, r); err != nil {
				log.Printf("fusefs[%s]: record range %s %s failed: %v", reqID, n.name, r, err)
			}
		}()
	}

	select {
	case err := <-done:
		if err != nil {
			log.Printf("fusefs[%s]: fill %s %s failed: %v", reqID, n.name, inner, err)
			return nil, fuse.EIO
		}
	case <-ctx.Done():
		return nil, fuse.EINTR
	}

	buf := make([]byte, inner.Len())
	read, err := n.fs.Store.ReadAt(n.name, offset, buf)
	if err != nil {
		log.Printf("fusefs[%s]: read %s: %v", reqID, n.name, err)
		return nil, fuse.EIO
	}

	if n.fs.PrefetchAhead > 0 {
		aheadEnd := end + n.fs.PrefetchAhead
		if aheadEnd > n.size {
			aheadEnd = n.size
		}
		if aheadEnd > end {
			ahead := rangetracker.Range{Start: end, End: aheadEnd}
			go n.fs.Filler.Prefetch(context.WithoutCancel(ctx), tr, n.name, ahead)
		}
	}

	return buf[:read], nil
}

func (n *artifactFile) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	if req.Offset < 0 {
		return fuse.EIO
	}
	data, err := n.ReadAt(ctx, req.Offset, req.Size)
	if err != nil {
		if errno, ok := err.(fuse.Errno); ok {
			return errno
		}
		return fuse.EIO
	}
	resp.Data = data
	return nil
}

var _ fs.FS = (*ArtifactsFS)(nil)
var _ fs.Node = (*artifactsRoot)(nil)
var _ fs.HandleReadDirAller = (*artifactsRoot)(nil)
var _ fs.NodeStringLookuper = (*artifactsRoot)(nil)

var _ fs.Node = (*artifactFile)(nil)
var _ fs.HandleReader = (*artifactFile)(nil)
