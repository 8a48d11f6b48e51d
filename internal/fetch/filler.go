package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dvinci-hrs/rangecache/internal/blobstore"
	"github.com/dvinci-hrs/rangecache/internal/rangetracker"
)

// defaultChunkSize bounds how much of a Gap is fetched before reporting
// progress, mirroring the teacher's segment-at-a-time cache writes but at a
// finer grain so listeners waiting on a sub-range of a large Gap do not
// block on the whole thing. Used when NewFiller is given a chunkBytes <= 0.
const defaultChunkSize = 1 << 20 // 1MiB

const prefetchTimeout = 60 * time.Second

// Filler drives Gaps by pulling their byte ranges out of a pooled Source and
// writing them into a blobstore.Store, reporting progress back to the
// tracker as each chunk lands on disk.
type Filler struct {
	pool      *Pool
	store     *blobstore.Store
	chunkSize int

	prefetchGroup singleflight.Group

	mu       sync.Mutex
	inFlight map[string]int
}

// NewFiller returns a Filler that fetches through pool and persists into
// store, reporting progress every chunkBytes. chunkBytes <= 0 uses
// defaultChunkSize.
func NewFiller(pool *Pool, store *blobstore.Store, chunkBytes int64) *Filler {
	chunk := int(chunkBytes)
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	return &Filler{pool: pool, store: store, chunkSize: chunk, inFlight: make(map[string]int)}
}

// InFlight reports whether name has at least one Run call currently in
// progress, so a whole-artifact eviction pass (blobstore.EnforceSizeLimit)
// can skip it rather than delete bytes a tracker still considers owned by an
// active Gap.
func (f *Filler) InFlight(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight[name] > 0
}

func (f *Filler) enter(name string) {
	f.mu.Lock()
	f.inFlight[name]++
	f.mu.Unlock()
}

func (f *Filler) leave(name string) {
	f.mu.Lock()
	f.inFlight[name]--
	if f.inFlight[name] <= 0 {
		delete(f.inFlight, name)
	}
	f.mu.Unlock()
}

// progressWriter writes sequentially into the blob store and reports
// progress to gap after each chunk, the same ensureSegment-then-StreamRange
// shape the teacher's streamer uses, adapted so progress reporting replaces
// whole-segment-at-a-time cache writes.
type progressWriter struct {
	store  *blobstore.Store
	name   string
	offset int64
	gap    *rangetracker.Gap
}

func (w *progressWriter) Write(p []byte) (int, error) {
	if err := w.store.WriteAt(w.name, w.offset, p); err != nil {
		return 0, err
	}
	w.offset += int64(len(p))
	if err := w.gap.OnProgress(w.offset); err != nil {
		return 0, fmt.Errorf("fetch: report progress: %w", err)
	}
	return len(p), nil
}

// Run fetches name's byte range for gap from the pool's Source in fixed-size
// chunks, reporting progress after each, then calls gap.OnCompletion or
// gap.OnFailure depending on outcome. If ctx is cancelled mid-fetch, the gap
// fails with ctx.Err().
func (f *Filler) Run(ctx context.Context, name string, gap *rangetracker.Gap) error {
	f.enter(name)
	defer f.leave(name)

	src, err := f.pool.Acquire(ctx)
	if err != nil {
		_ = gap.OnFailure(err)
		return err
	}
	defer f.pool.Release(src)

	r := rangetracker.Range{Start: gap.Start(), End: gap.End()}
	w := &progressWriter{store: f.store, name: name, offset: r.Start, gap: gap}
	cw := &chunkedWriter{w: w, chunk: f.chunkSize}

	if err := src.FetchRange(ctx, name, r, cw); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		log.Printf("fetch: %s %s failed: %v", name, r, err)
		_ = gap.OnFailure(err)
		return err
	}
	if err := cw.Flush(); err != nil {
		_ = gap.OnFailure(err)
		return err
	}
	return gap.OnCompletion()
}

// chunkedWriter buffers writes and flushes to the underlying writer every
// chunk bytes, so progress reports land at a bounded granularity regardless
// of how the Source chooses to call Write.
type chunkedWriter struct {
	w     io.Writer
	chunk int
	buf   []byte
}

func (c *chunkedWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		room := c.chunk - len(c.buf)
		n := len(p)
		if n > room {
			n = room
		}
		c.buf = append(c.buf, p[:n]...)
		p = p[n:]
		if len(c.buf) >= c.chunk {
			if err := c.Flush(); err != nil {
				return 0, err
			}
		}
	}
	return total, nil
}

func (c *chunkedWriter) Flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	_, err := c.w.Write(c.buf)
	c.buf = c.buf[:0]
	return err
}

// RunAll drives every gap in gaps concurrently for the same artifact,
// bounded by the pool's own concurrency limit, and returns the first error
// encountered (if any), after all gaps have reached a terminal state.
func (f *Filler) RunAll(ctx context.Context, name string, gaps []*rangetracker.Gap) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, gap := range gaps {
		gap := gap
		g.Go(func() error {
			return f.Run(ctx, name, gap)
		})
	}
	return g.Wait()
}

// Prefetch best-effort fetches ahead, the same shape as the teacher's
// StreamRange prefetch loop, but routed through WaitForRange so prefetched
// bytes land in the tracker like any other fill. Two callers racing to
// prefetch the same not-yet-PENDING range are deduplicated with
// singleflight, since neither has called WaitForRange yet to claim it.
func (f *Filler) Prefetch(ctx context.Context, tr *rangetracker.Tracker, name string, ahead rangetracker.Range) {
	key := fmt.Sprintf("%s:%d:%d", name, ahead.Start, ahead.End)
	_, _, _ = f.prefetchGroup.Do(key, func() (any, error) {
		gaps, err := tr.WaitForRange(ahead, ahead, func(error) {})
		if err != nil {
			return nil, err
		}
		for _, gap := range gaps {
			go func(g *rangetracker.Gap) {
				bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), prefetchTimeout)
				defer cancel()
				if err := f.Run(bg, name, g); err != nil {
					log.Printf("fetch: prefetch %s %s failed: %v", name, ahead, err)
				}
			}(gap)
		}
		return nil, nil
	})
}
