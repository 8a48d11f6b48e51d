// Package httpapi serves artifacts over HTTP with Range support, waiting on
// an internal/rangetracker.Tracker for missing bytes and driving
// internal/fetch.Filler to produce them, grounded on the teacher's
// internal/api package (mux wiring, single and multi Range header parsing,
// multipart/byteranges writing).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/dvinci-hrs/rangecache/internal/blobstore"
	"github.com/dvinci-hrs/rangecache/internal/catalog"
	"github.com/dvinci-hrs/rangecache/internal/fetch"
	"github.com/dvinci-hrs/rangecache/internal/rangetracker"
)

// SizeOf resolves the total length of a not-yet-registered artifact so the
// server can register it in the catalog and construct its Tracker on first
// request, the way the teacher's importer resolves an NZB's size before
// registering it in the DB.
type SizeOf func(ctx context.Context, name string) (int64, error)

// Server serves registered artifacts over HTTP, blocking Range requests on
// the corresponding Tracker until fetch.Filler has produced the bytes.
type Server struct {
	catalog       *catalog.Catalog
	store         *blobstore.Store
	filler        *fetch.Filler
	sizeOf        SizeOf
	prefetchAhead int64
	mux           *http.ServeMux

	mu       sync.Mutex
	trackers map[string]*rangetracker.Tracker
}

// New wires a Server against an already-open catalog, blob store and filler.
// sizeOf may be nil if every artifact is pre-registered before the server
// starts serving requests. After satisfying a request, the server best-effort
// prefetches up to prefetchAhead bytes past the end of the requested range;
// prefetchAhead <= 0 disables this.
func New(cat *catalog.Catalog, store *blobstore.Store, filler *fetch.Filler, sizeOf SizeOf, prefetchAhead int64) *Server {
	s := &Server{
		catalog:       cat,
		store:         store,
		filler:        filler,
		sizeOf:        sizeOf,
		prefetchAhead: prefetchAhead,
		mux:           http.NewServeMux(),
		trackers:      make(map[string]*rangetracker.Tracker),
	}
	s.mux.HandleFunc("GET /live", s.handleLive)
	s.mux.HandleFunc("GET /artifacts/{name}", s.handleArtifact)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":   true,
		"time": time.Now().Format(time.RFC3339),
	})
}

// trackerFor returns the in-memory Tracker for name, seeding it from the
// catalog (or registering it fresh via sizeOf) on first access.
func (s *Server) trackerFor(ctx context.Context, name string) (*rangetracker.Tracker, error) {
	s.mu.Lock()
	if tr, ok := s.trackers[name]; ok {
		s.mu.Unlock()
		return tr, nil
	}
	s.mu.Unlock()

	length, ok, err := s.catalog.Length(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		if s.sizeOf == nil {
			return nil, fmt.Errorf("httpapi: artifact %s is not registered", name)
		}
		length, err = s.sizeOf(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("httpapi: stat %s: %w", name, err)
		}
		if err := s.catalog.Register(ctx, name, length); err != nil {
			return nil, err
		}
	}

	tr, err := s.catalog.Seed(ctx, name, length)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.trackers[name]; ok {
		return existing, nil
	}
	s.trackers[name] = tr
	return tr, nil
}

// waitAndFill registers inner with tr, drives every returned Gap through the
// filler, records completed ranges in the catalog, and blocks until inner is
// fully available or a fill fails.
func (s *Server) waitAndFill(ctx context.Context, tr *rangetracker.Tracker, name string, inner rangetracker.Range) error {
	done := make(chan error, 1)
	gaps, err := tr.WaitForRange(inner, inner, func(err error) {
		done <- err
	})
	if err != nil {
		return err
	}

	// Fills run detached from the request context: a Gap is shared ownership
	// of a byte range that other concurrent requests may also be waiting on,
	// so one client disconnecting must not cancel everyone else's fetch.
	bg := context.WithoutCancel(ctx)
	for _, gap := range gaps {
		gap := gap
		go func() {
			r := rangetracker.Range{Start: gap.Start(), End: gap.End()}
			if err := s.filler.Run(bg, name, gap); err != nil {
				log.Printf("httpapi: fetch %s %s failed: %v", name, r, err)
				return
			}
			if err := s.catalog.RecordRange(bg, name, r); err != nil {
				log.Printf("httpapi: record range %s %s failed: %v", name, r, err)
			}
		}()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// triggerPrefetch best-effort kicks off a fetch of up to s.prefetchAhead
// bytes past after, clamped to tr's length, detached from the request that
// triggered it.
func (s *Server) triggerPrefetch(ctx context.Context, tr *rangetracker.Tracker, name string, after int64) {
	if s.prefetchAhead <= 0 {
		return
	}
	end := after + s.prefetchAhead
	if size := tr.Length(); end > size {
		end = size
	}
	if end <= after {
		return
	}
	ahead := rangetracker.Range{Start: after, End: end}
	bg := context.WithoutCancel(ctx)
	go s.filler.Prefetch(bg, tr, name, ahead)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ctx := r.Context()

	tr, err := s.trackerFor(ctx, name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	size := tr.Length()

	header := r.Header.Get("Range")
	if header == "" {
		if err := s.waitAndFill(ctx, tr, name, rangetracker.Range{Start: 0, End: size}); err != nil {
			httpError(w, err)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
		w.Header().Set("Accept-Ranges", "bytes")
		s.copyRange(w, name, 0, size)
		s.triggerPrefetch(ctx, tr, name, size)
		return
	}

	mr, err := parseRanges(header, size)
	if err != nil || mr == nil {
		http.Error(w, "invalid range", http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if len(mr.Ranges) == 1 {
		br := mr.Ranges[0]
		inner := rangetracker.Range{Start: br.Start, End: br.End + 1}
		if err := s.waitAndFill(ctx, tr, name, inner); err != nil {
			httpError(w, err)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", br.Start, br.End, size))
		w.Header().Set("Content-Length", fmt.Sprintf("%d", br.End-br.Start+1))
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusPartialContent)
		s.copyRange(w, name, br.Start, br.End+1)
		s.triggerPrefetch(ctx, tr, name, br.End+1)
		return
	}

	for _, br := range mr.Ranges {
		inner := rangetracker.Range{Start: br.Start, End: br.End + 1}
		if err := s.waitAndFill(ctx, tr, name, inner); err != nil {
			httpError(w, err)
			return
		}
	}
	if err := s.serveMultiRange(w, name, size, mr); err != nil {
		log.Printf("httpapi: serve multi-range %s failed: %v", name, err)
	}
}

func (s *Server) copyRange(w io.Writer, name string, start, end int64) {
	buf := make([]byte, 1<<20)
	for start < end {
		n := int64(len(buf))
		if rem := end - start; rem < n {
			n = rem
		}
		read, err := s.store.ReadAt(name, start, buf[:n])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return
			}
		}
		if err != nil {
			log.Printf("httpapi: read %s: %v", name, err)
			return
		}
		start += int64(read)
	}
}

// serveMultiRange writes a multipart/byteranges response, the same shape as
// the teacher's serveMultiRangeFromFile, generalized to read each part from
// the blob store instead of a single local *os.File.
func (s *Server) serveMultiRange(w http.ResponseWriter, name string, size int64, mr *multiRange) error {
	boundary := randBoundary()
	w.Header().Set("Content-Type", mime.FormatMediaType("multipart/byteranges", map[string]string{"boundary": boundary}))
	w.WriteHeader(http.StatusPartialContent)

	for _, br := range mr.Ranges {
		if _, err := io.WriteString(w, "--"+boundary+"\r\n"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "Content-Type: application/octet-stream\r\n"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, fmt.Sprintf("Content-Range: bytes %d-%d/%d\r\n", br.Start, br.End, size)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
		s.copyRange(w, name, br.Start, br.End+1)
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "--"+boundary+"--\r\n")
	return err
}

func httpError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
