package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dvinci-hrs/rangecache/internal/rangetracker"
)

// HTTPSource fetches artifact bytes from a remote object store that serves
// byte ranges over plain HTTP Range requests (e.g. a presigned S3/GCS URL or
// an internal blob gateway) — one concrete Source, since the interface itself
// is the extension point for any other blob API.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource returns a Source that GETs "<baseURL>/<name>" with a Range
// header for each fetch.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{BaseURL: baseURL, Client: http.DefaultClient}
}

func (s *HTTPSource) FetchRange(ctx context.Context, name string, r rangetracker.Range, w io.Writer) error {
	url := s.BaseURL + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fetch: build request for %s: %w", name, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1))

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %s %s: %w", name, r, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: %s %s: unexpected status %s", name, r, resp.Status)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("fetch: %s %s: %w", name, r, err)
	}
	return nil
}

// Size issues a HEAD request to resolve name's total length, for first-time
// catalog registration.
func (s *HTTPSource) Size(ctx context.Context, name string) (int64, error) {
	url := s.BaseURL + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("fetch: build HEAD request for %s: %w", name, err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch: stat %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch: stat %s: unexpected status %s", name, resp.Status)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("fetch: stat %s: no Content-Length in response", name)
	}
	return resp.ContentLength, nil
}
