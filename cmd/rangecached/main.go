// Command rangecached serves a directory of remote artifacts over HTTP
// (Range-aware) and, optionally, as a read-only FUSE mount, filling missing
// bytes on demand and caching them in a local blob store.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/dvinci-hrs/rangecache/internal/blobstore"
	"github.com/dvinci-hrs/rangecache/internal/catalog"
	"github.com/dvinci-hrs/rangecache/internal/config"
	"github.com/dvinci-hrs/rangecache/internal/fetch"
	"github.com/dvinci-hrs/rangecache/internal/fusefs"
	"github.com/dvinci-hrs/rangecache/internal/httpapi"
)

func main() {
	var cfgPath string
	var enableFuse bool
	var sourceURL string
	flag.StringVar(&cfgPath, "config", "/config/config.json", "path to config file (json)")
	flag.BoolVar(&enableFuse, "fuse", true, "enable the read-only FUSE mount at paths.mount_point")
	flag.StringVar(&sourceURL, "source", "", "base URL of the remote object store (HTTP Range GETs)")
	flag.Parse()

	if err := config.EnsureConfigFile(cfgPath); err != nil {
		log.Fatalf("config bootstrap: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validate: %v", err)
	}
	if sourceURL == "" {
		log.Fatalf("-source is required")
	}

	store, err := blobstore.Open(cfg.Paths.CacheDir)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}
	cat, err := catalog.Open(cfg.Paths.CatalogDBPath)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}
	defer cat.Close()

	src := fetch.NewHTTPSource(sourceURL)
	pool := fetch.NewPool(src, cfg.Fetch.MaxConnections)
	filler := fetch.NewFiller(pool, store, cfg.Fetch.ChunkBytes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runSizeLimiter(ctx, store, filler, cfg.Cache.MaxBytes)

	srv := httpapi.New(cat, store, filler, src.Size, cfg.Fetch.PrefetchAhead)

	if enableFuse {
		afs := &fusefs.ArtifactsFS{Catalog: cat, Store: store, Filler: filler, PrefetchAhead: cfg.Fetch.PrefetchAhead}
		if _, err := fusefs.MountArtifacts(ctx, cfg.Paths.MountPoint, afs); err != nil {
			log.Printf("FUSE mount failed: %v", err)
		} else {
			log.Printf("FUSE mount ready at %s", cfg.Paths.MountPoint)
		}
	}

	log.Printf("rangecached listening on %s", cfg.Server.Addr)
	if err := http.ListenAndServe(cfg.Server.Addr, srv); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func runSizeLimiter(ctx context.Context, store *blobstore.Store, filler *fetch.Filler, maxBytes int64) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.EnforceSizeLimit(maxBytes, filler.InFlight)
		}
	}
}
