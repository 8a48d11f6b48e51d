package config

import (
	"encoding/json"
	"errors"
	"os"
)

// Server configures the HTTP range server.
type Server struct {
	Addr string `json:"addr"`
}

// Paths configures where on-disk state lives.
type Paths struct {
	CacheDir      string `json:"cache_dir"`
	CatalogDBPath string `json:"catalog_db_path"`
	MountPoint    string `json:"mount_point"`
}

// Fetch configures how artifacts are pulled from remote object storage.
type Fetch struct {
	MaxConnections int   `json:"max_connections"`
	ChunkBytes     int64 `json:"chunk_bytes"`
	PrefetchAhead  int64 `json:"prefetch_ahead"`
}

// Cache bounds the on-disk blob store.
type Cache struct {
	MaxBytes int64 `json:"max_bytes"`
}

// Config is the top-level process configuration.
type Config struct {
	Server Server `json:"server"`
	Paths  Paths  `json:"paths"`
	Fetch  Fetch  `json:"fetch"`
	Cache  Cache  `json:"cache"`
}

// Default returns a Config that boots standalone on a single machine.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8080"},
		Paths: Paths{
			CacheDir:      "/var/lib/rangecache/blobs",
			CatalogDBPath: "/var/lib/rangecache/catalog.db",
			MountPoint:    "/mnt/rangecache",
		},
		Fetch: Fetch{
			MaxConnections: 8,
			ChunkBytes:     1 << 20,
			PrefetchAhead:  8 << 20,
		},
		Cache: Cache{
			MaxBytes: 50 * 1024 * 1024 * 1024,
		},
	}
}

// Load reads and parses path, filling any field missing from the file with
// Default's value. An empty path returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Fetch.MaxConnections <= 0 {
		cfg.Fetch.MaxConnections = Default().Fetch.MaxConnections
	}
	if cfg.Fetch.ChunkBytes <= 0 {
		cfg.Fetch.ChunkBytes = Default().Fetch.ChunkBytes
	}
	return cfg, nil
}

// Validate reports the first configuration error found, if any.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr required")
	}
	if c.Paths.CacheDir == "" {
		return errors.New("paths.cache_dir required")
	}
	if c.Paths.CatalogDBPath == "" {
		return errors.New("paths.catalog_db_path required")
	}
	if c.Fetch.MaxConnections <= 0 {
		return errors.New("fetch.max_connections must be > 0")
	}
	if c.Fetch.ChunkBytes <= 0 {
		return errors.New("fetch.chunk_bytes must be > 0")
	}
	if c.Fetch.PrefetchAhead < 0 {
		return errors.New("fetch.prefetch_ahead must be >= 0")
	}
	if c.Cache.MaxBytes <= 0 {
		return errors.New("cache.max_bytes must be > 0")
	}
	return nil
}
