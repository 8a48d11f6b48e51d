// Package catalog is the SQLite-backed registry mapping an artifact name to
// its length and already-materialized ranges, so a rangetracker.Tracker can
// be re-seeded after a process restart. This is the caller-driven re-seeding
// path that rangetracker's own non-goals deliberately push outside the core.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dvinci-hrs/rangecache/internal/rangetracker"
)

// Catalog wraps a SQLite connection holding artifact metadata.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if necessary) a catalog database at path, and runs
// its migrations.
func Open(path string) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(4)

	c := &Catalog{db: sqlDB}
	if err := c.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return c, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			name TEXT PRIMARY KEY,
			length INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS artifact_ranges (
			name TEXT NOT NULL,
			start INTEGER NOT NULL,
			end INTEGER NOT NULL,
			PRIMARY KEY(name, start)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_artifact_ranges_name ON artifact_ranges(name);`,
	}
	for _, s := range stmts {
		if _, err := c.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Register inserts a new artifact row if one does not already exist for
// name. It is a no-op if name is already registered.
func (c *Catalog) Register(ctx context.Context, name string, length int64) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO artifacts(name, length, created_at) VALUES (?, ?, ?)`,
		name, length, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("catalog: register %s: %w", name, err)
	}
	return nil
}

// Names returns every registered artifact name, ordered by creation time,
// for listing a catalog's contents (e.g. a FUSE mount's root directory).
func (c *Catalog) Names(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM artifacts ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("catalog: names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("catalog: names: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Length returns the registered length for name, and whether it is
// registered at all.
func (c *Catalog) Length(ctx context.Context, name string) (int64, bool, error) {
	var length int64
	err := c.db.QueryRowContext(ctx, `SELECT length FROM artifacts WHERE name=?`, name).Scan(&length)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("catalog: length %s: %w", name, err)
	}
	return length, true, nil
}

// RecordRange upserts a completed range row for name. Called by
// internal/httpapi and internal/fusefs after fetch.Filler.Run has completed a
// Gap, so the next process start can re-seed the tracker with it.
func (c *Catalog) RecordRange(ctx context.Context, name string, r rangetracker.Range) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO artifact_ranges(name, start, end) VALUES (?, ?, ?)
		 ON CONFLICT(name, start) DO UPDATE SET end = excluded.end`,
		name, r.Start, r.End)
	if err != nil {
		return fmt.Errorf("catalog: record range %s %s: %w", name, r, err)
	}
	return nil
}

// Seed reads back the stored ranges for name, merges touching or overlapping
// rows (each completed Gap is recorded as its own row, so adjacent fills
// arrive as separate rows), and returns a Tracker seeded with the result.
func (c *Catalog) Seed(ctx context.Context, name string, length int64) (*rangetracker.Tracker, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT start, end FROM artifact_ranges WHERE name=? ORDER BY start ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("catalog: seed %s: %w", name, err)
	}
	defer rows.Close()

	var raw []rangetracker.Range
	for rows.Next() {
		var r rangetracker.Range
		if err := rows.Scan(&r.Start, &r.End); err != nil {
			return nil, fmt.Errorf("catalog: seed %s: %w", name, err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: seed %s: %w", name, err)
	}

	tr, err := rangetracker.NewSeeded(name, length, mergeTouching(raw))
	if err != nil {
		return nil, fmt.Errorf("catalog: seed %s: %w", name, err)
	}
	return tr, nil
}

func mergeTouching(ranges []rangetracker.Range) []rangetracker.Range {
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	out := make([]rangetracker.Range, 0, len(ranges))
	cur := ranges[0]
	for _, r := range ranges[1:] {
		if r.Start <= cur.End {
			if r.End > cur.End {
				cur.End = r.End
			}
			continue
		}
		out = append(out, cur)
		cur = r
	}
	out = append(out, cur)
	return out
}
