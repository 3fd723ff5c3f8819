package config

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var cacheMigrationsFS embed.FS

// FetchCache persists subscription-fetch bodies on disk, keyed by URL, for
// spec.md §6's "Caches fetched documents on disk for cacheDuration seconds
// keyed by URL". One SQLite connection, single-writer, same pragma set as
// the teacher's state.OpenDB.
type FetchCache struct {
	db *sql.DB
}

// OpenFetchCache opens (creating and migrating if necessary) the cache
// database at path.
func OpenFetchCache(path string) (*FetchCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("fetch cache: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("fetch cache: exec %q: %w", pragma, err)
		}
	}

	if err := migrateFetchCacheDB(db); err != nil {
		db.Close()
		return nil, err
	}

	return &FetchCache{db: db}, nil
}

func migrateFetchCacheDB(db *sql.DB) error {
	sourceDriver, err := iofs.New(cacheMigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("fetch cache: init migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("fetch cache: init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("fetch cache: init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("fetch cache: migrate up: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (c *FetchCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the cached body for url if it was fetched within maxAge,
// and reports whether a fresh entry was found.
func (c *FetchCache) Get(url string, maxAge time.Duration) ([]byte, bool, error) {
	var body []byte
	var fetchedAtNs int64
	err := c.db.QueryRow(
		`SELECT body, fetched_at_ns FROM subscription_fetches WHERE url = ?`, url,
	).Scan(&body, &fetchedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fetch cache: get %s: %w", url, err)
	}

	fetchedAt := time.Unix(0, fetchedAtNs)
	if time.Since(fetchedAt) > maxAge {
		return nil, false, nil
	}
	return body, true, nil
}

// Put stores body for url, stamped with now.
func (c *FetchCache) Put(url string, body []byte, now time.Time) error {
	_, err := c.db.Exec(
		`INSERT INTO subscription_fetches (url, body, fetched_at_ns)
		 VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET body = excluded.body, fetched_at_ns = excluded.fetched_at_ns`,
		url, body, now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("fetch cache: put %s: %w", url, err)
	}
	return nil
}
