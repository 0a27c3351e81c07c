package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteCache is a SQLite implementation of Cache.
//
// It stores resolver outputs in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-process services that should keep their cache across restarts
//   - Prototyping before migrating to a shared backend
//
// SQLiteCache uses WAL mode for concurrent reads.
//
// Example:
//
//	c, err := cache.NewSQLiteCache("./resolver-cache.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
// For testing with an in-memory database:
//
//	c, err := cache.NewSQLiteCache(":memory:")
type SQLiteCache struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteCache creates a new SQLite-backed cache.
//
// The path parameter specifies the database file location:
//   - "./resolver-cache.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The cache automatically:
//   - Creates the database file if it doesn't exist
//   - Creates the resolver_cache table
//   - Enables WAL mode for concurrent reads
//   - Configures appropriate timeouts
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(1)    // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)    // Keep connection open
	db.SetConnMaxLifetime(0) // No max lifetime for SQLite

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close() // Ignore close error when returning pragma error
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close() // Ignore close error when returning pragma error
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Wait up to 5 seconds for locks
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close() // Ignore close error when returning pragma error
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	c := &SQLiteCache{
		db:   db,
		path: path,
	}

	if err := c.createTables(ctx); err != nil {
		_ = db.Close() // Ignore close error when returning table creation error
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return c, nil
}

// createTables creates the cache schema if it doesn't exist.
func (c *SQLiteCache) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS resolver_cache (
			resolver TEXT NOT NULL,
			snapshot_key TEXT NOT NULL,
			output TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (resolver, snapshot_key)
		)
	`
	if _, err := c.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create resolver_cache table: %w", err)
	}
	return nil
}

// Get retrieves a stored output by resolver name and snapshot key.
func (c *SQLiteCache) Get(ctx context.Context, resolver, key string) (map[string]any, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, false, fmt.Errorf("cache is closed")
	}

	var raw []byte
	query := `SELECT output FROM resolver_cache WHERE resolver = ? AND snapshot_key = ?`
	err := c.db.QueryRowContext(ctx, query, resolver, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query cache entry: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return out, true, nil
}

// Put stores an output, replacing any existing entry for the same
// (resolver, snapshot key) pair.
func (c *SQLiteCache) Put(ctx context.Context, resolver, key string, out map[string]any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("cache is closed")
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	query := `
		INSERT INTO resolver_cache (resolver, snapshot_key, output)
		VALUES (?, ?, ?)
		ON CONFLICT (resolver, snapshot_key) DO UPDATE SET output = excluded.output
	`
	if _, err := c.db.ExecContext(ctx, query, resolver, key, raw); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *SQLiteCache) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("cache is closed")
	}
	return c.db.PingContext(ctx)
}

// Path returns the database file path.
func (c *SQLiteCache) Path() string {
	return c.path
}

// Close closes the database connection. Subsequent operations fail.
func (c *SQLiteCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}
