package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLCache is a MySQL/MariaDB implementation of Cache.
//
// It stores resolver outputs in a relational database. Designed for:
//   - Fleets of workers resolving the same universe of entities
//   - Caches that must survive process restarts
//   - Backends already operating MySQL
//
// MySQLCache uses connection pooling; concurrent Get/Put calls from many
// processes are safe.
type MySQLCache struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLCache creates a new MySQL-backed cache.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/resolvent
//	user:password@tcp(127.0.0.1:3306)/resolvent?parseTime=true
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Use environment variables:
//	    dsn := os.Getenv("MYSQL_DSN")
//	    if dsn == "" {
//	        log.Fatal("MYSQL_DSN environment variable not set")
//	    }
//	    c, err := cache.NewMySQLCache(dsn)
//
// The cache automatically creates its table if it doesn't exist and
// configures connection pooling.
func NewMySQLCache(dsn string) (*MySQLCache, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)                  // Maximum open connections
	db.SetMaxIdleConns(5)                   // Keep idle connections for reuse
	db.SetConnMaxLifetime(5 * time.Minute)  // Prevent stale connections
	db.SetConnMaxIdleTime(10 * time.Minute) // Max idle time before closing

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	c := &MySQLCache{db: db}

	if err := c.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return c, nil
}

// createTables creates the cache schema if it doesn't exist.
func (c *MySQLCache) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS resolver_cache (
			resolver VARCHAR(255) NOT NULL,
			snapshot_key VARCHAR(64) NOT NULL,
			output JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (resolver, snapshot_key)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := c.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create resolver_cache table: %w", err)
	}
	return nil
}

// Get retrieves a stored output by resolver name and snapshot key.
func (c *MySQLCache) Get(ctx context.Context, resolver, key string) (map[string]any, bool, error) {
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
func (c *MySQLCache) Put(ctx context.Context, resolver, key string, out map[string]any) error {
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
		ON DUPLICATE KEY UPDATE output = VALUES(output)
	`
	if _, err := c.db.ExecContext(ctx, query, resolver, key, raw); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MySQLCache) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("cache is closed")
	}
	return c.db.PingContext(ctx)
}

// Close closes the database connection pool. Subsequent operations fail.
func (c *MySQLCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}
