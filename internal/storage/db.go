package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Database drivers. The engine runs on sqlite in development and
	// postgres in production; both speak the $N placeholder syntax used
	// by the repositories.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// OpenOptions tunes the connection pool.
type OpenOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open opens a database handle for the given driver ("sqlite" or
// "postgres") and verifies connectivity.
func Open(driver, dsn string, opts OpenOptions) (*sql.DB, error) {
	var driverName string
	switch driver {
	case "sqlite":
		driverName = "sqlite3"
	case "postgres":
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}

	return db, nil
}
