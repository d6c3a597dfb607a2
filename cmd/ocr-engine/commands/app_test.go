package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cin-dennis/ocr-engine/internal/config"
)

func TestDatabaseOpenOptions_SQLiteUsesItsOwnPool(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLite.MaxOpenConns = 1

	opts := databaseOpenOptions(cfg)
	assert.Equal(t, 1, opts.MaxOpenConns)
	assert.Zero(t, opts.MaxIdleConns)
	assert.Zero(t, opts.ConnMaxLifetime)
}

func TestDatabaseOpenOptions_Postgres(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "postgres"
	cfg.Database.Postgres.MaxOpenConns = 30
	cfg.Database.Postgres.MaxIdleConns = 6
	cfg.Database.Postgres.ConnMaxLifetime = time.Minute

	opts := databaseOpenOptions(cfg)
	assert.Equal(t, 30, opts.MaxOpenConns)
	assert.Equal(t, 6, opts.MaxIdleConns)
	assert.Equal(t, time.Minute, opts.ConnMaxLifetime)
}
