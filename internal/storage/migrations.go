package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is a single named schema change. Statements are kept portable
// across sqlite and postgres.
type migration struct {
	Name       string
	Statements []string
}

var migrations = []migration{
	{
		Name: "0001_create_documents",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				filename TEXT NOT NULL,
				storage_key TEXT NOT NULL UNIQUE,
				media_type TEXT NOT NULL,
				total_pages INTEGER,
				uploaded_at TIMESTAMP NOT NULL
			)`,
		},
	},
	{
		Name: "0002_create_tasks",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS tasks (
				id TEXT PRIMARY KEY,
				document_id TEXT NOT NULL REFERENCES documents(id),
				status TEXT NOT NULL,
				error_message TEXT,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_document_id ON tasks(document_id)`,
		},
	},
	{
		Name: "0003_create_page_results",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS page_results (
				id TEXT PRIMARY KEY,
				task_id TEXT NOT NULL REFERENCES tasks(id),
				document_id TEXT NOT NULL REFERENCES documents(id),
				page_number INTEGER NOT NULL,
				result_key TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				UNIQUE (document_id, page_number)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_page_results_task_id ON page_results(task_id)`,
		},
	},
}

// Migrate applies all pending migrations in order, recording applied
// versions in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)`,
	); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := migrationApplied(ctx, db, m.Name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.Name, err)
		}

		for _, stmt := range m.Statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (name, applied_at) VALUES ($1, $2)`,
			m.Name, time.Now().UTC(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Name, err)
		}
	}

	return nil
}

func migrationApplied(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations WHERE name = $1`, name,
	).Scan(&count)
	return count > 0, err
}
