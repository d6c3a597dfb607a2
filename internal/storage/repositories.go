package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// DB represents a database connection interface. Both *sql.DB and
// *sql.Tx satisfy it, so repositories work inside and outside
// transactions.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DocumentRepository handles document CRUD operations.
type DocumentRepository struct {
	db DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create creates a new document.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO documents (id, filename, storage_key, media_type, total_pages, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Filename, doc.StorageKey, doc.MediaType, doc.TotalPages, doc.UploadedAt,
	)
	return err
}

// GetByID retrieves a document by ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `
		SELECT id, filename, storage_key, media_type, total_pages, uploaded_at
		FROM documents WHERE id = $1
	`
	doc := &Document{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.Filename, &doc.StorageKey, &doc.MediaType, &doc.TotalPages, &doc.UploadedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// SetTotalPages records the final page count for a document. The count
// is set exactly once, at finalize.
func (r *DocumentRepository) SetTotalPages(ctx context.Context, id uuid.UUID, totalPages int) error {
	query := `UPDATE documents SET total_pages = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, totalPages, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskRepository handles task CRUD operations. All status mutations go
// through Transition, which enforces the allowed-transition table with a
// conditional update so concurrent writers cannot race a task out of a
// terminal state.
type TaskRepository struct {
	db DB
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create creates a new task.
func (r *TaskRepository) Create(ctx context.Context, task *Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = TaskStatusPending
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	query := `
		INSERT INTO tasks (id, document_id, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		task.ID, task.DocumentID, task.Status, task.ErrorMessage, task.CreatedAt, task.UpdatedAt,
	)
	return err
}

// GetByID retrieves a task by ID.
func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	query := `
		SELECT id, document_id, status, error_message, created_at, updated_at
		FROM tasks WHERE id = $1
	`
	task := &Task{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&task.ID, &task.DocumentID, &task.Status, &task.ErrorMessage, &task.CreatedAt, &task.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

// GetByDocumentID retrieves the task for a document.
func (r *TaskRepository) GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*Task, error) {
	query := `
		SELECT id, document_id, status, error_message, created_at, updated_at
		FROM tasks WHERE document_id = $1
	`
	task := &Task{}
	err := r.db.QueryRowContext(ctx, query, documentID).Scan(
		&task.ID, &task.DocumentID, &task.Status, &task.ErrorMessage, &task.CreatedAt, &task.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

// Transition moves a task from any of the from statuses to the to
// status, setting error_message along the way. It returns false when the
// task was not in any of the from statuses, which callers treat as
// "someone else got there first" rather than an error. The conditional
// WHERE clause is what keeps terminal states sticky under concurrent or
// duplicate delivery.
func (r *TaskRepository) Transition(ctx context.Context, id uuid.UUID, from []TaskStatus, to TaskStatus, errorMessage *string) (bool, error) {
	if !to.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	for _, f := range from {
		if !f.CanTransitionTo(to) {
			return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f, to)
		}
	}

	placeholders := make([]string, len(from))
	args := []interface{}{to, errorMessage, time.Now().UTC(), id}
	for i, f := range from {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, f)
	}

	query := fmt.Sprintf(`
		UPDATE tasks SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4 AND status IN (%s)
	`, strings.Join(placeholders, ", "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// PageResultRepository handles page result CRUD operations.
type PageResultRepository struct {
	db DB
}

// NewPageResultRepository creates a new page result repository.
func NewPageResultRepository(db DB) *PageResultRepository {
	return &PageResultRepository{db: db}
}

// Create creates a new page result.
func (r *PageResultRepository) Create(ctx context.Context, pr *PageResult) error {
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO page_results (id, task_id, document_id, page_number, result_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		pr.ID, pr.TaskID, pr.DocumentID, pr.PageNumber, pr.ResultKey, pr.CreatedAt,
	)
	return err
}

// ListByTaskID retrieves all page results for a task, ordered by page number.
func (r *PageResultRepository) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*PageResult, error) {
	query := `
		SELECT id, task_id, document_id, page_number, result_key, created_at
		FROM page_results
		WHERE task_id = $1
		ORDER BY page_number
	`
	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*PageResult
	for rows.Next() {
		pr := &PageResult{}
		if err := rows.Scan(
			&pr.ID, &pr.TaskID, &pr.DocumentID, &pr.PageNumber, &pr.ResultKey, &pr.CreatedAt,
		); err != nil {
			return nil, err
		}
		results = append(results, pr)
	}
	return results, rows.Err()
}

// CountByTaskID returns the number of page results persisted for a task.
func (r *PageResultRepository) CountByTaskID(ctx context.Context, taskID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM page_results WHERE task_id = $1`
	var count int
	err := r.db.QueryRowContext(ctx, query, taskID).Scan(&count)
	return count, err
}

// Repositories bundles all repositories together.
type Repositories struct {
	Documents   *DocumentRepository
	Tasks       *TaskRepository
	PageResults *PageResultRepository
}

// NewRepositories creates all repositories with the given database connection.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Documents:   NewDocumentRepository(db),
		Tasks:       NewTaskRepository(db),
		PageResults: NewPageResultRepository(db),
	}
}

// Store owns the database handle and hands out repositories, plain or
// transactional.
type Store struct {
	db *sql.DB
}

// NewStore creates a new store around an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Repos returns repositories bound to the raw connection.
func (s *Store) Repos() *Repositories {
	return NewRepositories(s.db)
}

// WithTx runs fn inside a single transaction. The transaction is rolled
// back when fn returns an error or panics, committed otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(*Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(NewRepositories(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
