// Package storage provides database models and repositories for the OCR engine.
package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a processing task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// ErrInvalidTransition is returned when a status change violates the
// allowed-transition table.
var ErrInvalidTransition = errors.New("invalid task status transition")

// taskTransitions is the closed allowed-transition table. Terminal states
// have no outgoing edges; there is no way back to pending or processing.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusProcessing, TaskStatusFailed},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusFailed},
	TaskStatusCompleted:  {},
	TaskStatusFailed:     {},
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	_, ok := taskTransitions[s]
	return ok
}

// Terminal reports whether s permits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether the transition s -> next is allowed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Document represents an uploaded source document. TotalPages stays nil
// until the aggregator finalizes the task.
type Document struct {
	ID         uuid.UUID
	Filename   string
	StorageKey string
	MediaType  string
	TotalPages *int
	UploadedAt time.Time
}

// Task tracks the processing lifecycle of one document. Exactly one task
// exists per document.
type Task struct {
	ID           uuid.UUID
	DocumentID   uuid.UUID
	Status       TaskStatus
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PageResult is the persisted record of one successfully processed page.
// Rows are created only by the aggregator, only when every page of the
// task succeeded.
type PageResult struct {
	ID         uuid.UUID
	TaskID     uuid.UUID
	DocumentID uuid.UUID
	PageNumber int
	ResultKey  string
	CreatedAt  time.Time
}
