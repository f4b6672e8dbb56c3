// Package storage defines the persistence contract for exam documents.
//
// A store keeps whole exam aggregates as versioned documents. Writers load
// a document with its version token, transform a clone, and put it back
// conditioned on the token; concurrent writers lose the race and see
// ErrVersionMismatch instead of clobbering each other.
package storage

import (
	"context"
	"errors"

	"github.com/invigil/invigil/internal/exam/domain"
)

var (
	// ErrNotFound indicates no exam exists under the given id.
	ErrNotFound = errors.New("exam not found")
	// ErrAlreadyExists indicates an exam with the given id already exists.
	ErrAlreadyExists = errors.New("exam already exists")
	// ErrVersionMismatch indicates the document changed since it was
	// loaded. The caller reloads and retries.
	ErrVersionMismatch = errors.New("exam version mismatch")
)

// ExamStore persists exam aggregates with optimistic concurrency control.
type ExamStore interface {
	// Create stores a new exam at version 1.
	Create(ctx context.Context, exam *domain.ExamAggregate) error
	// Get returns a deep copy of the exam and its current version token.
	Get(ctx context.Context, examID string) (*domain.ExamAggregate, int64, error)
	// Put replaces the exam only when expectedVersion still matches the
	// stored version, returning the new version on success and
	// ErrVersionMismatch when another writer got there first.
	Put(ctx context.Context, exam *domain.ExamAggregate, expectedVersion int64) (int64, error)
	// ListRunning returns the ids of every exam still in progress.
	ListRunning(ctx context.Context) ([]string, error)
	// Close releases the store's resources.
	Close() error
}
