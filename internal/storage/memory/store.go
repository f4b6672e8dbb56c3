// Package memory provides an in-memory exam store for tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/invigil/invigil/internal/exam/domain"
	"github.com/invigil/invigil/internal/storage"
)

type entry struct {
	exam    *domain.ExamAggregate
	version int64
}

// Store keeps exam documents in a map guarded by a mutex. Documents are
// cloned on every boundary crossing so callers never share state with the
// store.
type Store struct {
	mu    sync.RWMutex
	exams map[string]entry
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{exams: map[string]entry{}}
}

// Create stores a new exam at version 1.
func (s *Store) Create(ctx context.Context, exam *domain.ExamAggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.exams[exam.ID]; exists {
		return storage.ErrAlreadyExists
	}
	s.exams[exam.ID] = entry{exam: exam.Clone(), version: 1}
	return nil
}

// Get returns a deep copy of the exam and its version token.
func (s *Store) Get(ctx context.Context, examID string) (*domain.ExamAggregate, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.exams[examID]
	if !ok {
		return nil, 0, storage.ErrNotFound
	}
	return stored.exam.Clone(), stored.version, nil
}

// Put replaces the exam when expectedVersion still matches.
func (s *Store) Put(ctx context.Context, exam *domain.ExamAggregate, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.exams[exam.ID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	if stored.version != expectedVersion {
		return 0, storage.ErrVersionMismatch
	}
	next := entry{exam: exam.Clone(), version: expectedVersion + 1}
	s.exams[exam.ID] = next
	return next.version, nil
}

// ListRunning returns the ids of exams still in progress.
func (s *Store) ListRunning(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, stored := range s.exams {
		if stored.exam.Status == domain.ExamRunning {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
