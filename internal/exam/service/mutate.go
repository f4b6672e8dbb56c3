package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/invigil/invigil/internal/exam/domain"
	apperrors "github.com/invigil/invigil/internal/platform/errors"
	"github.com/invigil/invigil/internal/storage"
)

const (
	defaultMaxAttempts = 5
	defaultBackoffMin  = 10 * time.Millisecond
	defaultBackoffMax  = 50 * time.Millisecond
)

// mutate runs one optimistic write cycle: load the document with its
// version token, let transform work on the private copy, and commit it
// back conditioned on the token. Only a version conflict is retried, with
// randomized backoff so colliding writers spread out; domain errors abort
// immediately. When transform reports no change the commit is skipped
// entirely.
func (e *Engine) mutate(ctx context.Context, examID string, transform func(exam *domain.ExamAggregate) (bool, error)) (*domain.ExamAggregate, error) {
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			e.backoff(ctx)
		}

		exam, version, err := e.store.Get(ctx, examID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, examNotFoundError(examID)
			}
			return nil, fmt.Errorf("load exam: %w", err)
		}

		journalMark := exam.EventSeq
		changed, err := transform(exam)
		if err != nil {
			return nil, err
		}
		if !changed {
			return exam, nil
		}

		if _, err := e.store.Put(ctx, exam, version); err != nil {
			if errors.Is(err, storage.ErrVersionMismatch) {
				continue
			}
			if errors.Is(err, storage.ErrNotFound) {
				return nil, examNotFoundError(examID)
			}
			return nil, fmt.Errorf("store exam: %w", err)
		}

		e.broadcastAppended(ctx, exam, journalMark)
		return exam, nil
	}

	return nil, apperrors.WithMetadata(apperrors.CodeWriteContention,
		"exam is under heavy concurrent modification, try again",
		map[string]string{"ExamID": examID})
}

func (e *Engine) backoff(ctx context.Context) {
	spread := e.backoffMax - e.backoffMin
	wait := e.backoffMin
	if spread > 0 {
		wait += time.Duration(rand.Int64N(int64(spread)))
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// broadcastAppended notifies clients about every journal entry appended
// after journalMark during a committed mutation.
func (e *Engine) broadcastAppended(ctx context.Context, exam *domain.ExamAggregate, journalMark uint64) {
	for _, entry := range exam.Events {
		if entry.Seq <= journalMark {
			continue
		}
		e.broadcaster.Broadcast(ctx, Notification{
			Type:      NotificationType(entry.Type),
			ExamID:    exam.ID,
			RoomID:    entry.RoomID,
			StudentID: entry.StudentID,
			At:        entry.At,
		})
	}
}

func examNotFoundError(examID string) error {
	return apperrors.WithMetadata(apperrors.CodeExamNotFound,
		"exam not found", map[string]string{"ExamID": examID})
}
