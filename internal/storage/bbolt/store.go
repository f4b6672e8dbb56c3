// Package bbolt provides a BoltDB-backed exam store.
//
// Each exam is one envelope value holding the version token next to the
// JSON document. Put swaps the envelope inside a single update
// transaction, so the version comparison and the write are atomic.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/invigil/invigil/internal/exam/domain"
	"github.com/invigil/invigil/internal/storage"
)

const examBucket = "exam"

// Store provides a BoltDB-backed exam store.
type Store struct {
	db *bbolt.DB
}

type envelope struct {
	Version  int64           `json:"version"`
	Status   string          `json:"status"`
	Document json.RawMessage `json:"document"`
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(examBucket))
		if err != nil {
			return fmt.Errorf("create exam bucket: %w", err)
		}
		return nil
	})
}

// Create stores a new exam at version 1.
func (s *Store) Create(ctx context.Context, exam *domain.ExamAggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}

	payload, err := marshalEnvelope(exam, 1)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(examBucket))
		if bucket == nil {
			return fmt.Errorf("exam bucket is missing")
		}
		if bucket.Get([]byte(exam.ID)) != nil {
			return storage.ErrAlreadyExists
		}
		return bucket.Put([]byte(exam.ID), payload)
	})
}

// Get fetches an exam document and its version token.
func (s *Store) Get(ctx context.Context, examID string) (*domain.ExamAggregate, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if s == nil || s.db == nil {
		return nil, 0, fmt.Errorf("storage is not configured")
	}

	var exam domain.ExamAggregate
	var version int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(examBucket))
		if bucket == nil {
			return fmt.Errorf("exam bucket is missing")
		}
		payload := bucket.Get([]byte(examID))
		if payload == nil {
			return storage.ErrNotFound
		}
		var stored envelope
		if err := json.Unmarshal(payload, &stored); err != nil {
			return fmt.Errorf("unmarshal envelope: %w", err)
		}
		if err := json.Unmarshal(stored.Document, &exam); err != nil {
			return fmt.Errorf("unmarshal exam: %w", err)
		}
		version = stored.Version
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &exam, version, nil
}

// Put replaces the document only when the stored version still matches.
func (s *Store) Put(ctx context.Context, exam *domain.ExamAggregate, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	payload, err := marshalEnvelope(exam, expectedVersion+1)
	if err != nil {
		return 0, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(examBucket))
		if bucket == nil {
			return fmt.Errorf("exam bucket is missing")
		}
		current := bucket.Get([]byte(exam.ID))
		if current == nil {
			return storage.ErrNotFound
		}
		var stored envelope
		if err := json.Unmarshal(current, &stored); err != nil {
			return fmt.Errorf("unmarshal envelope: %w", err)
		}
		if stored.Version != expectedVersion {
			return storage.ErrVersionMismatch
		}
		return bucket.Put([]byte(exam.ID), payload)
	})
	if err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}

// ListRunning returns the ids of exams still in progress.
func (s *Store) ListRunning(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(examBucket))
		if bucket == nil {
			return fmt.Errorf("exam bucket is missing")
		}
		return bucket.ForEach(func(key, value []byte) error {
			var stored envelope
			if err := json.Unmarshal(value, &stored); err != nil {
				return fmt.Errorf("unmarshal envelope %s: %w", key, err)
			}
			if stored.Status == string(domain.ExamRunning) {
				ids = append(ids, string(key))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func marshalEnvelope(exam *domain.ExamAggregate, version int64) ([]byte, error) {
	document, err := json.Marshal(exam)
	if err != nil {
		return nil, fmt.Errorf("marshal exam: %w", err)
	}
	payload, err := json.Marshal(envelope{
		Version:  version,
		Status:   string(exam.Status),
		Document: document,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return payload, nil
}
