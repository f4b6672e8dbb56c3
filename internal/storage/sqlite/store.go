// Package sqlite provides a SQLite-backed exam store.
//
// Each exam is one JSON document row with a version column. Put updates
// the row conditioned on the loaded version; a zero-row update means
// another writer committed first.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/invigil/invigil/internal/exam/domain"
	sqlitemigrate "github.com/invigil/invigil/internal/platform/storage/sqlitemigrate"
	"github.com/invigil/invigil/internal/storage"
	"github.com/invigil/invigil/internal/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists exam documents in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite exam store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create inserts a new exam document at version 1.
func (s *Store) Create(ctx context.Context, exam *domain.ExamAggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	document, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal exam: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO exams (id, status, version, document, updated_at)
VALUES (?, ?, 1, ?, ?)
`, exam.ID, string(exam.Status), string(document), toMillis(exam.UpdatedAt))
	if err != nil {
		if isUniqueConstraint(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert exam: %w", err)
	}
	return nil
}

// Get loads the exam document and its version token.
func (s *Store) Get(ctx context.Context, examID string) (*domain.ExamAggregate, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, 0, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT version, document FROM exams WHERE id = ?
`, examID)

	var version int64
	var document string
	if err := row.Scan(&version, &document); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, storage.ErrNotFound
		}
		return nil, 0, fmt.Errorf("load exam: %w", err)
	}

	var exam domain.ExamAggregate
	if err := json.Unmarshal([]byte(document), &exam); err != nil {
		return nil, 0, fmt.Errorf("unmarshal exam: %w", err)
	}
	return &exam, version, nil
}

// Put replaces the document only when the stored version still matches.
func (s *Store) Put(ctx context.Context, exam *domain.ExamAggregate, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	document, err := json.Marshal(exam)
	if err != nil {
		return 0, fmt.Errorf("marshal exam: %w", err)
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE exams
SET status = ?, version = version + 1, document = ?, updated_at = ?
WHERE id = ? AND version = ?
`, string(exam.Status), string(document), toMillis(exam.UpdatedAt), exam.ID, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update exam: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update exam result: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or another writer bumped the version.
		row := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM exams WHERE id = ?`, exam.ID)
		var exists int
		if scanErr := row.Scan(&exists); scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				return 0, storage.ErrNotFound
			}
			return 0, fmt.Errorf("check exam: %w", scanErr)
		}
		return 0, storage.ErrVersionMismatch
	}
	return expectedVersion + 1, nil
}

// ListRunning returns the ids of exams still in progress.
func (s *Store) ListRunning(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id FROM exams WHERE status = ? ORDER BY updated_at
`, string(domain.ExamRunning))
	if err != nil {
		return nil, fmt.Errorf("list running exams: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan exam id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return ids, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func isUniqueConstraint(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
