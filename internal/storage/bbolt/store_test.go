package bbolt

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/invigil/invigil/internal/exam/domain"
	"github.com/invigil/invigil/internal/exam/event"
	"github.com/invigil/invigil/internal/storage"
)

var testStart = time.Date(2026, time.March, 12, 9, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "exams.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newExam(t *testing.T) *domain.ExamAggregate {
	t.Helper()
	n := 0
	exam, err := domain.CreateExam(domain.CreateExamInput{
		Name:      "Statistics Final",
		StartedAt: testStart,
		EndsAt:    testStart.Add(2 * time.Hour),
		Rooms:     []domain.Classroom{{ID: "a101", Rows: 2, Cols: 2}},
	}, func() time.Time { return testStart }, func() (string, error) {
		n++
		return fmt.Sprintf("id-%03d", n), nil
	})
	if err != nil {
		t.Fatalf("CreateExam() error = %v", err)
	}
	return exam
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("Open() expected error for empty path")
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	exam := newExam(t)

	if err := store.Create(ctx, exam); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, exam); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate Create() error = %v, want %v", err, storage.ErrAlreadyExists)
	}

	loaded, version, err := store.Get(ctx, exam.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
	if loaded.Name != exam.Name || loaded.EventSeq != exam.EventSeq {
		t.Fatalf("loaded = %q seq %d, want %q seq %d", loaded.Name, loaded.EventSeq, exam.Name, exam.EventSeq)
	}

	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestPutVersionGate(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	exam := newExam(t)
	if err := store.Create(ctx, exam); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	loaded, version, err := store.Get(ctx, exam.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	newVersion, err := store.Put(ctx, loaded, version)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if newVersion != version+1 {
		t.Fatalf("new version = %d, want %d", newVersion, version+1)
	}

	if _, err := store.Put(ctx, loaded, version); !errors.Is(err, storage.ErrVersionMismatch) {
		t.Fatalf("stale Put() error = %v, want %v", err, storage.ErrVersionMismatch)
	}

	ghost := newExam(t)
	ghost.ID = "ghost"
	if _, err := store.Put(ctx, ghost, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Put(unknown) error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestListRunning(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	running := newExam(t)
	if err := store.Create(ctx, running); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ended := newExam(t)
	ended.ID = "ended-exam"
	if err := ended.End(event.Actor{ID: "u1", Role: "admin"}, testStart.Add(2*time.Hour), nil); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := store.Create(ctx, ended); err != nil {
		t.Fatalf("Create(ended) error = %v", err)
	}

	ids, err := store.ListRunning(ctx)
	if err != nil {
		t.Fatalf("ListRunning() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != running.ID {
		t.Fatalf("ListRunning() = %v, want [%s]", ids, running.ID)
	}
}
