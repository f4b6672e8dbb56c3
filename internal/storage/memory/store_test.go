package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/invigil/invigil/internal/exam/domain"
	"github.com/invigil/invigil/internal/storage"
)

var testStart = time.Date(2026, time.March, 12, 9, 0, 0, 0, time.UTC)

func newExam(t *testing.T) *domain.ExamAggregate {
	t.Helper()
	n := 0
	exam, err := domain.CreateExam(domain.CreateExamInput{
		Name:      "Chemistry Final",
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

func TestCreateAndGet(t *testing.T) {
	store := New()
	ctx := context.Background()
	exam := newExam(t)

	if err := store.Create(ctx, exam); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Create(ctx, exam); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("second Create() error = %v, want %v", err, storage.ErrAlreadyExists)
	}

	loaded, version, err := store.Get(ctx, exam.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
	if loaded.Name != exam.Name {
		t.Fatalf("Name = %q, want %q", loaded.Name, exam.Name)
	}

	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	store := New()
	ctx := context.Background()
	exam := newExam(t)
	if err := store.Create(ctx, exam); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	loaded, _, err := store.Get(ctx, exam.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	loaded.Records["ghost"] = domain.AttendanceRecord{StudentID: "ghost"}

	again, _, err := store.Get(ctx, exam.ID)
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if _, leaked := again.Records["ghost"]; leaked {
		t.Fatal("mutation of a loaded copy leaked into the store")
	}
}

func TestPutVersionGate(t *testing.T) {
	store := New()
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

	// A stale writer loses.
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
	store := New()
	ctx := context.Background()

	running := newExam(t)
	if err := store.Create(ctx, running); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	ended := newExam(t)
	ended.ID = "ended-exam"
	ended.Status = domain.ExamEnded
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
