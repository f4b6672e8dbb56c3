package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/invigil/invigil/internal/exam/domain"
	"github.com/invigil/invigil/internal/exam/event"
	apperrors "github.com/invigil/invigil/internal/platform/errors"
	"github.com/invigil/invigil/internal/storage"
	"github.com/invigil/invigil/internal/storage/memory"
)

var testStart = time.Date(2026, time.March, 12, 9, 0, 0, 0, time.UTC)

var (
	lecturer   = Actor{UserID: "u-lect", Name: "Dr. Turing", Role: "lecturer"}
	admin      = Actor{UserID: "u-adm", Name: "Registrar", Role: "admin"}
	supervisor = Actor{UserID: "u-sup", Name: "Proctor", Role: "supervisor"}
)

type recordingBroadcaster struct {
	mu            sync.Mutex
	notifications []Notification
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, notification Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, notification)
}

func (b *recordingBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, n := range b.notifications {
		out = append(out, n.Type)
	}
	return out
}

func (b *recordingBroadcaster) count(notificationType string) int {
	total := 0
	for _, got := range b.types() {
		if got == notificationType {
			total++
		}
	}
	return total
}

func newTestEngine(t *testing.T) (*Engine, *recordingBroadcaster) {
	t.Helper()
	broadcaster := &recordingBroadcaster{}
	engine, err := NewEngine(memory.New(), Options{
		Broadcaster:     broadcaster,
		Now:             func() time.Time { return testStart },
		RetryBackoffMin: time.Millisecond,
		RetryBackoffMax: 2 * time.Millisecond,
		MaxAttempts:     50,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine, broadcaster
}

func createExam(t *testing.T, engine *Engine, rooms ...domain.Classroom) string {
	t.Helper()
	if len(rooms) == 0 {
		rooms = []domain.Classroom{
			{ID: "a101", Name: "A101", Rows: 2, Cols: 2},
			{ID: "b202", Name: "B202", Seats: []string{"B1"}},
		}
	}
	exam, err := engine.CreateExam(context.Background(), lecturer, domain.CreateExamInput{
		Name:        "Algorithms Final",
		StartedAt:   testStart,
		EndsAt:      testStart.Add(2 * time.Hour),
		Rooms:       rooms,
		Supervisors: []domain.SupervisorAssignment{{UserID: supervisor.UserID, RoomID: "a101"}},
	})
	if err != nil {
		t.Fatalf("CreateExam() error = %v", err)
	}
	return exam.ID
}

func mustAddStudent(t *testing.T, engine *Engine, examID, studentID, roomID string) domain.AttendanceRecord {
	t.Helper()
	record, err := engine.AddStudent(context.Background(), lecturer, examID, domain.AddStudentInput{
		StudentID: studentID, FirstName: "Student", LastName: studentID, RoomID: roomID,
	})
	if err != nil {
		t.Fatalf("AddStudent(%s) error = %v", studentID, err)
	}
	return record
}

func TestCreateExamRoleGate(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	input := domain.CreateExamInput{
		Name:  "Exam",
		Rooms: []domain.Classroom{{ID: "a101", Rows: 1, Cols: 1}},
	}

	if _, err := engine.CreateExam(ctx, supervisor, input); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("supervisor create error = %v, want %s", err, apperrors.CodeForbidden)
	}
	if _, err := engine.CreateExam(ctx, Actor{UserID: "x", Role: "janitor"}, input); !apperrors.IsCode(err, apperrors.CodeInvalidRole) {
		t.Fatalf("unknown role error = %v, want %s", err, apperrors.CodeInvalidRole)
	}
	if _, err := engine.CreateExam(ctx, admin, input); err != nil {
		t.Fatalf("admin create error = %v", err)
	}
}

func TestUnknownExam(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.AddStudent(context.Background(), lecturer, "ghost", domain.AddStudentInput{
		StudentID: "s1", FirstName: "A", LastName: "B", RoomID: "a101",
	})
	if !apperrors.IsCode(err, apperrors.CodeExamNotFound) {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeExamNotFound)
	}
	_, err = engine.GetSnapshot(context.Background(), lecturer, "ghost")
	if !apperrors.IsCode(err, apperrors.CodeExamNotFound) {
		t.Fatalf("snapshot error = %v, want %s", err, apperrors.CodeExamNotFound)
	}
}

func TestConcurrentAddStudentsAllLandOnDistinctSeats(t *testing.T) {
	engine, _ := newTestEngine(t)
	examID := createExam(t, engine, domain.Classroom{ID: "hall", Rows: 3, Cols: 3})
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.AddStudent(ctx, lecturer, examID, domain.AddStudentInput{
				StudentID: fmt.Sprintf("s%d", i),
				FirstName: "Student",
				LastName:  fmt.Sprintf("%d", i),
				RoomID:    "hall",
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d error = %v", i, err)
		}
	}

	view, err := engine.GetSnapshot(ctx, lecturer, examID)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if len(view.Rooms) != 1 || len(view.Rooms[0].Students) != writers {
		t.Fatalf("students = %d, want %d", len(view.Rooms[0].Students), writers)
	}
	seats := map[string]string{}
	for _, student := range view.Rooms[0].Students {
		if student.Seat == "" {
			t.Fatalf("student %s has no seat", student.StudentID)
		}
		if holder, taken := seats[student.Seat]; taken {
			t.Fatalf("seat %s assigned to both %s and %s", student.Seat, holder, student.StudentID)
		}
		seats[student.Seat] = student.StudentID
	}
}

type contentiousStore struct {
	storage.ExamStore
}

func (s *contentiousStore) Put(context.Context, *domain.ExamAggregate, int64) (int64, error) {
	return 0, storage.ErrVersionMismatch
}

func TestWriteContentionAfterExhaustedRetries(t *testing.T) {
	base := memory.New()
	engine, err := NewEngine(base, Options{
		Now:             func() time.Time { return testStart },
		MaxAttempts:     3,
		RetryBackoffMin: time.Millisecond,
		RetryBackoffMax: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	examID := createExam(t, engine)

	engine.store = &contentiousStore{ExamStore: base}
	_, err = engine.AddStudent(context.Background(), lecturer, examID, domain.AddStudentInput{
		StudentID: "s1", FirstName: "A", LastName: "B", RoomID: "a101",
	})
	if !apperrors.IsCode(err, apperrors.CodeWriteContention) {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeWriteContention)
	}
}

func TestDomainErrorsAreNotRetried(t *testing.T) {
	engine, _ := newTestEngine(t)
	examID := createExam(t, engine)
	mustAddStudent(t, engine, examID, "s1", "a101")

	_, err := engine.SetAttendanceStatus(context.Background(), lecturer, examID, "s1", "finished")
	if !apperrors.IsCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeInvalidTransition)
	}

	// The rejected mutation must not have committed anything.
	view, err := engine.GetSnapshot(context.Background(), lecturer, examID)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	for _, student := range view.Rooms[0].Students {
		if student.StudentID == "s1" && student.Status != domain.StatusNotArrived {
			t.Fatalf("status = %v, want unchanged %v", student.Status, domain.StatusNotArrived)
		}
	}
}

func TestSupervisorRoomGate(t *testing.T) {
	engine, _ := newTestEngine(t)
	examID := createExam(t, engine)
	mustAddStudent(t, engine, examID, "s-a", "a101")
	mustAddStudent(t, engine, examID, "s-b", "b202")
	ctx := context.Background()

	// Own room: allowed.
	if _, err := engine.SetAttendanceStatus(ctx, supervisor, examID, "s-a", "present"); err != nil {
		t.Fatalf("own-room mutation error = %v", err)
	}

	// Other room: forbidden.
	_, err := engine.SetAttendanceStatus(ctx, supervisor, examID, "s-b", "present")
	if !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("cross-room mutation error = %v, want %s", err, apperrors.CodeForbidden)
	}

	// Unassigned supervisor: forbidden everywhere.
	stranger := Actor{UserID: "u-stranger", Role: "supervisor"}
	_, err = engine.SetAttendanceStatus(ctx, stranger, examID, "s-a", "temp_out")
	if !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("unassigned supervisor error = %v, want %s", err, apperrors.CodeForbidden)
	}
}

func TestTransferApprovalInvariant(t *testing.T) {
	engine, _ := newTestEngine(t)
	examID := createExam(t, engine)
	mustAddStudent(t, engine, examID, "s1", "a101")
	ctx := context.Background()

	request, err := engine.RequestTransfer(ctx, supervisor, examID, domain.RequestTransferInput{
		StudentID: "s1", ToRoomID: "b202",
	})
	if err != nil {
		t.Fatalf("RequestTransfer() error = %v", err)
	}

	// Supervisors cannot decide transfers.
	if _, err := engine.ApproveTransfer(ctx, supervisor, examID, request.ID); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("supervisor approve error = %v, want %s", err, apperrors.CodeForbidden)
	}

	approved, err := engine.ApproveTransfer(ctx, lecturer, examID, request.ID)
	if err != nil {
		t.Fatalf("ApproveTransfer() error = %v", err)
	}
	if approved.Status != domain.TransferApproved {
		t.Fatalf("status = %v, want %v", approved.Status, domain.TransferApproved)
	}

	view, err := engine.GetSnapshot(ctx, lecturer, examID)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	var moved bool
	for _, room := range view.Rooms {
		for _, student := range room.Students {
			if student.StudentID != "s1" {
				continue
			}
			moved = true
			if student.RoomID != "b202" || student.Seat != "B1" {
				t.Fatalf("student = %s/%s, want b202/B1", student.RoomID, student.Seat)
			}
			if student.Status == domain.StatusMoving {
				t.Fatal("moving overlay must clear after approval")
			}
		}
	}
	if !moved {
		t.Fatal("student s1 missing from snapshot")
	}
}

func TestApproveTransferRoomFullCommitsAndErrors(t *testing.T) {
	engine, broadcaster := newTestEngine(t)
	examID := createExam(t, engine)
	mustAddStudent(t, engine, examID, "s1", "a101")
	mustAddStudent(t, engine, examID, "s2", "b202")
	ctx := context.Background()

	request, err := engine.RequestTransfer(ctx, lecturer, examID, domain.RequestTransferInput{
		StudentID: "s1", ToRoomID: "b202",
	})
	if err != nil {
		t.Fatalf("RequestTransfer() error = %v", err)
	}

	blocked, err := engine.ApproveTransfer(ctx, lecturer, examID, request.ID)
	if !apperrors.IsCode(err, apperrors.CodeRoomFull) {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeRoomFull)
	}
	if blocked.Status != domain.TransferPending || blocked.LastError != domain.TransferErrorRoomFull {
		t.Fatalf("request = %+v, want pending with ROOM_FULL tag", blocked)
	}

	// The failed approval still committed: the tag is visible on reload
	// and the room-full event was broadcast.
	view, err := engine.GetSnapshot(ctx, lecturer, examID)
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if len(view.Transfers) != 1 || view.Transfers[0].LastError != domain.TransferErrorRoomFull {
		t.Fatalf("transfers = %+v, want persisted ROOM_FULL tag", view.Transfers)
	}
	if broadcaster.count("TRANSFER_ROOM_FULL") != 1 {
		t.Fatalf("TRANSFER_ROOM_FULL broadcasts = %d, want 1", broadcaster.count("TRANSFER_ROOM_FULL"))
	}

	// The student still shows as moving while the request stays open.
	for _, student := range view.Rooms[0].Students {
		if student.StudentID == "s1" && student.Status != domain.StatusMoving {
			t.Fatalf("status = %v, want %v while pending", student.Status, domain.StatusMoving)
		}
	}
}

func TestAcknowledgeCallLecturerIsIdempotent(t *testing.T) {
	engine, broadcaster := newTestEngine(t)
	examID := createExam(t, engine)
	mustAddStudent(t, engine, examID, "s1", "a101")
	ctx := context.Background()

	if _, err := engine.LogIncident(ctx, supervisor, examID, domain.LogIncidentInput{
		StudentID:     "s1",
		Kind:          domain.IncidentKindCallLecturer,
		Note:          "please come to A101",
		CorrelationID: "call-1",
	}); err != nil {
		t.Fatalf("LogIncident(call) error = %v", err)
	}

	ack := domain.LogIncidentInput{Kind: domain.IncidentKindCallLecturerSeen, CorrelationID: "call-1"}
	first, err := engine.LogIncident(ctx, lecturer, examID, ack)
	if err != nil {
		t.Fatalf("first acknowledge error = %v", err)
	}
	if !first.SeenByLecturer {
		t.Fatal("first acknowledge should mark the entry seen")
	}

	// Repeat acknowledgement: success, no second commit, no second
	// notification.
	if _, err := engine.LogIncident(ctx, lecturer, examID, ack); err != nil {
		t.Fatalf("repeat acknowledge error = %v", err)
	}
	if got := broadcaster.count("CALL_LECTURER_SEEN"); got != 1 {
		t.Fatalf("CALL_LECTURER_SEEN broadcasts = %d, want 1", got)
	}
}

func TestToiletRoundTripAccumulates(t *testing.T) {
	clock := testStart
	engine, err := NewEngine(memory.New(), Options{
		Now: func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	examID := createExam(t, engine)
	mustAddStudent(t, engine, examID, "s1", "a101")
	ctx := context.Background()

	if _, err := engine.SetAttendanceStatus(ctx, supervisor, examID, "s1", "present"); err != nil {
		t.Fatalf("present error = %v", err)
	}
	clock = clock.Add(30 * time.Minute)
	if _, err := engine.SetAttendanceStatus(ctx, supervisor, examID, "s1", "temp_out"); err != nil {
		t.Fatalf("temp_out error = %v", err)
	}
	clock = clock.Add(7 * time.Minute)
	if _, err := engine.SetAttendanceStatus(ctx, supervisor, examID, "s1", "present"); err != nil {
		t.Fatalf("return error = %v", err)
	}

	exam, _, err := engine.store.Get(ctx, examID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	file := exam.Files["s1"]
	if file.ToiletCount != 1 {
		t.Fatalf("ToiletCount = %d, want 1", file.ToiletCount)
	}
	if want := (7 * time.Minute).Milliseconds(); file.TotalToiletMs != want {
		t.Fatalf("TotalToiletMs = %d, want %d", file.TotalToiletMs, want)
	}
	if file.ActiveToilet != nil {
		t.Fatal("ActiveToilet should be closed")
	}
}

func TestSnapshotScopesAndAlerts(t *testing.T) {
	clock := testStart
	engine, err := NewEngine(memory.New(), Options{
		Now:             func() time.Time { return clock },
		ToiletThreshold: 5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	examID := createExam(t, engine)
	mustAddStudent(t, engine, examID, "s1", "a101")
	mustAddStudent(t, engine, examID, "s2", "b202")
	ctx := context.Background()

	if _, err := engine.SetAttendanceStatus(ctx, supervisor, examID, "s1", "present"); err != nil {
		t.Fatalf("present error = %v", err)
	}
	if _, err := engine.SetAttendanceStatus(ctx, supervisor, examID, "s1", "temp_out"); err != nil {
		t.Fatalf("temp_out error = %v", err)
	}
	clock = clock.Add(6 * time.Minute)

	view, err := engine.GetSnapshot(ctx, supervisor, examID)
	if err != nil {
		t.Fatalf("supervisor snapshot error = %v", err)
	}
	if len(view.Rooms) != 1 || view.Rooms[0].ID != "a101" {
		t.Fatalf("rooms = %+v, want only a101", view.Rooms)
	}
	found := false
	for _, got := range view.Alerts {
		if got.Type == "TOILET_LONG" && got.StudentID == "s1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("alerts = %+v, want TOILET_LONG for s1", view.Alerts)
	}

	if _, err := engine.GetSnapshot(ctx, Actor{UserID: "nobody", Role: "supervisor"}, examID); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("unassigned snapshot error = %v, want %s", err, apperrors.CodeForbidden)
	}
}

func TestEndExamStopsMutations(t *testing.T) {
	engine, _ := newTestEngine(t)
	examID := createExam(t, engine)
	mustAddStudent(t, engine, examID, "s1", "a101")
	ctx := context.Background()

	if err := engine.EndExam(ctx, supervisor, examID); !apperrors.IsCode(err, apperrors.CodeForbidden) {
		t.Fatalf("supervisor end error = %v, want %s", err, apperrors.CodeForbidden)
	}
	if err := engine.EndExam(ctx, lecturer, examID); err != nil {
		t.Fatalf("EndExam() error = %v", err)
	}

	_, err := engine.AddStudent(ctx, lecturer, examID, domain.AddStudentInput{
		StudentID: "late", FirstName: "Too", LastName: "Late", RoomID: "a101",
	})
	if !apperrors.IsCode(err, apperrors.CodeExamEnded) {
		t.Fatalf("post-end mutation error = %v, want %s", err, apperrors.CodeExamEnded)
	}

	view, err := engine.GetSnapshot(ctx, lecturer, examID)
	if err != nil {
		t.Fatalf("snapshot after end error = %v", err)
	}
	if view.Status != domain.ExamEnded {
		t.Fatalf("status = %v, want %v", view.Status, domain.ExamEnded)
	}
}

func TestBroadcastsFollowCommits(t *testing.T) {
	engine, broadcaster := newTestEngine(t)
	examID := createExam(t, engine)
	mustAddStudent(t, engine, examID, "s1", "a101")

	if got := broadcaster.count("EXAM_CREATED"); got != 1 {
		t.Fatalf("EXAM_CREATED broadcasts = %d, want 1", got)
	}
	if got := broadcaster.count("STUDENT_ADDED"); got != 1 {
		t.Fatalf("STUDENT_ADDED broadcasts = %d, want 1", got)
	}

	// A rejected mutation broadcasts nothing.
	before := len(broadcaster.types())
	if _, err := engine.SetAttendanceStatus(context.Background(), lecturer, examID, "s1", "finished"); err == nil {
		t.Fatal("expected invalid transition")
	}
	if after := len(broadcaster.types()); after != before {
		t.Fatalf("broadcasts grew from %d to %d on a failed mutation", before, after)
	}
}

func TestNotificationType(t *testing.T) {
	cases := []struct {
		eventType event.Type
		want      string
	}{
		{event.TypeStudentAdded, "STUDENT_ADDED"},
		{event.TypeStatusChanged, "STATUS_CHANGED"},
		{event.TypeTransferRoomFull, "TRANSFER_ROOM_FULL"},
		{event.TypeCallLecturer, "CALL_LECTURER"},
		{event.TypeTimeRemaining, "TIME_REMAINING"},
		{event.TypeExamEnded, "EXAM_ENDED"},
	}
	for _, tc := range cases {
		if got := NotificationType(tc.eventType); got != tc.want {
			t.Errorf("NotificationType(%s) = %q, want %q", tc.eventType, got, tc.want)
		}
	}
}
