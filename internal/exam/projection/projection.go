// Package projection builds role-scoped, read-only snapshots of an exam.
// A projection is derived from a cloned aggregate and is safe to hand to
// callers; mutating it never touches stored state.
package projection

import (
	"sort"
	"time"

	"github.com/invigil/invigil/internal/exam/alert"
	"github.com/invigil/invigil/internal/exam/domain"
	"github.com/invigil/invigil/internal/exam/event"
	apperrors "github.com/invigil/invigil/internal/platform/errors"
)

// recentEventLimit bounds how much of the journal a snapshot carries.
const recentEventLimit = 50

// StudentView is one student's row in a snapshot. Status carries the
// read-time moving overlay; StoredStatus is the value on the record.
type StudentView struct {
	StudentID     string                  `json:"student_id"`
	StudentNumber string                  `json:"student_number,omitempty"`
	Name          string                  `json:"name"`
	RoomID        string                  `json:"room_id"`
	Seat          string                  `json:"seat,omitempty"`
	Status        domain.AttendanceStatus `json:"status"`
	StoredStatus  domain.AttendanceStatus `json:"stored_status"`
	ArrivedAt     *time.Time              `json:"arrived_at,omitempty"`
	FinishedAt    *time.Time              `json:"finished_at,omitempty"`
	Violations    int                     `json:"violations,omitempty"`
	ExtraMinutes  int                     `json:"extra_minutes,omitempty"`
	TransferID    string                  `json:"transfer_id,omitempty"`
}

// RoomView is one classroom with its students.
type RoomView struct {
	ID            string        `json:"id"`
	Name          string        `json:"name,omitempty"`
	Capacity      int           `json:"capacity,omitempty"`
	CapacityKnown bool          `json:"capacity_known"`
	Occupied      int           `json:"occupied"`
	Students      []StudentView `json:"students"`
}

// View is a point-in-time snapshot scoped to one viewer.
type View struct {
	ExamID           string                   `json:"exam_id"`
	Name             string                   `json:"name"`
	Status           domain.ExamStatus        `json:"status"`
	StartedAt        time.Time                `json:"started_at"`
	EndsAt           time.Time                `json:"ends_at,omitempty"`
	GeneratedAt      time.Time                `json:"generated_at"`
	RemainingMinutes int                      `json:"remaining_minutes,omitempty"`
	Rooms            []RoomView               `json:"rooms"`
	Transfers        []domain.TransferRequest `json:"transfers,omitempty"`
	Events           []event.Event            `json:"events,omitempty"`
	Summary          domain.ExamSummary       `json:"summary,omitempty"`
	Alerts           []alert.Alert            `json:"alerts,omitempty"`
}

// Project builds the snapshot one viewer is allowed to see. Admins and
// lecturers see the whole exam; supervisors see only their room. A
// supervisor whose room cannot be resolved gets FORBIDDEN rather than a
// widened view.
func Project(exam *domain.ExamAggregate, viewer domain.Viewer, now time.Time) (View, error) {
	viewerRoom := ""
	if !viewer.Role.SeesWholeExam() {
		viewerRoom = exam.SupervisorRoom(viewer)
		if viewerRoom == "" {
			return View{}, apperrors.WithMetadata(apperrors.CodeForbidden,
				"supervisor has no room in this exam",
				map[string]string{"UserID": viewer.UserID})
		}
		if _, ok := exam.Room(viewerRoom); !ok {
			return View{}, apperrors.WithMetadata(apperrors.CodeForbidden,
				"supervisor room is not part of this exam",
				map[string]string{"UserID": viewer.UserID, "RoomID": viewerRoom})
		}
	}

	view := View{
		ExamID:      exam.ID,
		Name:        exam.Name,
		Status:      exam.Status,
		StartedAt:   exam.StartedAt,
		EndsAt:      exam.EndsAt,
		GeneratedAt: now,
	}
	if exam.Status == domain.ExamRunning && !exam.EndsAt.IsZero() {
		if remaining := exam.EndsAt.Sub(now); remaining > 0 {
			view.RemainingMinutes = int(remaining.Minutes())
		}
	}

	moving := movingStudents(exam, viewerRoom)

	for _, room := range exam.Rooms {
		if viewerRoom != "" && room.ID != viewerRoom {
			continue
		}
		view.Rooms = append(view.Rooms, projectRoom(exam, room, moving))
	}

	for _, request := range exam.PendingTransfers() {
		if viewerRoom != "" && request.FromRoomID != viewerRoom && request.ToRoomID != viewerRoom {
			continue
		}
		view.Transfers = append(view.Transfers, request)
	}
	sort.Slice(view.Transfers, func(i, j int) bool {
		return view.Transfers[i].CreatedAt.Before(view.Transfers[j].CreatedAt)
	})

	view.Events = recentEvents(exam, viewerRoom)
	if viewerRoom == "" {
		view.Summary = exam.Summary
	}
	return view, nil
}

// movingStudents returns the pending transfer id per student whose row
// should carry the moving overlay for this viewer. Supervisors see the
// overlay on transfers touching their room; whole-exam viewers see it on
// every pending transfer.
func movingStudents(exam *domain.ExamAggregate, viewerRoom string) map[string]string {
	out := map[string]string{}
	for _, request := range exam.PendingTransfers() {
		if viewerRoom != "" && request.FromRoomID != viewerRoom && request.ToRoomID != viewerRoom {
			continue
		}
		out[request.StudentID] = request.ID
	}
	return out
}

func projectRoom(exam *domain.ExamAggregate, room domain.Classroom, moving map[string]string) RoomView {
	capacity, known := room.Capacity()
	roomView := RoomView{
		ID:            room.ID,
		Name:          room.Name,
		Capacity:      capacity,
		CapacityKnown: known,
		Students:      []StudentView{},
	}

	for _, record := range exam.RecordsInRoom(room.ID) {
		student := StudentView{
			StudentID:     record.StudentID,
			StudentNumber: record.StudentNumber,
			Name:          record.DisplayName(),
			RoomID:        record.RoomID,
			Seat:          record.Seat,
			Status:        record.Status,
			StoredStatus:  record.Status,
			ArrivedAt:     record.ArrivedAt,
			FinishedAt:    record.FinishedAt,
			Violations:    record.Violations,
			ExtraMinutes:  record.ExtraMinutes,
		}
		if transferID, ok := moving[record.StudentID]; ok && overlayable(record.Status) {
			student.Status = domain.StatusMoving
			student.TransferID = transferID
		}
		if record.OccupiesSeat() {
			roomView.Occupied++
		}
		roomView.Students = append(roomView.Students, student)
	}

	sort.Slice(roomView.Students, func(i, j int) bool {
		a, b := roomView.Students[i], roomView.Students[j]
		if a.Seat != b.Seat {
			return a.Seat < b.Seat
		}
		return a.StudentID < b.StudentID
	})
	return roomView
}

// overlayable reports whether the moving overlay may shadow a stored
// status. Terminal states stay visible as they are.
func overlayable(status domain.AttendanceStatus) bool {
	return status != domain.StatusAbsent && status != domain.StatusFinished
}

func recentEvents(exam *domain.ExamAggregate, viewerRoom string) []event.Event {
	var out []event.Event
	for i := len(exam.Events) - 1; i >= 0 && len(out) < recentEventLimit; i-- {
		entry := exam.Events[i]
		if viewerRoom != "" && entry.RoomID != "" && entry.RoomID != viewerRoom {
			continue
		}
		out = append(out, entry)
	}
	// Oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
