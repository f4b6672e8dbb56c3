package domain

import (
	"time"

	"github.com/invigil/invigil/internal/exam/event"
)

// ExamStatus is the lifecycle state of the aggregate itself.
type ExamStatus string

const (
	// ExamRunning means the exam accepts mutations.
	ExamRunning ExamStatus = "running"
	// ExamEnded means the aggregate is retired: still readable, no
	// further mutation.
	ExamEnded ExamStatus = "ended"
)

// DefaultEventCap bounds the journal when no explicit cap is configured.
const DefaultEventCap = 500

// SupervisorAssignment binds a supervisor to a room on the exam's roster.
type SupervisorAssignment struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

// ExamSummary holds exam-level incident counters.
type ExamSummary struct {
	Incidents  int                        `json:"incidents"`
	BySeverity map[event.Severity]int     `json:"by_severity,omitempty"`
}

// ExamAggregate is the single logical document for one running exam. It is
// read and written as one unit; every mutation is a transformation of a
// whole aggregate value guarded by an optimistic version token held by the
// store.
type ExamAggregate struct {
	ID          string                      `json:"id"`
	Name        string                      `json:"name"`
	Status      ExamStatus                  `json:"status"`
	StartedAt   time.Time                   `json:"started_at"`
	EndsAt      time.Time                   `json:"ends_at"`
	Rooms       []Classroom                 `json:"rooms"`
	Supervisors []SupervisorAssignment      `json:"supervisors,omitempty"`
	Records     map[string]AttendanceRecord `json:"records"`
	Transfers   map[string]TransferRequest  `json:"transfers,omitempty"`
	Events      []event.Event               `json:"events,omitempty"`
	Files       map[string]StudentFile      `json:"files"`
	Summary     ExamSummary                 `json:"summary"`
	// FiredAlerts guards time-remaining alerts: one boolean per threshold
	// key, flipped under the same compare-and-swap as every other
	// mutation so concurrent sweepers cannot double-fire.
	FiredAlerts map[string]bool `json:"fired_alerts,omitempty"`
	// EventSeq is the next journal sequence number. It survives journal
	// trimming.
	EventSeq uint64 `json:"event_seq"`
	// EventCap bounds the journal length; oldest entries drop first.
	EventCap  int       `json:"event_cap,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Room returns the classroom with the given id.
func (e *ExamAggregate) Room(roomID string) (Classroom, bool) {
	for _, room := range e.Rooms {
		if room.ID == roomID {
			return room, true
		}
	}
	return Classroom{}, false
}

// RecordsInRoom returns the attendance records currently assigned to a room.
func (e *ExamAggregate) RecordsInRoom(roomID string) []AttendanceRecord {
	var out []AttendanceRecord
	for _, rec := range e.Records {
		if rec.RoomID == roomID {
			out = append(out, rec)
		}
	}
	return out
}

// OccupiedSeats returns the normalized-comparable seat ids taken in a room.
func (e *ExamAggregate) OccupiedSeats(roomID string) []string {
	var out []string
	for _, rec := range e.Records {
		if rec.RoomID == roomID && rec.OccupiesSeat() {
			out = append(out, rec.Seat)
		}
	}
	return out
}

// PendingTransferFor returns the student's open transfer request, if any.
func (e *ExamAggregate) PendingTransferFor(studentID string) (TransferRequest, bool) {
	for _, req := range e.Transfers {
		if req.StudentID == studentID && req.Status == TransferPending {
			return req, true
		}
	}
	return TransferRequest{}, false
}

// PendingTransfers returns every open transfer request.
func (e *ExamAggregate) PendingTransfers() []TransferRequest {
	var out []TransferRequest
	for _, req := range e.Transfers {
		if req.Status == TransferPending {
			out = append(out, req)
		}
	}
	return out
}

// SupervisorRoom resolves a supervisor's room for this exam: explicit
// viewer assignment first, then the exam's supervisor roster, then the
// classroom's assigned supervisor. Returns "" when nothing matches.
func (e *ExamAggregate) SupervisorRoom(viewer Viewer) string {
	if viewer.RoomID != "" {
		return viewer.RoomID
	}
	for _, assignment := range e.Supervisors {
		if assignment.UserID == viewer.UserID {
			return assignment.RoomID
		}
	}
	for _, room := range e.Rooms {
		if room.SupervisorID != "" && room.SupervisorID == viewer.UserID {
			return room.ID
		}
	}
	return ""
}

// eventCap resolves the journal bound for this aggregate.
func (e *ExamAggregate) eventCap() int {
	if e.EventCap > 0 {
		return e.EventCap
	}
	return DefaultEventCap
}

// Clone returns a deep copy of the aggregate. Writers transform a clone so
// readers always observe a consistent point-in-time document.
func (e *ExamAggregate) Clone() *ExamAggregate {
	if e == nil {
		return nil
	}
	out := *e

	out.Rooms = make([]Classroom, len(e.Rooms))
	for i, room := range e.Rooms {
		cloned := room
		if room.Seats != nil {
			cloned.Seats = append([]string(nil), room.Seats...)
		}
		out.Rooms[i] = cloned
	}
	if e.Supervisors != nil {
		out.Supervisors = append([]SupervisorAssignment(nil), e.Supervisors...)
	}

	out.Records = make(map[string]AttendanceRecord, len(e.Records))
	for studentID, rec := range e.Records {
		cloned := rec
		if rec.ArrivedAt != nil {
			at := *rec.ArrivedAt
			cloned.ArrivedAt = &at
		}
		if rec.OutStartedAt != nil {
			at := *rec.OutStartedAt
			cloned.OutStartedAt = &at
		}
		if rec.FinishedAt != nil {
			at := *rec.FinishedAt
			cloned.FinishedAt = &at
		}
		out.Records[studentID] = cloned
	}

	if e.Transfers != nil {
		out.Transfers = make(map[string]TransferRequest, len(e.Transfers))
		for id, req := range e.Transfers {
			cloned := req
			if req.LastErrorAt != nil {
				at := *req.LastErrorAt
				cloned.LastErrorAt = &at
			}
			out.Transfers[id] = cloned
		}
	}

	if e.Events != nil {
		out.Events = make([]event.Event, len(e.Events))
		for i, evt := range e.Events {
			cloned := evt
			if evt.SeenAt != nil {
				at := *evt.SeenAt
				cloned.SeenAt = &at
			}
			if evt.Payload != nil {
				cloned.Payload = append([]byte(nil), evt.Payload...)
			}
			out.Events[i] = cloned
		}
	}

	if e.Files != nil {
		out.Files = make(map[string]StudentFile, len(e.Files))
		for studentID, file := range e.Files {
			out.Files[studentID] = file.clone()
		}
	}

	if e.Summary.BySeverity != nil {
		out.Summary.BySeverity = make(map[event.Severity]int, len(e.Summary.BySeverity))
		for severity, count := range e.Summary.BySeverity {
			out.Summary.BySeverity[severity] = count
		}
	}

	if e.FiredAlerts != nil {
		out.FiredAlerts = make(map[string]bool, len(e.FiredAlerts))
		for key, fired := range e.FiredAlerts {
			out.FiredAlerts[key] = fired
		}
	}

	return &out
}
