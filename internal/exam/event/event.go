// Package event defines the append-only journal entries recorded for a
// running exam. Events are facts that have occurred, not commands.
package event

import (
	"encoding/json"
	"strings"
	"time"
)

// Type identifies the type of an exam event.
type Type string

// Exam lifecycle events.
const (
	// TypeExamCreated records the creation of a running exam aggregate.
	TypeExamCreated Type = "exam.created"
	// TypeExamEnded records the retirement of an exam aggregate.
	TypeExamEnded Type = "exam.ended"
	// TypeTimeRemaining records a time-remaining threshold alert firing.
	TypeTimeRemaining Type = "exam.time_remaining"
)

// Student roster events.
const (
	// TypeStudentAdded records a student joining the exam roster.
	TypeStudentAdded Type = "student.added"
	// TypeStudentRemoved records a student being removed from the roster.
	TypeStudentRemoved Type = "student.removed"
	// TypeNoteAdded records a free-text note on a student file.
	TypeNoteAdded Type = "student.note_added"
	// TypeExtraTimeGranted records extra minutes granted to a student.
	TypeExtraTimeGranted Type = "student.extra_time_granted"
)

// Attendance events.
const (
	// TypeStatusChanged records a validated attendance status transition.
	TypeStatusChanged Type = "attendance.status_changed"
)

// Transfer events.
const (
	// TypeTransferRequested records a room-change request being opened.
	TypeTransferRequested Type = "transfer.requested"
	// TypeTransferApproved records a room-change request being approved.
	TypeTransferApproved Type = "transfer.approved"
	// TypeTransferRejected records a room-change request being rejected.
	TypeTransferRejected Type = "transfer.rejected"
	// TypeTransferCancelled records a room-change request being cancelled.
	TypeTransferCancelled Type = "transfer.cancelled"
	// TypeTransferRoomFull records an approval attempt against a full room.
	TypeTransferRoomFull Type = "transfer.room_full"
)

// Incident events.
const (
	// TypeIncidentLogged records a supervisor/lecturer incident entry.
	TypeIncidentLogged Type = "incident.logged"
	// TypeCallLecturer records a supervisor summoning the lecturer.
	TypeCallLecturer Type = "incident.call_lecturer"
)

// Severity grades how urgent an event is for the people watching the exam.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Actor identifies who triggered an event.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// System is the actor recorded for engine-initiated events such as
// time-remaining alerts.
var System = Actor{ID: "system", Name: "system", Role: "system"}

// Event represents one immutable entry in an exam's bounded journal.
type Event struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`
	// ExamID is the exam this event belongs to.
	ExamID string `json:"exam_id"`
	// Seq is the event sequence number within the exam (starts at 1).
	// It keeps increasing after old entries are trimmed from the journal.
	Seq uint64 `json:"seq"`
	// At is when the event occurred.
	At time.Time `json:"at"`
	// Type identifies the kind of event.
	Type Type `json:"type"`
	// Severity grades the event for dashboards.
	Severity Severity `json:"severity"`
	// RoomID and Seat locate the event when it concerns a seat.
	RoomID string `json:"room_id,omitempty"`
	Seat   string `json:"seat,omitempty"`
	// StudentID is set when the event concerns one student.
	StudentID string `json:"student_id,omitempty"`
	// Actor identifies who triggered the event.
	Actor Actor `json:"actor"`
	// RequestID correlates related events (e.g. a call-lecturer entry to
	// its acknowledgement).
	RequestID string `json:"request_id,omitempty"`
	// Description is a short human-readable summary.
	Description string `json:"description,omitempty"`
	// SeenByLecturer and SeenAt record the in-place acknowledgement of a
	// call-lecturer entry.
	SeenByLecturer bool       `json:"seen_by_lecturer,omitempty"`
	SeenAt         *time.Time `json:"seen_at,omitempty"`
	// Payload holds event-specific data as JSON.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the domain prefix of the event type (e.g. "student",
// "transfer").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// IsValid reports whether the severity is one of the known grades.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// MarshalPayload encodes a typed payload for embedding in an Event.
func MarshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}
