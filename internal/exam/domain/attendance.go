package domain

import (
	"strings"
	"time"

	apperrors "github.com/invigil/invigil/internal/platform/errors"
)

// AttendanceStatus is the lifecycle state of one student's presence.
type AttendanceStatus string

const (
	// StatusNotArrived means the student has not checked in yet.
	StatusNotArrived AttendanceStatus = "not_arrived"
	// StatusPresent means the student is seated in their room.
	StatusPresent AttendanceStatus = "present"
	// StatusTempOut means the student is temporarily out (toilet break).
	StatusTempOut AttendanceStatus = "temp_out"
	// StatusAbsent means the student never showed up.
	StatusAbsent AttendanceStatus = "absent"
	// StatusMoving is an overlay applied only at read time while a room
	// transfer is pending. It is never stored on the record.
	StatusMoving AttendanceStatus = "moving"
	// StatusFinished means the student handed in and left. Terminal.
	StatusFinished AttendanceStatus = "finished"
)

// ParseAttendanceStatus normalizes and validates a status string.
func ParseAttendanceStatus(value string) (AttendanceStatus, error) {
	status := AttendanceStatus(strings.ToLower(strings.TrimSpace(value)))
	switch status {
	case StatusNotArrived, StatusPresent, StatusTempOut, StatusAbsent,
		StatusMoving, StatusFinished:
		return status, nil
	}
	return "", apperrors.WithMetadata(apperrors.CodeInvalidStatus,
		"unknown attendance status", map[string]string{"Status": value})
}

// storable reports whether the status may be written to a record. The
// moving overlay is derived at read time only.
func (s AttendanceStatus) storable() bool {
	return s != StatusMoving
}

// transitions is the validated attendance lifecycle:
// not_arrived → present → temp_out ⇄ present → finished, with absent
// reachable from not_arrived. finished and absent are terminal.
var transitions = map[AttendanceStatus][]AttendanceStatus{
	StatusNotArrived: {StatusPresent, StatusAbsent},
	StatusPresent:    {StatusTempOut, StatusFinished},
	StatusTempOut:    {StatusPresent},
	StatusAbsent:     {},
	StatusFinished:   {},
}

// CanTransition reports whether from → to is a valid attendance transition.
func CanTransition(from, to AttendanceStatus) bool {
	if !to.storable() {
		return false
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AttendanceRecord tracks one student's presence in the exam. Exactly one
// record exists per student per exam; the seat, when non-empty, is unique
// within the room among records that are not absent.
type AttendanceRecord struct {
	StudentID     string           `json:"student_id"`
	StudentNumber string           `json:"student_number,omitempty"`
	FirstName     string           `json:"first_name"`
	LastName      string           `json:"last_name"`
	RoomID        string           `json:"room_id"`
	Seat          string           `json:"seat,omitempty"`
	Status        AttendanceStatus `json:"status"`
	ArrivedAt     *time.Time       `json:"arrived_at,omitempty"`
	OutStartedAt  *time.Time       `json:"out_started_at,omitempty"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	Violations    int              `json:"violations,omitempty"`
	ExtraMinutes  int              `json:"extra_minutes,omitempty"`
}

// DisplayName returns the student's full name for events and views.
func (r AttendanceRecord) DisplayName() string {
	name := strings.TrimSpace(r.FirstName + " " + r.LastName)
	if name == "" {
		return r.StudentID
	}
	return name
}

// OccupiesSeat reports whether the record's seat counts as taken. Absent
// students do not block their seat.
func (r AttendanceRecord) OccupiesSeat() bool {
	return r.Seat != "" && r.Status != StatusAbsent
}

func invalidTransitionError(from, to AttendanceStatus) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidTransition,
		"invalid attendance transition",
		map[string]string{"From": string(from), "To": string(to)})
}
