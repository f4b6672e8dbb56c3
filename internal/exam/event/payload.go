package event

// StudentAddedPayload captures the payload for student.added events.
type StudentAddedPayload struct {
	StudentID     string `json:"student_id"`
	StudentNumber string `json:"student_number,omitempty"`
	Name          string `json:"name"`
	RoomID        string `json:"room_id"`
	Seat          string `json:"seat"`
}

// StudentRemovedPayload captures the payload for student.removed events.
type StudentRemovedPayload struct {
	StudentID string `json:"student_id"`
	Reason    string `json:"reason,omitempty"`
}

// StatusChangedPayload captures the payload for attendance.status_changed events.
type StatusChangedPayload struct {
	StudentID string `json:"student_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// TransferRequestedPayload captures the payload for transfer.requested events.
type TransferRequestedPayload struct {
	TransferID string `json:"transfer_id"`
	StudentID  string `json:"student_id"`
	FromRoomID string `json:"from_room_id"`
	ToRoomID   string `json:"to_room_id"`
}

// TransferApprovedPayload captures the payload for transfer.approved events.
type TransferApprovedPayload struct {
	TransferID string `json:"transfer_id"`
	StudentID  string `json:"student_id"`
	FromRoomID string `json:"from_room_id"`
	ToRoomID   string `json:"to_room_id"`
	Seat       string `json:"seat"`
}

// TransferClosedPayload captures the payload for transfer.rejected and
// transfer.cancelled events.
type TransferClosedPayload struct {
	TransferID string `json:"transfer_id"`
	StudentID  string `json:"student_id"`
	Reason     string `json:"reason,omitempty"`
}

// TransferRoomFullPayload captures the payload for transfer.room_full events.
type TransferRoomFullPayload struct {
	TransferID string `json:"transfer_id"`
	StudentID  string `json:"student_id"`
	ToRoomID   string `json:"to_room_id"`
}

// IncidentPayload captures the payload for incident.logged and
// incident.call_lecturer events.
type IncidentPayload struct {
	Kind string            `json:"kind"`
	Note string            `json:"note,omitempty"`
	Meta map[string]string `json:"meta,omitempty"`
}

// NoteAddedPayload captures the payload for student.note_added events.
type NoteAddedPayload struct {
	StudentID string `json:"student_id"`
	Note      string `json:"note"`
}

// ExtraTimePayload captures the payload for student.extra_time_granted events.
type ExtraTimePayload struct {
	StudentID string `json:"student_id"`
	Minutes   int    `json:"minutes"`
}

// TimeRemainingPayload captures the payload for exam.time_remaining events.
type TimeRemainingPayload struct {
	Minutes int `json:"minutes"`
}

// ExamEndedPayload captures the payload for exam.ended events.
type ExamEndedPayload struct {
	FinishedStudents int `json:"finished_students"`
}
