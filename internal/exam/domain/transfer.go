package domain

import "time"

// TransferStatus is the lifecycle state of a room-change request.
type TransferStatus string

const (
	// TransferPending means the request is open and awaiting a decision.
	TransferPending TransferStatus = "pending"
	// TransferApproved means the student was moved. Terminal.
	TransferApproved TransferStatus = "approved"
	// TransferRejected means a lecturer/admin declined the move. Terminal.
	TransferRejected TransferStatus = "rejected"
	// TransferCancelled means the requester withdrew it. Terminal.
	TransferCancelled TransferStatus = "cancelled"
)

// TransferErrorRoomFull tags a pending request whose last approval attempt
// found no free seat in the target room. The request stays pending so a
// human can retry once capacity frees up; it surfaces as an alert until
// resolved or cancelled.
const TransferErrorRoomFull = "ROOM_FULL"

// TransferRequest is one student's room-change request. At most one pending
// request exists per student at a time; terminal states are final.
type TransferRequest struct {
	ID          string         `json:"id"`
	StudentID   string         `json:"student_id"`
	FromRoomID  string         `json:"from_room_id"`
	ToRoomID    string         `json:"to_room_id"`
	Status      TransferStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	LastError   string         `json:"last_error,omitempty"`
	LastErrorAt *time.Time     `json:"last_error_at,omitempty"`
}

// IsTerminal reports whether the request reached a final state.
func (t TransferRequest) IsTerminal() bool {
	return t.Status != TransferPending
}
