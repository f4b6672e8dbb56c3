package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/invigil/invigil/internal/exam/event"
	apperrors "github.com/invigil/invigil/internal/platform/errors"
)

// IncidentKindCallLecturer is the incident kind a supervisor uses to summon
// the lecturer to their room.
const IncidentKindCallLecturer = "CALL_LECTURER"

// IncidentKindCallLecturerSeen acknowledges an earlier call-lecturer event
// in place instead of appending a new entry.
const IncidentKindCallLecturerSeen = "CALL_LECTURER_SEEN"

// CreateExamInput describes the metadata needed to start a running exam.
type CreateExamInput struct {
	Name        string
	StartedAt   time.Time
	EndsAt      time.Time
	Rooms       []Classroom
	Supervisors []SupervisorAssignment
	EventCap    int
}

// CreateExam creates a running exam aggregate with a generated ID.
func CreateExam(input CreateExamInput, now func() time.Time, idGenerator func() (string, error)) (*ExamAggregate, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = NewExamID
	}

	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return nil, missingFieldsError("name")
	}
	if len(input.Rooms) == 0 {
		return nil, missingFieldsError("rooms")
	}
	for _, room := range input.Rooms {
		if strings.TrimSpace(room.ID) == "" {
			return nil, missingFieldsError("room id")
		}
	}

	examID, err := idGenerator()
	if err != nil {
		return nil, fmt.Errorf("generate exam id: %w", err)
	}

	startedAt := input.StartedAt
	if startedAt.IsZero() {
		startedAt = now().UTC()
	}

	exam := &ExamAggregate{
		ID:          examID,
		Name:        input.Name,
		Status:      ExamRunning,
		StartedAt:   startedAt,
		EndsAt:      input.EndsAt,
		Rooms:       input.Rooms,
		Supervisors: input.Supervisors,
		Records:     map[string]AttendanceRecord{},
		Transfers:   map[string]TransferRequest{},
		Files:       map[string]StudentFile{},
		FiredAlerts: map[string]bool{},
		EventCap:    input.EventCap,
		UpdatedAt:   startedAt,
	}

	_, err = exam.appendEvent(event.Event{
		At:          startedAt,
		Type:        event.TypeExamCreated,
		Severity:    event.SeverityLow,
		Actor:       event.System,
		Description: "exam started",
	}, idGenerator)
	if err != nil {
		return nil, err
	}
	return exam, nil
}

// AddStudentInput describes one student joining the exam roster.
type AddStudentInput struct {
	StudentID     string
	StudentNumber string
	FirstName     string
	LastName      string
	RoomID        string
}

// AddStudent registers a student, allocates a seat, initializes the student
// file, and journals the addition.
func (e *ExamAggregate) AddStudent(input AddStudentInput, actor event.Actor, now time.Time, idGenerator func() (string, error)) (AttendanceRecord, error) {
	if err := e.ensureRunning(); err != nil {
		return AttendanceRecord{}, err
	}

	input.StudentID = strings.TrimSpace(input.StudentID)
	input.RoomID = strings.TrimSpace(input.RoomID)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)

	var missing []string
	if input.StudentID == "" {
		missing = append(missing, "student id")
	}
	if input.RoomID == "" {
		missing = append(missing, "room id")
	}
	if input.FirstName == "" && input.LastName == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return AttendanceRecord{}, missingFieldsError(strings.Join(missing, ", "))
	}

	if _, exists := e.Records[input.StudentID]; exists {
		return AttendanceRecord{}, apperrors.WithMetadata(apperrors.CodeStudentAlreadyInExam,
			"student is already registered",
			map[string]string{"StudentID": input.StudentID})
	}

	room, ok := e.Room(input.RoomID)
	if !ok {
		return AttendanceRecord{}, roomNotFoundError(input.RoomID)
	}

	seat, err := e.allocateSeat(room)
	if err != nil {
		return AttendanceRecord{}, err
	}

	record := AttendanceRecord{
		StudentID:     input.StudentID,
		StudentNumber: input.StudentNumber,
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		RoomID:        room.ID,
		Seat:          seat,
		Status:        StatusNotArrived,
	}
	e.Records[record.StudentID] = record
	e.setFile(record.StudentID, StudentFile{StudentID: record.StudentID})

	payload, err := event.MarshalPayload(event.StudentAddedPayload{
		StudentID:     record.StudentID,
		StudentNumber: record.StudentNumber,
		Name:          record.DisplayName(),
		RoomID:        record.RoomID,
		Seat:          record.Seat,
	})
	if err != nil {
		return AttendanceRecord{}, err
	}
	if _, err := e.appendEvent(event.Event{
		At:          now,
		Type:        event.TypeStudentAdded,
		Severity:    event.SeverityLow,
		RoomID:      record.RoomID,
		Seat:        record.Seat,
		StudentID:   record.StudentID,
		Actor:       actor,
		Description: "student added to exam",
		Payload:     payload,
	}, idGenerator); err != nil {
		return AttendanceRecord{}, err
	}
	return record, nil
}

// RemoveStudent deletes the attendance record and its derived file. A
// pending transfer for the student is closed as cancelled so it cannot
// dangle.
func (e *ExamAggregate) RemoveStudent(studentID string, actor event.Actor, now time.Time, idGenerator func() (string, error)) (AttendanceRecord, error) {
	if err := e.ensureRunning(); err != nil {
		return AttendanceRecord{}, err
	}

	record, ok := e.Records[studentID]
	if !ok {
		return AttendanceRecord{}, studentNotFoundError(studentID)
	}

	if pending, open := e.PendingTransferFor(studentID); open {
		if _, err := e.CancelTransfer(pending.ID, "student removed", actor, now, idGenerator); err != nil {
			return AttendanceRecord{}, err
		}
	}

	delete(e.Records, studentID)
	delete(e.Files, studentID)

	payload, err := event.MarshalPayload(event.StudentRemovedPayload{StudentID: studentID})
	if err != nil {
		return AttendanceRecord{}, err
	}
	if _, err := e.appendEvent(event.Event{
		At:          now,
		Type:        event.TypeStudentRemoved,
		Severity:    event.SeverityLow,
		RoomID:      record.RoomID,
		Seat:        record.Seat,
		StudentID:   studentID,
		Actor:       actor,
		Description: "student removed from exam",
		Payload:     payload,
	}, idGenerator); err != nil {
		return AttendanceRecord{}, err
	}
	return record, nil
}

// SetAttendanceStatus applies a validated lifecycle transition and its side
// effects: arrival/finish stamps and toilet accounting on the student file.
func (e *ExamAggregate) SetAttendanceStatus(studentID string, to AttendanceStatus, actor event.Actor, now time.Time, idGenerator func() (string, error)) (AttendanceRecord, error) {
	if err := e.ensureRunning(); err != nil {
		return AttendanceRecord{}, err
	}

	record, ok := e.Records[studentID]
	if !ok {
		return AttendanceRecord{}, studentNotFoundError(studentID)
	}

	from := record.Status
	if !CanTransition(from, to) {
		return AttendanceRecord{}, invalidTransitionError(from, to)
	}

	file := e.Files[studentID]
	switch {
	case to == StatusPresent && from == StatusNotArrived:
		at := now
		record.ArrivedAt = &at
	case to == StatusTempOut:
		at := now
		record.OutStartedAt = &at
		file.ToiletCount++
		file.ActiveToilet = &ActiveToilet{LeftAt: now, ByActorID: actor.ID}
	case to == StatusPresent && from == StatusTempOut:
		leftAt := now
		if file.ActiveToilet != nil {
			leftAt = file.ActiveToilet.LeftAt
		} else if record.OutStartedAt != nil {
			leftAt = *record.OutStartedAt
		}
		file.TotalToiletMs += now.Sub(leftAt).Milliseconds()
		file.ActiveToilet = nil
		record.OutStartedAt = nil
	case to == StatusFinished:
		at := now
		record.FinishedAt = &at
	}

	record.Status = to
	e.Records[studentID] = record
	e.setFile(studentID, file)

	payload, err := event.MarshalPayload(event.StatusChangedPayload{
		StudentID: studentID,
		From:      string(from),
		To:        string(to),
	})
	if err != nil {
		return AttendanceRecord{}, err
	}
	if _, err := e.appendEvent(event.Event{
		At:          now,
		Type:        event.TypeStatusChanged,
		Severity:    event.SeverityLow,
		RoomID:      record.RoomID,
		Seat:        record.Seat,
		StudentID:   studentID,
		Actor:       actor,
		Description: fmt.Sprintf("attendance %s -> %s", from, to),
		Payload:     payload,
	}, idGenerator); err != nil {
		return AttendanceRecord{}, err
	}
	return record, nil
}

// RequestTransferInput describes a room-change request. FromRoomID is
// optional; when set it must match the student's current room.
type RequestTransferInput struct {
	StudentID  string
	FromRoomID string
	ToRoomID   string
}

// RequestTransfer opens a pending room-change request for a student.
func (e *ExamAggregate) RequestTransfer(input RequestTransferInput, actor event.Actor, now time.Time, idGenerator func() (string, error)) (TransferRequest, error) {
	if err := e.ensureRunning(); err != nil {
		return TransferRequest{}, err
	}
	if idGenerator == nil {
		idGenerator = NewTransferID
	}

	input.StudentID = strings.TrimSpace(input.StudentID)
	input.ToRoomID = strings.TrimSpace(input.ToRoomID)
	if input.StudentID == "" || input.ToRoomID == "" {
		return TransferRequest{}, missingFieldsError("student id, target room id")
	}

	record, ok := e.Records[input.StudentID]
	if !ok {
		return TransferRequest{}, studentNotFoundError(input.StudentID)
	}
	if input.FromRoomID != "" && input.FromRoomID != record.RoomID {
		return TransferRequest{}, apperrors.WithMetadata(apperrors.CodeStaleSourceRoom,
			"student is no longer in the source room",
			map[string]string{"StudentID": input.StudentID, "FromRoomID": input.FromRoomID})
	}
	if _, ok := e.Room(input.ToRoomID); !ok {
		return TransferRequest{}, roomNotFoundError(input.ToRoomID)
	}
	if input.ToRoomID == record.RoomID {
		return TransferRequest{}, apperrors.New(apperrors.CodeTransferSameRoom,
			"transfer target must differ from the current room")
	}
	if _, open := e.PendingTransferFor(input.StudentID); open {
		return TransferRequest{}, apperrors.WithMetadata(apperrors.CodeTransferAlreadyOpen,
			"student already has a pending transfer",
			map[string]string{"StudentID": input.StudentID})
	}

	transferID, err := idGenerator()
	if err != nil {
		return TransferRequest{}, fmt.Errorf("generate transfer id: %w", err)
	}
	request := TransferRequest{
		ID:         transferID,
		StudentID:  input.StudentID,
		FromRoomID: record.RoomID,
		ToRoomID:   input.ToRoomID,
		Status:     TransferPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if e.Transfers == nil {
		e.Transfers = map[string]TransferRequest{}
	}
	e.Transfers[request.ID] = request

	payload, err := event.MarshalPayload(event.TransferRequestedPayload{
		TransferID: request.ID,
		StudentID:  request.StudentID,
		FromRoomID: request.FromRoomID,
		ToRoomID:   request.ToRoomID,
	})
	if err != nil {
		return TransferRequest{}, err
	}
	if _, err := e.appendEvent(event.Event{
		At:          now,
		Type:        event.TypeTransferRequested,
		Severity:    event.SeverityMedium,
		RoomID:      request.FromRoomID,
		StudentID:   request.StudentID,
		Actor:       actor,
		RequestID:   request.ID,
		Description: fmt.Sprintf("transfer requested %s -> %s", request.FromRoomID, request.ToRoomID),
		Payload:     payload,
	}, idGenerator); err != nil {
		return TransferRequest{}, err
	}
	return request, nil
}

// ApproveTransfer moves the student when the target room has a free seat.
// When it does not, the request stays pending tagged ROOM_FULL so a human
// can retry once capacity frees up; the roomFull return distinguishes that
// committed outcome from a plain error.
func (e *ExamAggregate) ApproveTransfer(transferID string, actor event.Actor, now time.Time, idGenerator func() (string, error)) (request TransferRequest, roomFull bool, err error) {
	if err := e.ensureRunning(); err != nil {
		return TransferRequest{}, false, err
	}

	request, ok := e.Transfers[transferID]
	if !ok {
		return TransferRequest{}, false, transferNotFoundError(transferID)
	}
	if request.IsTerminal() {
		return TransferRequest{}, false, transferNotPendingError(request)
	}

	record, ok := e.Records[request.StudentID]
	if !ok {
		return TransferRequest{}, false, studentNotFoundError(request.StudentID)
	}
	if record.RoomID != request.FromRoomID {
		return TransferRequest{}, false, apperrors.WithMetadata(apperrors.CodeStaleSourceRoom,
			"student moved since the transfer was requested",
			map[string]string{"StudentID": request.StudentID, "FromRoomID": request.FromRoomID})
	}

	toRoom, ok := e.Room(request.ToRoomID)
	if !ok {
		return TransferRequest{}, false, roomNotFoundError(request.ToRoomID)
	}

	seat, seatErr := e.allocateSeat(toRoom)
	if seatErr != nil {
		if !apperrors.IsCode(seatErr, apperrors.CodeRoomFull) {
			return TransferRequest{}, false, seatErr
		}
		// Stay pending, surface as alert. Not auto-rejected.
		at := now
		request.LastError = TransferErrorRoomFull
		request.LastErrorAt = &at
		request.UpdatedAt = now
		e.Transfers[request.ID] = request

		payload, err := event.MarshalPayload(event.TransferRoomFullPayload{
			TransferID: request.ID,
			StudentID:  request.StudentID,
			ToRoomID:   request.ToRoomID,
		})
		if err != nil {
			return TransferRequest{}, false, err
		}
		if _, err := e.appendEvent(event.Event{
			At:          now,
			Type:        event.TypeTransferRoomFull,
			Severity:    event.SeverityMedium,
			RoomID:      request.ToRoomID,
			StudentID:   request.StudentID,
			Actor:       actor,
			RequestID:   request.ID,
			Description: "transfer approval blocked, target room full",
			Payload:     payload,
		}, idGenerator); err != nil {
			return TransferRequest{}, false, err
		}
		return request, true, nil
	}

	request.Status = TransferApproved
	request.LastError = ""
	request.LastErrorAt = nil
	request.UpdatedAt = now
	e.Transfers[request.ID] = request

	record.RoomID = toRoom.ID
	record.Seat = seat
	e.Records[record.StudentID] = record

	payload, err := event.MarshalPayload(event.TransferApprovedPayload{
		TransferID: request.ID,
		StudentID:  request.StudentID,
		FromRoomID: request.FromRoomID,
		ToRoomID:   request.ToRoomID,
		Seat:       seat,
	})
	if err != nil {
		return TransferRequest{}, false, err
	}
	if _, err := e.appendEvent(event.Event{
		At:          now,
		Type:        event.TypeTransferApproved,
		Severity:    event.SeverityMedium,
		RoomID:      request.ToRoomID,
		Seat:        seat,
		StudentID:   request.StudentID,
		Actor:       actor,
		RequestID:   request.ID,
		Description: fmt.Sprintf("transfer approved %s -> %s", request.FromRoomID, request.ToRoomID),
		Payload:     payload,
	}, idGenerator); err != nil {
		return TransferRequest{}, false, err
	}
	return request, false, nil
}

// RejectTransfer closes a pending request without touching the attendance
// record.
func (e *ExamAggregate) RejectTransfer(transferID, reason string, actor event.Actor, now time.Time, idGenerator func() (string, error)) (TransferRequest, error) {
	return e.closeTransfer(transferID, TransferRejected, event.TypeTransferRejected, reason, actor, now, idGenerator)
}

// CancelTransfer withdraws a pending request without touching the
// attendance record.
func (e *ExamAggregate) CancelTransfer(transferID, reason string, actor event.Actor, now time.Time, idGenerator func() (string, error)) (TransferRequest, error) {
	return e.closeTransfer(transferID, TransferCancelled, event.TypeTransferCancelled, reason, actor, now, idGenerator)
}

func (e *ExamAggregate) closeTransfer(transferID string, status TransferStatus, eventType event.Type, reason string, actor event.Actor, now time.Time, idGenerator func() (string, error)) (TransferRequest, error) {
	if err := e.ensureRunning(); err != nil {
		return TransferRequest{}, err
	}

	request, ok := e.Transfers[transferID]
	if !ok {
		return TransferRequest{}, transferNotFoundError(transferID)
	}
	if request.IsTerminal() {
		return TransferRequest{}, transferNotPendingError(request)
	}

	request.Status = status
	request.UpdatedAt = now
	e.Transfers[request.ID] = request

	payload, err := event.MarshalPayload(event.TransferClosedPayload{
		TransferID: request.ID,
		StudentID:  request.StudentID,
		Reason:     reason,
	})
	if err != nil {
		return TransferRequest{}, err
	}
	if _, err := e.appendEvent(event.Event{
		At:          now,
		Type:        eventType,
		Severity:    event.SeverityLow,
		RoomID:      request.FromRoomID,
		StudentID:   request.StudentID,
		Actor:       actor,
		RequestID:   request.ID,
		Description: fmt.Sprintf("transfer %s", status),
		Payload:     payload,
	}, idGenerator); err != nil {
		return TransferRequest{}, err
	}
	return request, nil
}

// LogIncidentInput describes one incident entry.
type LogIncidentInput struct {
	// StudentID is optional; room-level incidents leave it empty.
	StudentID string
	Kind      string
	Severity  event.Severity
	Note      string
	Meta      map[string]string
	// CorrelationID links call-lecturer entries to their acknowledgement.
	CorrelationID string
}

// LogIncident journals an incident and updates the student file and exam
// summary counters. The CALL_LECTURER_SEEN kind acknowledges an existing
// call-lecturer event in place; when the target event has already been
// trimmed from the bounded journal the acknowledgement is a no-op success.
// The changed return reports whether the aggregate was modified.
func (e *ExamAggregate) LogIncident(input LogIncidentInput, actor event.Actor, now time.Time, idGenerator func() (string, error)) (evt event.Event, changed bool, err error) {
	if err := e.ensureRunning(); err != nil {
		return event.Event{}, false, err
	}

	input.Kind = strings.TrimSpace(input.Kind)
	if input.Kind == "" {
		return event.Event{}, false, missingFieldsError("incident kind")
	}

	if input.Kind == IncidentKindCallLecturerSeen {
		return e.acknowledgeCallLecturer(input.CorrelationID, now)
	}

	severity := input.Severity
	if severity == "" {
		severity = event.SeverityLow
	}
	if !severity.IsValid() {
		return event.Event{}, false, missingFieldsError("severity")
	}

	var roomID, seat string
	if input.StudentID != "" {
		record, ok := e.Records[input.StudentID]
		if !ok {
			return event.Event{}, false, studentNotFoundError(input.StudentID)
		}
		roomID = record.RoomID
		seat = record.Seat
	}

	eventType := event.TypeIncidentLogged
	if input.Kind == IncidentKindCallLecturer {
		eventType = event.TypeCallLecturer
		if severity == event.SeverityLow {
			severity = event.SeverityMedium
		}
	}

	payload, err := event.MarshalPayload(event.IncidentPayload{
		Kind: input.Kind,
		Note: input.Note,
		Meta: input.Meta,
	})
	if err != nil {
		return event.Event{}, false, err
	}
	appended, err := e.appendEvent(event.Event{
		At:          now,
		Type:        eventType,
		Severity:    severity,
		RoomID:      roomID,
		Seat:        seat,
		StudentID:   input.StudentID,
		Actor:       actor,
		RequestID:   input.CorrelationID,
		Description: input.Note,
		Payload:     payload,
	}, idGenerator)
	if err != nil {
		return event.Event{}, false, err
	}
	return appended, true, nil
}

// acknowledgeCallLecturer mutates the correlated call-lecturer event in
// place: marks it seen and escalates its severity. A missing target (the
// journal may have trimmed it) is accepted as a no-op success so log
// rotation never breaks the caller.
func (e *ExamAggregate) acknowledgeCallLecturer(correlationID string, now time.Time) (event.Event, bool, error) {
	if strings.TrimSpace(correlationID) == "" {
		return event.Event{}, false, missingFieldsError("correlation id")
	}
	for i := range e.Events {
		entry := &e.Events[i]
		if entry.Type != event.TypeCallLecturer || entry.RequestID != correlationID {
			continue
		}
		if entry.SeenByLecturer {
			return *entry, false, nil
		}
		at := now
		entry.SeenByLecturer = true
		entry.SeenAt = &at
		if entry.Severity == event.SeverityLow || entry.Severity == event.SeverityMedium {
			entry.Severity = event.SeverityHigh
		}
		return *entry, true, nil
	}
	return event.Event{}, false, nil
}

// AddNote appends a free-text note to a student's file and timeline.
func (e *ExamAggregate) AddNote(studentID, note string, actor event.Actor, now time.Time, idGenerator func() (string, error)) (StudentFile, error) {
	if err := e.ensureRunning(); err != nil {
		return StudentFile{}, err
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return StudentFile{}, missingFieldsError("note")
	}
	record, ok := e.Records[studentID]
	if !ok {
		return StudentFile{}, studentNotFoundError(studentID)
	}

	payload, err := event.MarshalPayload(event.NoteAddedPayload{StudentID: studentID, Note: note})
	if err != nil {
		return StudentFile{}, err
	}
	if _, err := e.appendEvent(event.Event{
		At:          now,
		Type:        event.TypeNoteAdded,
		Severity:    event.SeverityLow,
		RoomID:      record.RoomID,
		StudentID:   studentID,
		Actor:       actor,
		Description: note,
		Payload:     payload,
	}, idGenerator); err != nil {
		return StudentFile{}, err
	}
	return e.Files[studentID], nil
}

// GrantExtraTime adds extra minutes to a student's attendance record.
func (e *ExamAggregate) GrantExtraTime(studentID string, minutes int, actor event.Actor, now time.Time, idGenerator func() (string, error)) (AttendanceRecord, error) {
	if err := e.ensureRunning(); err != nil {
		return AttendanceRecord{}, err
	}
	if minutes <= 0 {
		return AttendanceRecord{}, missingFieldsError("minutes")
	}
	record, ok := e.Records[studentID]
	if !ok {
		return AttendanceRecord{}, studentNotFoundError(studentID)
	}

	record.ExtraMinutes += minutes
	e.Records[studentID] = record

	payload, err := event.MarshalPayload(event.ExtraTimePayload{StudentID: studentID, Minutes: minutes})
	if err != nil {
		return AttendanceRecord{}, err
	}
	if _, err := e.appendEvent(event.Event{
		At:          now,
		Type:        event.TypeExtraTimeGranted,
		Severity:    event.SeverityLow,
		RoomID:      record.RoomID,
		StudentID:   studentID,
		Actor:       actor,
		Description: fmt.Sprintf("granted %d extra minutes", minutes),
		Payload:     payload,
	}, idGenerator); err != nil {
		return AttendanceRecord{}, err
	}
	return record, nil
}

// End retires the aggregate. Students still writing are stamped finished,
// students who never arrived become absent, and open toilet breaks close.
func (e *ExamAggregate) End(actor event.Actor, now time.Time, idGenerator func() (string, error)) error {
	if err := e.ensureRunning(); err != nil {
		return err
	}

	finished := 0
	for studentID, record := range e.Records {
		switch record.Status {
		case StatusTempOut:
			if _, err := e.SetAttendanceStatus(studentID, StatusPresent, actor, now, idGenerator); err != nil {
				return err
			}
			fallthrough
		case StatusPresent:
			if _, err := e.SetAttendanceStatus(studentID, StatusFinished, actor, now, idGenerator); err != nil {
				return err
			}
			finished++
		case StatusNotArrived:
			if _, err := e.SetAttendanceStatus(studentID, StatusAbsent, actor, now, idGenerator); err != nil {
				return err
			}
		case StatusFinished:
			finished++
		}
	}

	payload, err := event.MarshalPayload(event.ExamEndedPayload{FinishedStudents: finished})
	if err != nil {
		return err
	}
	if _, err := e.appendEvent(event.Event{
		At:          now,
		Type:        event.TypeExamEnded,
		Severity:    event.SeverityLow,
		Actor:       actor,
		Description: "exam ended",
		Payload:     payload,
	}, idGenerator); err != nil {
		return err
	}

	e.Status = ExamEnded
	return nil
}

// MarkTimeAlert fires a time-remaining threshold exactly once. The boolean
// guard lives on the aggregate so the firing commits under the same
// compare-and-swap as every other mutation.
func (e *ExamAggregate) MarkTimeAlert(thresholdMinutes int, now time.Time, idGenerator func() (string, error)) (bool, error) {
	if err := e.ensureRunning(); err != nil {
		return false, err
	}

	key := fmt.Sprintf("time_remaining_%dm", thresholdMinutes)
	if e.FiredAlerts[key] {
		return false, nil
	}
	if e.FiredAlerts == nil {
		e.FiredAlerts = map[string]bool{}
	}
	e.FiredAlerts[key] = true

	severity := event.SeverityLow
	switch {
	case thresholdMinutes <= 5:
		severity = event.SeverityHigh
	case thresholdMinutes <= 15:
		severity = event.SeverityMedium
	}

	payload, err := event.MarshalPayload(event.TimeRemainingPayload{Minutes: thresholdMinutes})
	if err != nil {
		return false, err
	}
	if _, err := e.appendEvent(event.Event{
		At:          now,
		Type:        event.TypeTimeRemaining,
		Severity:    severity,
		Actor:       event.System,
		Description: fmt.Sprintf("%d minutes remaining", thresholdMinutes),
		Payload:     payload,
	}, idGenerator); err != nil {
		return false, err
	}
	return true, nil
}

// allocateSeat finds a seat in the room. Rooms with a known seat set use
// deterministic scan order; rooms with only a numeric capacity assign no
// seat id but still block once the capacity is reached.
func (e *ExamAggregate) allocateSeat(room Classroom) (string, error) {
	if len(room.SeatIDs()) > 0 {
		return FindFreeSeat(room, e.OccupiedSeats(room.ID))
	}
	capacity, known := room.Capacity()
	if !known {
		return "", nil
	}
	seated := 0
	for _, rec := range e.Records {
		if rec.RoomID == room.ID && rec.Status != StatusAbsent {
			seated++
		}
	}
	if seated >= capacity {
		return "", apperrors.WithMetadata(apperrors.CodeRoomFull,
			"room is at capacity", map[string]string{"RoomID": room.ID})
	}
	return "", nil
}

// appendEvent is the single journal funnel. It assigns identity and
// sequence, enforces the journal cap, and synchronously maintains the
// student file and exam summary so derived stats never drift from the log
// that produced them.
func (e *ExamAggregate) appendEvent(evt event.Event, idGenerator func() (string, error)) (event.Event, error) {
	if idGenerator == nil {
		idGenerator = NewEventID
	}
	eventID, err := idGenerator()
	if err != nil {
		return event.Event{}, fmt.Errorf("generate event id: %w", err)
	}

	e.EventSeq++
	evt.ID = eventID
	evt.ExamID = e.ID
	evt.Seq = e.EventSeq
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	e.Events = append(e.Events, evt)
	if overflow := len(e.Events) - e.eventCap(); overflow > 0 {
		e.Events = append(e.Events[:0], e.Events[overflow:]...)
	}

	e.applyToDerived(evt)
	e.UpdatedAt = evt.At
	return evt, nil
}

// setFile stores a student file, allocating the map when a decoded document
// arrived without one.
func (e *ExamAggregate) setFile(studentID string, file StudentFile) {
	if e.Files == nil {
		e.Files = map[string]StudentFile{}
	}
	e.Files[studentID] = file
}

// applyToDerived folds one appended event into the per-student file and the
// exam summary.
func (e *ExamAggregate) applyToDerived(evt event.Event) {
	switch evt.Type {
	case event.TypeIncidentLogged, event.TypeCallLecturer:
		e.Summary.Incidents++
		if e.Summary.BySeverity == nil {
			e.Summary.BySeverity = map[event.Severity]int{}
		}
		e.Summary.BySeverity[evt.Severity]++

		if evt.StudentID == "" {
			return
		}
		file := e.Files[evt.StudentID]
		file.StudentID = evt.StudentID
		file.IncidentCount++
		at := evt.At
		file.LastIncidentAt = &at
		file.appendTimeline(TimelineEntry{At: evt.At, Kind: string(evt.Type), Note: evt.Description})
		e.setFile(evt.StudentID, file)

		if record, ok := e.Records[evt.StudentID]; ok {
			record.Violations++
			e.Records[evt.StudentID] = record
		}
	case event.TypeNoteAdded:
		file := e.Files[evt.StudentID]
		file.StudentID = evt.StudentID
		file.Notes = append(file.Notes, evt.Description)
		file.appendTimeline(TimelineEntry{At: evt.At, Kind: string(evt.Type), Note: evt.Description})
		e.setFile(evt.StudentID, file)
	case event.TypeStatusChanged, event.TypeTransferRequested, event.TypeTransferApproved,
		event.TypeTransferRejected, event.TypeTransferCancelled, event.TypeExtraTimeGranted:
		if evt.StudentID == "" {
			return
		}
		file, ok := e.Files[evt.StudentID]
		if !ok {
			return
		}
		file.appendTimeline(TimelineEntry{At: evt.At, Kind: string(evt.Type), Note: evt.Description})
		e.setFile(evt.StudentID, file)
	}
}

func (e *ExamAggregate) ensureRunning() error {
	if e.Status != ExamRunning {
		return apperrors.New(apperrors.CodeExamEnded, "exam has ended")
	}
	return nil
}

func missingFieldsError(fields string) error {
	return apperrors.WithMetadata(apperrors.CodeMissingFields,
		"required fields are missing", map[string]string{"Fields": fields})
}

func roomNotFoundError(roomID string) error {
	return apperrors.WithMetadata(apperrors.CodeRoomNotFound,
		"room is not part of this exam", map[string]string{"RoomID": roomID})
}

func studentNotFoundError(studentID string) error {
	return apperrors.WithMetadata(apperrors.CodeStudentNotFound,
		"student is not registered in this exam", map[string]string{"StudentID": studentID})
}

func transferNotFoundError(transferID string) error {
	return apperrors.WithMetadata(apperrors.CodeTransferNotFound,
		"transfer request not found", map[string]string{"TransferID": transferID})
}

func transferNotPendingError(request TransferRequest) error {
	return apperrors.WithMetadata(apperrors.CodeTransferNotPending,
		"transfer request is already closed",
		map[string]string{"TransferID": request.ID, "Status": string(request.Status)})
}
