// Package service exposes the exam engine: every roster, attendance,
// transfer, and incident operation, each executed as one optimistic write
// against the stored exam document.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/invigil/invigil/internal/exam/alert"
	"github.com/invigil/invigil/internal/exam/domain"
	"github.com/invigil/invigil/internal/exam/event"
	"github.com/invigil/invigil/internal/exam/projection"
	apperrors "github.com/invigil/invigil/internal/platform/errors"
	"github.com/invigil/invigil/internal/storage"
)

// Engine coordinates every exam mutation and read. It holds no exam state
// itself; each operation loads the document, transforms a private copy,
// and commits it back under optimistic concurrency control.
type Engine struct {
	store       storage.ExamStore
	broadcaster Broadcaster
	now         func() time.Time
	idGenerator func() (string, error)
	tracer      trace.Tracer

	maxAttempts     int
	backoffMin      time.Duration
	backoffMax      time.Duration
	toiletThreshold time.Duration
}

// Options tune an Engine. Zero values fall back to defaults.
type Options struct {
	Broadcaster Broadcaster
	Now         func() time.Time
	IDGenerator func() (string, error)

	// MaxAttempts bounds the optimistic retry loop.
	MaxAttempts int
	// RetryBackoffMin and RetryBackoffMax bound the randomized wait
	// between conflicting write attempts.
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration
	// ToiletThreshold is how long a toilet break may run before snapshots
	// flag it.
	ToiletThreshold time.Duration
}

// NewEngine creates an exam engine on top of a store.
func NewEngine(store storage.ExamStore, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	engine := &Engine{
		store:           store,
		broadcaster:     opts.Broadcaster,
		now:             opts.Now,
		idGenerator:     opts.IDGenerator,
		tracer:          otel.Tracer("invigil/exam"),
		maxAttempts:     opts.MaxAttempts,
		backoffMin:      opts.RetryBackoffMin,
		backoffMax:      opts.RetryBackoffMax,
		toiletThreshold: opts.ToiletThreshold,
	}
	if engine.broadcaster == nil {
		engine.broadcaster = NopBroadcaster{}
	}
	if engine.now == nil {
		engine.now = time.Now
	}
	if engine.idGenerator == nil {
		engine.idGenerator = domain.NewEventID
	}
	if engine.maxAttempts <= 0 {
		engine.maxAttempts = defaultMaxAttempts
	}
	if engine.backoffMin <= 0 {
		engine.backoffMin = defaultBackoffMin
	}
	if engine.backoffMax < engine.backoffMin {
		engine.backoffMax = defaultBackoffMax
	}
	if engine.toiletThreshold <= 0 {
		engine.toiletThreshold = alert.DefaultToiletThreshold
	}
	return engine, nil
}

// Actor identifies the caller of an operation.
type Actor struct {
	UserID string
	Name   string
	Role   string
	// RoomID is an explicit room assignment for supervisors, if the outer
	// layer knows one.
	RoomID string
}

func (a Actor) eventActor(role domain.Role) event.Actor {
	return event.Actor{ID: a.UserID, Name: a.Name, Role: string(role)}
}

// resolveRole validates the actor's role and that it is one of allowed.
func resolveRole(actor Actor, allowed ...domain.Role) (domain.Role, error) {
	role, ok := domain.ParseRole(actor.Role)
	if !ok {
		return "", apperrors.WithMetadata(apperrors.CodeInvalidRole,
			"unknown role", map[string]string{"Role": actor.Role})
	}
	for _, candidate := range allowed {
		if role == candidate {
			return role, nil
		}
	}
	return "", apperrors.WithMetadata(apperrors.CodeForbidden,
		"role may not perform this operation",
		map[string]string{"Role": string(role)})
}

// supervisorRoomGate restricts a supervisor to students of their own room.
// Whole-exam roles pass through untouched.
func supervisorRoomGate(exam *domain.ExamAggregate, actor Actor, role domain.Role, roomID string) error {
	if role.SeesWholeExam() {
		return nil
	}
	own := exam.SupervisorRoom(domain.Viewer{UserID: actor.UserID, Role: role, RoomID: actor.RoomID})
	if own == "" || own != roomID {
		return apperrors.WithMetadata(apperrors.CodeForbidden,
			"supervisors may only act within their own room",
			map[string]string{"UserID": actor.UserID, "RoomID": roomID})
	}
	return nil
}

// CreateExam starts a new exam and stores it.
func (e *Engine) CreateExam(ctx context.Context, actor Actor, input domain.CreateExamInput) (*domain.ExamAggregate, error) {
	ctx, span := e.tracer.Start(ctx, "exam.create")
	defer span.End()

	if _, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer); err != nil {
		return nil, err
	}

	exam, err := domain.CreateExam(input, e.now, e.idGenerator)
	if err != nil {
		return nil, err
	}
	if err := e.store.Create(ctx, exam); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, apperrors.WithMetadata(apperrors.CodeInvalidStatus,
				"exam id is already in use", map[string]string{"ExamID": exam.ID})
		}
		return nil, fmt.Errorf("store exam: %w", err)
	}
	span.SetAttributes(attribute.String("exam.id", exam.ID))

	e.broadcaster.Broadcast(ctx, Notification{
		Type:   NotificationType(event.TypeExamCreated),
		ExamID: exam.ID,
		At:     exam.StartedAt,
	})
	return exam.Clone(), nil
}

// EndExam retires a running exam.
func (e *Engine) EndExam(ctx context.Context, actor Actor, examID string) error {
	ctx, span := e.tracer.Start(ctx, "exam.end")
	defer span.End()

	role, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer)
	if err != nil {
		return err
	}
	_, err = e.mutate(ctx, examID, func(exam *domain.ExamAggregate) (bool, error) {
		if err := exam.End(actor.eventActor(role), e.now(), e.idGenerator); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// AddStudent registers a student and allocates a seat.
func (e *Engine) AddStudent(ctx context.Context, actor Actor, examID string, input domain.AddStudentInput) (domain.AttendanceRecord, error) {
	ctx, span := e.tracer.Start(ctx, "exam.add_student")
	defer span.End()

	role, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer)
	if err != nil {
		return domain.AttendanceRecord{}, err
	}

	var record domain.AttendanceRecord
	_, err = e.mutate(ctx, examID, func(exam *domain.ExamAggregate) (bool, error) {
		var err error
		record, err = exam.AddStudent(input, actor.eventActor(role), e.now(), e.idGenerator)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return domain.AttendanceRecord{}, err
	}
	return record, nil
}

// RemoveStudent deletes a student's record and file.
func (e *Engine) RemoveStudent(ctx context.Context, actor Actor, examID, studentID string) error {
	ctx, span := e.tracer.Start(ctx, "exam.remove_student")
	defer span.End()

	role, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer)
	if err != nil {
		return err
	}
	_, err = e.mutate(ctx, examID, func(exam *domain.ExamAggregate) (bool, error) {
		if _, err := exam.RemoveStudent(studentID, actor.eventActor(role), e.now(), e.idGenerator); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// SetAttendanceStatus applies a validated attendance transition.
// Supervisors may only touch students inside their own room.
func (e *Engine) SetAttendanceStatus(ctx context.Context, actor Actor, examID, studentID, status string) (domain.AttendanceRecord, error) {
	ctx, span := e.tracer.Start(ctx, "exam.set_attendance_status")
	defer span.End()

	role, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer, domain.RoleSupervisor)
	if err != nil {
		return domain.AttendanceRecord{}, err
	}
	target, err := domain.ParseAttendanceStatus(status)
	if err != nil {
		return domain.AttendanceRecord{}, err
	}

	var record domain.AttendanceRecord
	_, err = e.mutate(ctx, examID, func(exam *domain.ExamAggregate) (bool, error) {
		current, ok := exam.Records[studentID]
		if !ok {
			return false, apperrors.WithMetadata(apperrors.CodeStudentNotFound,
				"student is not registered in this exam",
				map[string]string{"StudentID": studentID})
		}
		if err := supervisorRoomGate(exam, actor, role, current.RoomID); err != nil {
			return false, err
		}
		var err error
		record, err = exam.SetAttendanceStatus(studentID, target, actor.eventActor(role), e.now(), e.idGenerator)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return domain.AttendanceRecord{}, err
	}
	return record, nil
}

// RequestTransfer opens a room-change request for a student.
func (e *Engine) RequestTransfer(ctx context.Context, actor Actor, examID string, input domain.RequestTransferInput) (domain.TransferRequest, error) {
	ctx, span := e.tracer.Start(ctx, "exam.request_transfer")
	defer span.End()

	role, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer, domain.RoleSupervisor)
	if err != nil {
		return domain.TransferRequest{}, err
	}

	var request domain.TransferRequest
	_, err = e.mutate(ctx, examID, func(exam *domain.ExamAggregate) (bool, error) {
		if record, ok := exam.Records[input.StudentID]; ok {
			if err := supervisorRoomGate(exam, actor, role, record.RoomID); err != nil {
				return false, err
			}
		}
		var err error
		request, err = exam.RequestTransfer(input, actor.eventActor(role), e.now(), e.idGenerator)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return domain.TransferRequest{}, err
	}
	return request, nil
}

// ApproveTransfer moves the student into the target room. When the target
// room has no free seat the request stays pending, tagged ROOM_FULL; that
// outcome commits and is then reported to the caller as a ROOM_FULL error.
func (e *Engine) ApproveTransfer(ctx context.Context, actor Actor, examID, transferID string) (domain.TransferRequest, error) {
	ctx, span := e.tracer.Start(ctx, "exam.approve_transfer")
	defer span.End()

	role, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer)
	if err != nil {
		return domain.TransferRequest{}, err
	}

	var request domain.TransferRequest
	var roomFull bool
	_, err = e.mutate(ctx, examID, func(exam *domain.ExamAggregate) (bool, error) {
		var err error
		request, roomFull, err = exam.ApproveTransfer(transferID, actor.eventActor(role), e.now(), e.idGenerator)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return domain.TransferRequest{}, err
	}
	if roomFull {
		return request, apperrors.WithMetadata(apperrors.CodeRoomFull,
			"target room has no free seat, transfer stays pending",
			map[string]string{"TransferID": request.ID, "RoomID": request.ToRoomID})
	}
	return request, nil
}

// RejectTransfer declines a pending transfer.
func (e *Engine) RejectTransfer(ctx context.Context, actor Actor, examID, transferID, reason string) (domain.TransferRequest, error) {
	ctx, span := e.tracer.Start(ctx, "exam.reject_transfer")
	defer span.End()

	role, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer)
	if err != nil {
		return domain.TransferRequest{}, err
	}

	var request domain.TransferRequest
	_, err = e.mutate(ctx, examID, func(exam *domain.ExamAggregate) (bool, error) {
		var err error
		request, err = exam.RejectTransfer(transferID, reason, actor.eventActor(role), e.now(), e.idGenerator)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return domain.TransferRequest{}, err
	}
	return request, nil
}

// CancelTransfer withdraws a pending transfer. A supervisor may cancel
// only transfers leaving their own room.
func (e *Engine) CancelTransfer(ctx context.Context, actor Actor, examID, transferID, reason string) (domain.TransferRequest, error) {
	ctx, span := e.tracer.Start(ctx, "exam.cancel_transfer")
	defer span.End()

	role, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer, domain.RoleSupervisor)
	if err != nil {
		return domain.TransferRequest{}, err
	}

	var request domain.TransferRequest
	_, err = e.mutate(ctx, examID, func(exam *domain.ExamAggregate) (bool, error) {
		if open, ok := exam.Transfers[transferID]; ok {
			if err := supervisorRoomGate(exam, actor, role, open.FromRoomID); err != nil {
				return false, err
			}
		}
		var err error
		request, err = exam.CancelTransfer(transferID, reason, actor.eventActor(role), e.now(), e.idGenerator)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return domain.TransferRequest{}, err
	}
	return request, nil
}

// LogIncident journals an incident or acknowledges a call-lecturer entry.
func (e *Engine) LogIncident(ctx context.Context, actor Actor, examID string, input domain.LogIncidentInput) (event.Event, error) {
	ctx, span := e.tracer.Start(ctx, "exam.log_incident")
	defer span.End()

	role, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer, domain.RoleSupervisor)
	if err != nil {
		return event.Event{}, err
	}

	var logged event.Event
	var changed bool
	_, err = e.mutate(ctx, examID, func(exam *domain.ExamAggregate) (bool, error) {
		if input.StudentID != "" {
			if record, ok := exam.Records[input.StudentID]; ok {
				if err := supervisorRoomGate(exam, actor, role, record.RoomID); err != nil {
					return false, err
				}
			}
		}
		var err error
		logged, changed, err = exam.LogIncident(input, actor.eventActor(role), e.now(), e.idGenerator)
		if err != nil {
			return false, err
		}
		return changed, nil
	})
	if err != nil {
		return event.Event{}, err
	}
	if changed && input.Kind == domain.IncidentKindCallLecturerSeen {
		// Acknowledgement mutates an existing entry in place, so nothing
		// new is journaled; notify explicitly.
		e.broadcaster.Broadcast(ctx, Notification{
			Type:      "CALL_LECTURER_SEEN",
			ExamID:    examID,
			RoomID:    logged.RoomID,
			StudentID: logged.StudentID,
			At:        e.now(),
		})
	}
	return logged, nil
}

// AddStudentNote appends a note to a student's file.
func (e *Engine) AddStudentNote(ctx context.Context, actor Actor, examID, studentID, note string) (domain.StudentFile, error) {
	ctx, span := e.tracer.Start(ctx, "exam.add_student_note")
	defer span.End()

	role, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer)
	if err != nil {
		return domain.StudentFile{}, err
	}

	var file domain.StudentFile
	_, err = e.mutate(ctx, examID, func(exam *domain.ExamAggregate) (bool, error) {
		var err error
		file, err = exam.AddNote(studentID, note, actor.eventActor(role), e.now(), e.idGenerator)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return domain.StudentFile{}, err
	}
	return file, nil
}

// GrantExtraTime adds extra minutes to a student.
func (e *Engine) GrantExtraTime(ctx context.Context, actor Actor, examID, studentID string, minutes int) (domain.AttendanceRecord, error) {
	ctx, span := e.tracer.Start(ctx, "exam.grant_extra_time")
	defer span.End()

	role, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer)
	if err != nil {
		return domain.AttendanceRecord{}, err
	}

	var record domain.AttendanceRecord
	_, err = e.mutate(ctx, examID, func(exam *domain.ExamAggregate) (bool, error) {
		var err error
		record, err = exam.GrantExtraTime(studentID, minutes, actor.eventActor(role), e.now(), e.idGenerator)
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return domain.AttendanceRecord{}, err
	}
	return record, nil
}

// GetSnapshot builds the role-scoped view of an exam, including derived
// alerts. It never mutates stored state.
func (e *Engine) GetSnapshot(ctx context.Context, actor Actor, examID string) (projection.View, error) {
	ctx, span := e.tracer.Start(ctx, "exam.get_snapshot")
	defer span.End()

	role, err := resolveRole(actor, domain.RoleAdmin, domain.RoleLecturer, domain.RoleSupervisor)
	if err != nil {
		return projection.View{}, err
	}

	exam, _, err := e.store.Get(ctx, examID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return projection.View{}, examNotFoundError(examID)
		}
		return projection.View{}, fmt.Errorf("load exam: %w", err)
	}

	viewer := domain.Viewer{UserID: actor.UserID, Role: role, RoomID: actor.RoomID}
	now := e.now()
	view, err := projection.Project(exam, viewer, now)
	if err != nil {
		return projection.View{}, err
	}
	viewerRoom := ""
	if !role.SeesWholeExam() {
		viewerRoom = exam.SupervisorRoom(viewer)
	}
	view.Alerts = alert.Derive(exam, viewerRoom, now, alert.Options{ToiletThreshold: e.toiletThreshold})
	return view, nil
}
