package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeMissingFields Code = "MISSING_FIELDS"
	CodeInvalidRole   Code = "INVALID_ROLE"
	CodeInvalidStatus Code = "INVALID_STATUS"

	// Attendance errors
	CodeInvalidTransition Code = "INVALID_TRANSITION"

	// Seat and room errors
	CodeRoomFull     Code = "ROOM_FULL"
	CodeRoomNotFound Code = "ROOM_NOT_FOUND"

	// Student errors
	CodeStudentAlreadyInExam Code = "STUDENT_ALREADY_IN_EXAM"
	CodeStudentNotFound      Code = "STUDENT_NOT_FOUND"

	// Transfer errors
	CodeStaleSourceRoom      Code = "STALE_SOURCE_ROOM"
	CodeTransferNotFound     Code = "TRANSFER_NOT_FOUND"
	CodeTransferNotPending   Code = "TRANSFER_NOT_PENDING"
	CodeTransferAlreadyOpen  Code = "TRANSFER_ALREADY_OPEN"
	CodeTransferSameRoom     Code = "TRANSFER_SAME_ROOM"

	// Exam lifecycle errors
	CodeExamNotFound Code = "EXAM_NOT_FOUND"
	CodeExamEnded    Code = "EXAM_ENDED"

	// Concurrency errors
	CodeWriteContention Code = "WRITE_CONTENTION"

	// Authorization errors (room-scoping only; full authz is resolved by the caller)
	CodeForbidden Code = "FORBIDDEN"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeMissingFields, CodeInvalidRole, CodeInvalidStatus, CodeInvalidTransition:
		return codes.InvalidArgument
	case CodeRoomFull, CodeStudentAlreadyInExam, CodeStaleSourceRoom,
		CodeTransferNotPending, CodeTransferAlreadyOpen, CodeTransferSameRoom,
		CodeExamEnded:
		return codes.FailedPrecondition
	case CodeWriteContention:
		return codes.Aborted
	case CodeRoomNotFound, CodeStudentNotFound, CodeTransferNotFound,
		CodeExamNotFound, CodeNotFound:
		return codes.NotFound
	case CodeForbidden:
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}
