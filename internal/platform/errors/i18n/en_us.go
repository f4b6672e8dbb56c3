package i18n

// Error codes must match the codes defined in internal/platform/errors/codes.go.
// These are duplicated as strings to avoid an import cycle.
const (
	CodeMissingFields        = "MISSING_FIELDS"
	CodeInvalidRole          = "INVALID_ROLE"
	CodeInvalidStatus        = "INVALID_STATUS"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeRoomFull             = "ROOM_FULL"
	CodeRoomNotFound         = "ROOM_NOT_FOUND"
	CodeStudentAlreadyInExam = "STUDENT_ALREADY_IN_EXAM"
	CodeStudentNotFound      = "STUDENT_NOT_FOUND"
	CodeStaleSourceRoom      = "STALE_SOURCE_ROOM"
	CodeTransferNotFound     = "TRANSFER_NOT_FOUND"
	CodeTransferNotPending   = "TRANSFER_NOT_PENDING"
	CodeTransferAlreadyOpen  = "TRANSFER_ALREADY_OPEN"
	CodeTransferSameRoom     = "TRANSFER_SAME_ROOM"
	CodeExamNotFound         = "EXAM_NOT_FOUND"
	CodeExamEnded            = "EXAM_ENDED"
	CodeWriteContention      = "WRITE_CONTENTION"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
)

var enUSCatalog = &Catalog{
	locale: "en-US",
	messages: map[Code]string{
		CodeMissingFields:        "Required fields are missing: {{.Fields}}",
		CodeInvalidRole:          "Role {{.Role}} is not valid for this operation",
		CodeInvalidStatus:        "Attendance status {{.Status}} is not recognized",
		CodeInvalidTransition:    "Cannot change attendance status from {{.From}} to {{.To}}",
		CodeRoomFull:             "Room {{.RoomID}} has no free seats",
		CodeRoomNotFound:         "Room {{.RoomID}} is not part of this exam",
		CodeStudentAlreadyInExam: "Student {{.StudentID}} is already registered in this exam",
		CodeStudentNotFound:      "Student {{.StudentID}} is not registered in this exam",
		CodeStaleSourceRoom:      "Student {{.StudentID}} is no longer in room {{.FromRoomID}}",
		CodeTransferNotFound:     "Transfer request was not found",
		CodeTransferNotPending:   "Transfer request is already {{.Status}}",
		CodeTransferAlreadyOpen:  "Student {{.StudentID}} already has a pending transfer",
		CodeTransferSameRoom:     "Transfer target must differ from the current room",
		CodeExamNotFound:         "Exam was not found",
		CodeExamEnded:            "Exam has ended and can no longer be modified",
		CodeWriteContention:      "The exam was updated by someone else, please retry",
		CodeForbidden:            "You are not allowed to perform this operation",
		CodeNotFound:             "The requested record was not found",
	},
}
