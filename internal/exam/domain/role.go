package domain

import "strings"

// Role identifies the caller's resolved role. Authentication and full
// authorization are handled by the caller layer; the engine only gates
// operations and scopes visibility by role.
type Role string

const (
	// RoleAdmin can perform every engine operation and sees the whole exam.
	RoleAdmin Role = "admin"
	// RoleLecturer manages the exam roster and sees the whole exam.
	RoleLecturer Role = "lecturer"
	// RoleSupervisor watches one room and mutates attendance within it.
	RoleSupervisor Role = "supervisor"
)

// ParseRole normalizes and validates a role string.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleLecturer:
		return RoleLecturer, true
	case RoleSupervisor:
		return RoleSupervisor, true
	}
	return "", false
}

// SeesWholeExam reports whether the role receives the unfiltered exam view.
func (r Role) SeesWholeExam() bool {
	return r == RoleAdmin || r == RoleLecturer
}

// Viewer identifies who is asking for a snapshot.
type Viewer struct {
	// UserID is the caller's identity as resolved by the outer layer.
	UserID string
	// Role is the caller's resolved role.
	Role Role
	// RoomID is an explicit user-level room assignment, if any. It takes
	// precedence over the exam's supervisor roster and the classroom's
	// assigned supervisor when resolving a supervisor's room.
	RoomID string
}
