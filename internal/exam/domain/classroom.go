package domain

import "fmt"

// Classroom describes one room used by a running exam. The room catalog is
// fixed for the duration of the exam.
type Classroom struct {
	// ID is the room identifier (e.g. "A101").
	ID string
	// Name is an optional display name.
	Name string
	// Rows and Cols describe a seat grid. When both are set, seat
	// identifiers are generated as R{row}-C{col} with 1-based indices.
	Rows int
	Cols int
	// Seats is an explicit seat list. When non-empty it takes precedence
	// over the grid for seat identity.
	Seats []string
	// SeatCount is an explicit capacity, when known independently of the
	// grid or seat list.
	SeatCount int
	// SupervisorID is the supervisor assigned to this room, if any.
	SupervisorID string
}

// Capacity resolves the room's seat capacity. The second return value is
// false when the capacity is unknown; an unknown capacity never blocks
// additions by count alone, seat exhaustion still does.
func (c Classroom) Capacity() (int, bool) {
	if c.SeatCount > 0 {
		return c.SeatCount, true
	}
	if c.Rows > 0 && c.Cols > 0 {
		return c.Rows * c.Cols, true
	}
	if len(c.Seats) > 0 {
		return len(c.Seats), true
	}
	return 0, false
}

// SeatIDs returns the room's valid seat identifiers in stable scan order:
// the explicit seat list in list order, otherwise row-major grid
// coordinates. Rooms with neither have no known seats.
func (c Classroom) SeatIDs() []string {
	if len(c.Seats) > 0 {
		out := make([]string, len(c.Seats))
		copy(out, c.Seats)
		return out
	}
	if c.Rows <= 0 || c.Cols <= 0 {
		return nil
	}
	out := make([]string, 0, c.Rows*c.Cols)
	for row := 1; row <= c.Rows; row++ {
		for col := 1; col <= c.Cols; col++ {
			out = append(out, GridSeatID(row, col))
		}
	}
	return out
}

// GridSeatID formats the canonical seat identifier for a grid position.
// Row and column are 1-based.
func GridSeatID(row, col int) string {
	return fmt.Sprintf("R%d-C%d", row, col)
}
