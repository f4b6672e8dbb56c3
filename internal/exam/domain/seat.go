package domain

import (
	"strings"

	apperrors "github.com/invigil/invigil/internal/platform/errors"
)

// ErrNoFreeSeat indicates the room has no unoccupied seat left.
var ErrNoFreeSeat = apperrors.New(apperrors.CodeRoomFull, "no free seat available in room")

// NormalizeSeat canonicalizes a seat identifier for comparison. Seat ids are
// compared case-insensitively and without whitespace or separator
// characters, so "r1-c2", "R1C2" and " R1 - C2 " all collide.
func NormalizeSeat(seat string) string {
	var b strings.Builder
	for _, r := range seat {
		switch r {
		case ' ', '\t', '-', '_', '.', '/':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// FindFreeSeat returns the first seat of the room not present in occupied,
// scanning in the room's stable seat order. Occupied seats are matched after
// normalization. It never synthesizes a seat outside the room's known seat
// set; when every seat is taken (or the room has no known seats) it returns
// ErrNoFreeSeat.
func FindFreeSeat(room Classroom, occupied []string) (string, error) {
	taken := make(map[string]struct{}, len(occupied))
	for _, seat := range occupied {
		normalized := NormalizeSeat(seat)
		if normalized == "" {
			continue
		}
		taken[normalized] = struct{}{}
	}

	for _, seat := range room.SeatIDs() {
		if _, used := taken[NormalizeSeat(seat)]; !used {
			return seat, nil
		}
	}
	return "", ErrNoFreeSeat
}
