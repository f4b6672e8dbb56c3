package domain

import "github.com/invigil/invigil/internal/platform/id"

// NewExamID generates an identifier for a new exam aggregate.
func NewExamID() (string, error) {
	return id.NewID()
}

// NewTransferID generates an identifier for a new transfer request.
func NewTransferID() (string, error) {
	return id.NewID()
}

// NewEventID generates an identifier for a new journal event.
func NewEventID() (string, error) {
	return id.NewID()
}
