package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/invigil/invigil/internal/exam/event"
)

// Notification tells connected clients that an exam changed and what kind
// of change it was. It carries no payload; clients fetch a fresh snapshot.
type Notification struct {
	Type      string    `json:"type"`
	ExamID    string    `json:"exam_id"`
	RoomID    string    `json:"room_id,omitempty"`
	StudentID string    `json:"student_id,omitempty"`
	At        time.Time `json:"at"`
}

// Broadcaster fans notifications out to connected clients. Delivery is
// best effort and happens only after the mutation committed; a slow or
// failing broadcaster never blocks or rolls back a write.
type Broadcaster interface {
	Broadcast(ctx context.Context, notification Notification)
}

// NotificationType maps a journal event type to its wire notification
// name.
func NotificationType(eventType event.Type) string {
	parts := strings.SplitN(string(eventType), ".", 2)
	if len(parts) != 2 {
		return strings.ToUpper(string(eventType))
	}
	switch eventType {
	case event.TypeStatusChanged:
		return "STATUS_CHANGED"
	case event.TypeIncidentLogged:
		return "INCIDENT_LOGGED"
	case event.TypeCallLecturer:
		return "CALL_LECTURER"
	case event.TypeTimeRemaining:
		return "TIME_REMAINING"
	}
	return strings.ToUpper(parts[0] + "_" + parts[1])
}

// NopBroadcaster drops every notification.
type NopBroadcaster struct{}

// Broadcast discards the notification.
func (NopBroadcaster) Broadcast(context.Context, Notification) {}

// LogBroadcaster writes notifications to the process log. It stands in for
// a real push transport in single-process deployments.
type LogBroadcaster struct{}

// Broadcast logs the notification.
func (LogBroadcaster) Broadcast(_ context.Context, notification Notification) {
	log.Printf("broadcast type=%s exam_id=%s room_id=%s student_id=%s",
		notification.Type, notification.ExamID, notification.RoomID, notification.StudentID)
}
