// Package alert derives ephemeral warnings from the exam document. Alerts
// are computed fresh on every read and never stored; they disappear on
// their own once the underlying condition clears.
package alert

import (
	"fmt"
	"time"

	"github.com/invigil/invigil/internal/exam/domain"
	"github.com/invigil/invigil/internal/exam/event"
)

// Type identifies an alert condition.
type Type string

const (
	// TypeToiletLong fires while a student's toilet break exceeds the
	// configured threshold.
	TypeToiletLong Type = "TOILET_LONG"
	// TypeTransferPendingInExam fires for whole-exam viewers while any transfer
	// awaits a decision.
	TypeTransferPendingInExam Type = "TRANSFER_PENDING_IN_EXAM"
	// TypeTransferPendingToYou fires for the supervisor of a transfer's
	// target room.
	TypeTransferPendingToYou Type = "TRANSFER_PENDING_TO_YOU"
	// TypeTransferRoomFull fires while a pending transfer's last approval
	// attempt was blocked by a full target room.
	TypeTransferRoomFull Type = "TRANSFER_ROOM_FULL"
	// TypeTimeRemaining fires once the sweeper has marked a remaining-time
	// threshold and the exam is still running.
	TypeTimeRemaining Type = "TIME_REMAINING"
)

// DefaultToiletThreshold is how long a toilet break may run before it is
// flagged.
const DefaultToiletThreshold = 10 * time.Minute

// Alert is one derived warning.
type Alert struct {
	Type       Type           `json:"type"`
	Severity   event.Severity `json:"severity"`
	StudentID  string         `json:"student_id,omitempty"`
	RoomID     string         `json:"room_id,omitempty"`
	TransferID string         `json:"transfer_id,omitempty"`
	Message    string         `json:"message"`
	Since      time.Time      `json:"since"`
}

// Options tune the derivation thresholds.
type Options struct {
	ToiletThreshold time.Duration
}

func (o Options) toiletThreshold() time.Duration {
	if o.ToiletThreshold > 0 {
		return o.ToiletThreshold
	}
	return DefaultToiletThreshold
}

// Derive computes the alerts a viewer should see right now. Supervisors
// receive alerts scoped to viewerRoom; pass viewerRoom == "" for viewers
// who see the whole exam.
func Derive(exam *domain.ExamAggregate, viewerRoom string, now time.Time, opts Options) []Alert {
	var alerts []Alert

	threshold := opts.toiletThreshold()
	for studentID, record := range exam.Records {
		if record.Status != domain.StatusTempOut {
			continue
		}
		if viewerRoom != "" && record.RoomID != viewerRoom {
			continue
		}
		// The file's open break is authoritative; the record's out
		// timestamp covers files that were never built or were lost.
		var leftAt time.Time
		if file, ok := exam.Files[studentID]; ok && file.ActiveToilet != nil {
			leftAt = file.ActiveToilet.LeftAt
		} else if record.OutStartedAt != nil {
			leftAt = *record.OutStartedAt
		} else {
			continue
		}
		elapsed := now.Sub(leftAt)
		if elapsed < threshold {
			continue
		}
		alerts = append(alerts, Alert{
			Type:      TypeToiletLong,
			Severity:  event.SeverityMedium,
			StudentID: studentID,
			RoomID:    record.RoomID,
			Message:   fmt.Sprintf("%s has been out for %d minutes", record.DisplayName(), int(elapsed.Minutes())),
			Since:     leftAt,
		})
	}

	for _, request := range exam.PendingTransfers() {
		switch {
		case viewerRoom == "":
			alerts = append(alerts, Alert{
				Type:       TypeTransferPendingInExam,
				Severity:   event.SeverityLow,
				StudentID:  request.StudentID,
				RoomID:     request.ToRoomID,
				TransferID: request.ID,
				Message:    fmt.Sprintf("transfer %s -> %s awaits a decision", request.FromRoomID, request.ToRoomID),
				Since:      request.CreatedAt,
			})
		case request.ToRoomID == viewerRoom:
			alerts = append(alerts, Alert{
				Type:       TypeTransferPendingToYou,
				Severity:   event.SeverityMedium,
				StudentID:  request.StudentID,
				RoomID:     request.ToRoomID,
				TransferID: request.ID,
				Message:    fmt.Sprintf("incoming transfer from %s awaits a decision", request.FromRoomID),
				Since:      request.CreatedAt,
			})
		}

		if request.LastError != domain.TransferErrorRoomFull {
			continue
		}
		if viewerRoom != "" && request.ToRoomID != viewerRoom && request.FromRoomID != viewerRoom {
			continue
		}
		since := request.CreatedAt
		if request.LastErrorAt != nil {
			since = *request.LastErrorAt
		}
		alerts = append(alerts, Alert{
			Type:       TypeTransferRoomFull,
			Severity:   event.SeverityMedium,
			StudentID:  request.StudentID,
			RoomID:     request.ToRoomID,
			TransferID: request.ID,
			Message:    fmt.Sprintf("room %s is full, transfer blocked", request.ToRoomID),
			Since:      since,
		})
	}

	if exam.Status == domain.ExamRunning && !exam.EndsAt.IsZero() && now.Before(exam.EndsAt) {
		tightest := 0
		for key, fired := range exam.FiredAlerts {
			if !fired {
				continue
			}
			var minutes int
			if _, err := fmt.Sscanf(key, "time_remaining_%dm", &minutes); err != nil || minutes <= 0 {
				continue
			}
			if tightest == 0 || minutes < tightest {
				tightest = minutes
			}
		}
		if tightest > 0 {
			severity := event.SeverityLow
			switch {
			case tightest <= 5:
				severity = event.SeverityHigh
			case tightest <= 15:
				severity = event.SeverityMedium
			}
			alerts = append(alerts, Alert{
				Type:     TypeTimeRemaining,
				Severity: severity,
				Message:  fmt.Sprintf("%d minutes remaining", tightest),
				Since:    exam.EndsAt.Add(-time.Duration(tightest) * time.Minute),
			})
		}
	}

	return alerts
}
