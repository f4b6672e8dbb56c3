package domain

import "time"

// timelineCap bounds the per-student timeline so files stay small.
const timelineCap = 50

// ActiveToilet marks an open toilet break on a student file.
type ActiveToilet struct {
	// LeftAt is when the student stepped out.
	LeftAt time.Time `json:"left_at"`
	// ByActorID is who recorded the break.
	ByActorID string `json:"by_actor_id,omitempty"`
}

// TimelineEntry is one line in a student's bounded activity timeline.
type TimelineEntry struct {
	At   time.Time `json:"at"`
	Kind string    `json:"kind"`
	Note string    `json:"note,omitempty"`
}

// StudentFile holds running per-student aggregates maintained incrementally
// as events are appended, so reads never rescan the whole journal.
type StudentFile struct {
	StudentID      string          `json:"student_id"`
	ToiletCount    int             `json:"toilet_count"`
	TotalToiletMs  int64           `json:"total_toilet_ms"`
	ActiveToilet   *ActiveToilet   `json:"active_toilet,omitempty"`
	IncidentCount  int             `json:"incident_count"`
	LastIncidentAt *time.Time      `json:"last_incident_at,omitempty"`
	Notes          []string        `json:"notes,omitempty"`
	Timeline       []TimelineEntry `json:"timeline,omitempty"`
}

// appendTimeline adds an entry, dropping the oldest once the cap is hit.
func (f *StudentFile) appendTimeline(entry TimelineEntry) {
	f.Timeline = append(f.Timeline, entry)
	if overflow := len(f.Timeline) - timelineCap; overflow > 0 {
		f.Timeline = append(f.Timeline[:0], f.Timeline[overflow:]...)
	}
}

// clone returns a deep copy of the file.
func (f StudentFile) clone() StudentFile {
	out := f
	if f.ActiveToilet != nil {
		at := *f.ActiveToilet
		out.ActiveToilet = &at
	}
	if f.LastIncidentAt != nil {
		last := *f.LastIncidentAt
		out.LastIncidentAt = &last
	}
	if f.Notes != nil {
		out.Notes = append([]string(nil), f.Notes...)
	}
	if f.Timeline != nil {
		out.Timeline = append([]TimelineEntry(nil), f.Timeline...)
	}
	return out
}
