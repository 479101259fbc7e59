package models

import "time"

// SessionStatus represents a single session occurrence status.
type SessionStatus string

const (
	SessionStatusScheduled  SessionStatus = "scheduled"
	SessionStatusInProgress SessionStatus = "in-progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

// Session is one concrete weekly occurrence within a series.
// Session dates increase by exactly 7 days and share the series weekday;
// session numbers form a dense 1..N sequence.
type Session struct {
	ID            string        `db:"id" json:"id"`
	SeriesID      string        `db:"series_id" json:"series_id"`
	SessionNumber int           `db:"session_number" json:"session_number"`
	Date          time.Time     `db:"date" json:"date"`
	StartTime     string        `db:"start_time" json:"start_time"`
	EndTime       string        `db:"end_time" json:"end_time"`
	Status        SessionStatus `db:"status" json:"status"`
	EnrolledCount int           `db:"enrolled_count" json:"enrolled_count"`
}

// Started reports whether the session has left the scheduled state.
func (s *Session) Started() bool {
	return s.Status != SessionStatusScheduled
}
