package models

import "time"

// AttendanceStatus represents the outcome of one session for one enrollment.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusLate    AttendanceStatus = "late"
	AttendanceStatusExcused AttendanceStatus = "excused"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// Counts reports whether the status counts toward sessions attended.
func (s AttendanceStatus) Counts() bool {
	return s == AttendanceStatusPresent || s == AttendanceStatusLate
}

// Missed reports whether the status should signal the makeup workflow.
func (s AttendanceStatus) Missed() bool {
	return s == AttendanceStatusAbsent || s == AttendanceStatusExcused
}

// Attendance is one record per (enrollment, session).
type Attendance struct {
	ID            string           `db:"id" json:"id"`
	EnrollmentID  string           `db:"enrollment_id" json:"enrollment_id"`
	SessionID     string           `db:"session_id" json:"session_id"`
	SessionNumber int              `db:"session_number" json:"session_number"`
	Status        AttendanceStatus `db:"status" json:"status"`
	CheckInTime   *time.Time       `db:"check_in_time" json:"check_in_time,omitempty"`
	CheckOutTime  *time.Time       `db:"check_out_time" json:"check_out_time,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}
