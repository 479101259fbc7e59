package models

import "time"

// SeriesStatus represents the lifecycle of a scheduled series.
type SeriesStatus string

// Possible series statuses.
const (
	SeriesStatusDraft      SeriesStatus = "draft"
	SeriesStatusOpen       SeriesStatus = "open"
	SeriesStatusClosed     SeriesStatus = "closed"
	SeriesStatusInProgress SeriesStatus = "in-progress"
	SeriesStatusCompleted  SeriesStatus = "completed"
	SeriesStatusCancelled  SeriesStatus = "cancelled"
)

// EnrollmentRules configures booking behaviour for a series.
type EnrollmentRules struct {
	BookingOpensAt    *time.Time `db:"booking_opens_at" json:"booking_opens_at,omitempty"`
	BookingClosesAt   *time.Time `db:"booking_closes_at" json:"booking_closes_at,omitempty"`
	DepositRequired   bool       `db:"deposit_required" json:"deposit_required"`
	DepositCents      int64      `db:"deposit_cents" json:"deposit_cents"`
	FullPaymentCents  int64      `db:"full_payment_cents" json:"full_payment_cents"`
	WaitlistEnabled   bool       `db:"waitlist_enabled" json:"waitlist_enabled"`
	AllowDropIns      bool       `db:"allow_drop_ins" json:"allow_drop_ins"`
}

// Series is a scheduled, recurring instance of a course type.
type Series struct {
	ID            string       `db:"id" json:"id"`
	CourseTypeID  string       `db:"course_type_id" json:"course_type_id"`
	Name          string       `db:"name" json:"name"`
	StartDate     time.Time    `db:"start_date" json:"start_date"`
	DayOfWeek     int          `db:"day_of_week" json:"day_of_week"`
	StartTime     string       `db:"start_time" json:"start_time"`
	EndTime       string       `db:"end_time" json:"end_time"`
	NumberOfWeeks int          `db:"number_of_weeks" json:"number_of_weeks"`
	Location      string       `db:"location" json:"location"`
	InstructorID  string       `db:"instructor_id" json:"instructor_id"`
	MaxCapacity   int          `db:"max_capacity" json:"max_capacity"`
	EnrolledCount int          `db:"enrolled_count" json:"enrolled_count"`
	Status        SeriesStatus `db:"status" json:"status"`
	EnrollmentRules
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// BookingWindowOpen reports whether the booking window contains the given instant.
func (s *Series) BookingWindowOpen(now time.Time) bool {
	if s.BookingOpensAt != nil && now.Before(*s.BookingOpensAt) {
		return false
	}
	if s.BookingClosesAt != nil && now.After(*s.BookingClosesAt) {
		return false
	}
	return true
}

// SeriesFilter scopes series listing.
type SeriesFilter struct {
	CourseTypeID string
	InstructorID string
	Status       SeriesStatus
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
