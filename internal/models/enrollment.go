package models

import (
	"math"
	"time"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. Dropped and completed are terminal.
const (
	EnrollmentStatusWaitlisted EnrollmentStatus = "waitlisted"
	EnrollmentStatusEnrolled   EnrollmentStatus = "enrolled"
	EnrollmentStatusCompleted  EnrollmentStatus = "completed"
	EnrollmentStatusDropped    EnrollmentStatus = "dropped"
)

// Terminal reports whether the status permits no further transitions.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusDropped
}

// Enrollment captures a pet's booking into a series, tracked through
// attendance to completion. Owned exclusively by the enrollment service.
type Enrollment struct {
	ID                   string           `db:"id" json:"id"`
	SeriesID             string           `db:"series_id" json:"series_id"`
	PetID                string           `db:"pet_id" json:"pet_id"`
	OwnerID              string           `db:"owner_id" json:"owner_id"`
	Status               EnrollmentStatus `db:"status" json:"status"`
	SessionsAttended     int              `db:"sessions_attended" json:"sessions_attended"`
	TotalSessions        int              `db:"total_sessions" json:"total_sessions"`
	CurrentSessionNumber int              `db:"current_session_number" json:"current_session_number"`
	Progress             int              `db:"progress" json:"progress"`
	WaitlistPosition     *int             `db:"waitlist_position" json:"waitlist_position,omitempty"`
	JoinedAt             time.Time        `db:"joined_at" json:"joined_at"`
	CompletedAt          *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	DroppedAt            *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
}

// ProgressPercent computes progress = round(100 * attended / total).
func ProgressPercent(attended, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(attended) / float64(total)))
}

// WaitlistOfferStatus represents the state of a claim-window offer.
type WaitlistOfferStatus string

const (
	WaitlistOfferStatusOffered WaitlistOfferStatus = "offered"
	WaitlistOfferStatusClaimed WaitlistOfferStatus = "claimed"
	WaitlistOfferStatusExpired WaitlistOfferStatus = "expired"
)

// WaitlistOffer is a time-boxed slot offer to a waitlisted enrollment.
// The claim token is stored only as a bcrypt hash.
type WaitlistOffer struct {
	ID           string              `db:"id" json:"id"`
	EnrollmentID string              `db:"enrollment_id" json:"enrollment_id"`
	SeriesID     string              `db:"series_id" json:"series_id"`
	TokenHash    string              `db:"token_hash" json:"-"`
	Status       WaitlistOfferStatus `db:"status" json:"status"`
	OfferedAt    time.Time           `db:"offered_at" json:"offered_at"`
	ExpiresAt    time.Time           `db:"expires_at" json:"expires_at"`
}

// EnrollmentFilter scopes enrollment listing.
type EnrollmentFilter struct {
	SeriesID  string
	PetID     string
	OwnerID   string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
