package models

import (
	"math"
	"time"
)

// MakeupCredit is the per-enrollment replacement-session ledger.
type MakeupCredit struct {
	ID               string     `db:"id" json:"id"`
	EnrollmentID     string     `db:"enrollment_id" json:"enrollment_id"`
	SeriesID         string     `db:"series_id" json:"series_id"`
	CreditsAvailable int        `db:"credits_available" json:"credits_available"`
	CreditsUsed      int        `db:"credits_used" json:"credits_used"`
	ExpiresAt        *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// Remaining returns the number of credits still spendable at the given instant.
func (c *MakeupCredit) Remaining(now time.Time) int {
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return 0
	}
	remaining := c.CreditsAvailable - c.CreditsUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MakeupSessionStatus represents the makeup session lifecycle.
type MakeupSessionStatus string

const (
	MakeupStatusPending   MakeupSessionStatus = "pending"
	MakeupStatusScheduled MakeupSessionStatus = "scheduled"
	MakeupStatusCompleted MakeupSessionStatus = "completed"
	MakeupStatusCancelled MakeupSessionStatus = "cancelled"
)

// Open reports whether the makeup session still occupies its missed slot.
func (s MakeupSessionStatus) Open() bool {
	return s == MakeupStatusPending || s == MakeupStatusScheduled
}

// MakeupSession is a replacement session for a missed attendance.
// Price is resolved once at creation and frozen on the record.
type MakeupSession struct {
	ID                 string              `db:"id" json:"id"`
	EnrollmentID       string              `db:"enrollment_id" json:"enrollment_id"`
	SeriesID           string              `db:"series_id" json:"series_id"`
	MissedAttendanceID string              `db:"missed_attendance_id" json:"missed_attendance_id"`
	Status             MakeupSessionStatus `db:"status" json:"status"`
	ScheduledDate      *time.Time          `db:"scheduled_date" json:"scheduled_date,omitempty"`
	ScheduledTime      *string             `db:"scheduled_time" json:"scheduled_time,omitempty"`
	TrainerID          *string             `db:"trainer_id" json:"trainer_id,omitempty"`
	PriceCents         int64               `db:"price_cents" json:"price_cents"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`
}

// MakeupPricingKind tags the pricing rule variant.
type MakeupPricingKind string

const (
	MakeupPricingFixed      MakeupPricingKind = "fixed"
	MakeupPricingPercentage MakeupPricingKind = "percentage"
	MakeupPricingPerSession MakeupPricingKind = "per_session"
)

// MakeupPricingRule is the facility-configured pricing policy.
type MakeupPricingRule struct {
	Kind               MakeupPricingKind `db:"kind" json:"kind"`
	AmountCents        int64             `db:"amount_cents" json:"amount_cents"`
	PercentageOfSeries float64           `db:"percentage_of_series" json:"percentage_of_series"`
}

// Price resolves the makeup fee for a series with the given full payment amount.
// Percentage amounts round to the nearest cent.
func (r MakeupPricingRule) Price(seriesFullPaymentCents int64) int64 {
	switch r.Kind {
	case MakeupPricingPercentage:
		return int64(math.Round(float64(seriesFullPaymentCents) * r.PercentageOfSeries))
	default:
		return r.AmountCents
	}
}
