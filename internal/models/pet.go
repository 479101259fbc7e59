package models

import (
	"time"

	"github.com/lib/pq"
)

// Pet is a facility client animal. Owned by the customer platform; the engine
// reads it for eligibility and progression queries.
type Pet struct {
	ID            string         `db:"id" json:"id"`
	OwnerID       string         `db:"owner_id" json:"owner_id"`
	Name          string         `db:"name" json:"name"`
	Species       string         `db:"species" json:"species"`
	Breed         string         `db:"breed" json:"breed"`
	BirthDate     time.Time      `db:"birth_date" json:"birth_date"`
	BehaviorFlags pq.StringArray `db:"behavior_flags" json:"behavior_flags"`
	Active        bool           `db:"active" json:"active"`
}

// AgeInWeeks returns the pet's age in whole weeks at the given instant.
func (p *Pet) AgeInWeeks(now time.Time) int {
	if now.Before(p.BirthDate) {
		return 0
	}
	return int(now.Sub(p.BirthDate).Hours() / (24 * 7))
}

// HasFlag reports whether the pet carries the given behavior flag.
func (p *Pet) HasFlag(flag string) bool {
	for _, f := range p.BehaviorFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// VaccinationRecord is a read-only row from the vaccination store.
type VaccinationRecord struct {
	ID             string    `db:"id" json:"id"`
	PetID          string    `db:"pet_id" json:"pet_id"`
	VaccineName    string    `db:"vaccine_name" json:"vaccine_name"`
	AdministeredAt time.Time `db:"administered_at" json:"administered_at"`
	ExpiryDate     time.Time `db:"expiry_date" json:"expiry_date"`
}

// BehaviorExclusionRule blocks flagged pets from specific course types.
// Rules are authored per facility through the configuration service.
type BehaviorExclusionRule struct {
	ID           string         `db:"id" json:"id"`
	CourseTypeID string         `db:"course_type_id" json:"course_type_id"`
	BlockedFlags pq.StringArray `db:"blocked_flags" json:"blocked_flags"`
	Reason       string         `db:"reason" json:"reason"`
}
