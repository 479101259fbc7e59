package models

import (
	"time"

	"github.com/lib/pq"
)

// CourseType is an immutable catalog definition for a training course.
type CourseType struct {
	ID               string         `db:"id" json:"id"`
	Name             string         `db:"name" json:"name"`
	Description      string         `db:"description" json:"description"`
	DefaultWeeks     int            `db:"default_weeks" json:"default_weeks"`
	MinAgeWeeks      int            `db:"min_age_weeks" json:"min_age_weeks"`
	MaxAgeWeeks      *int           `db:"max_age_weeks" json:"max_age_weeks,omitempty"`
	RequiredVaccines pq.StringArray `db:"required_vaccines" json:"required_vaccines"`
	Prerequisites    pq.StringArray `db:"prerequisites" json:"prerequisites"`
	Active           bool           `db:"active" json:"active"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// HasPrerequisite reports whether the given course type id is a prerequisite.
func (c *CourseType) HasPrerequisite(courseTypeID string) bool {
	for _, id := range c.Prerequisites {
		if id == courseTypeID {
			return true
		}
	}
	return false
}

// CourseTypeFilter scopes catalog listing.
type CourseTypeFilter struct {
	ActiveOnly bool
	Search     string
	Page       int
	PageSize   int
}
