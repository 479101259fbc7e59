package models

import (
	"time"

	"github.com/lib/pq"
)

// Certificate is issued exactly once when an enrollment completes.
// The course type is referenced by id, never by name matching.
type Certificate struct {
	ID                    string         `db:"id" json:"id"`
	EnrollmentID          string         `db:"enrollment_id" json:"enrollment_id"`
	SeriesID              string         `db:"series_id" json:"series_id"`
	CourseTypeID          string         `db:"course_type_id" json:"course_type_id"`
	PetID                 string         `db:"pet_id" json:"pet_id"`
	CompletionDate        time.Time      `db:"completion_date" json:"completion_date"`
	CertificateNumber     string         `db:"certificate_number" json:"certificate_number"`
	UnlockedNextCourseIDs pq.StringArray `db:"unlocked_next_course_ids" json:"unlocked_next_course_ids"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
}

// ProgressionStatus classifies a course type for a pet's progression view.
type ProgressionStatus string

const (
	ProgressionStatusCompleted ProgressionStatus = "completed"
	ProgressionStatusUnlocked  ProgressionStatus = "unlocked"
	ProgressionStatusLocked    ProgressionStatus = "locked"
)

// CourseProgression reports a pet's standing against one course type.
type CourseProgression struct {
	CourseTypeID         string            `json:"course_type_id"`
	CourseName           string            `json:"course_name"`
	Status               ProgressionStatus `json:"status"`
	MissingPrerequisites []string          `json:"missing_prerequisites,omitempty"`
	CertificateID        *string           `json:"certificate_id,omitempty"`
}
