package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pawsacademy/training-api/internal/models"
)

const attendanceColumns = `id, enrollment_id, session_id, session_number, status, check_in_time, check_out_time, created_at`

// AttendanceRepository handles persistence of attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Upsert writes the attendance record for (enrollment, session). A corrected
// record replaces the previous status in place.
func (r *AttendanceRepository) Upsert(ctx context.Context, attendance *models.Attendance) error {
	if attendance.ID == "" {
		attendance.ID = uuid.NewString()
	}
	if attendance.CreatedAt.IsZero() {
		attendance.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attendance (id, enrollment_id, session_id, session_number, status, check_in_time, check_out_time, created_at)
        VALUES (:id, :enrollment_id, :session_id, :session_number, :status, :check_in_time, :check_out_time, :created_at)
        ON CONFLICT (enrollment_id, session_id)
        DO UPDATE SET status = EXCLUDED.status, check_in_time = EXCLUDED.check_in_time, check_out_time = EXCLUDED.check_out_time`
	if _, err := r.db.NamedExecContext(ctx, query, attendance); err != nil {
		return fmt.Errorf("upsert attendance: %w", err)
	}
	return nil
}

// FindByID returns an attendance record by its ID.
func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.Attendance, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance WHERE id = $1", attendanceColumns)
	var attendance models.Attendance
	if err := r.db.GetContext(ctx, &attendance, query, id); err != nil {
		return nil, err
	}
	return &attendance, nil
}

// FindByEnrollmentAndSession returns the record for one (enrollment, session)
// pair, or sql.ErrNoRows when attendance was never recorded.
func (r *AttendanceRepository) FindByEnrollmentAndSession(ctx context.Context, enrollmentID, sessionID string) (*models.Attendance, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance WHERE enrollment_id = $1 AND session_id = $2", attendanceColumns)
	var attendance models.Attendance
	if err := r.db.GetContext(ctx, &attendance, query, enrollmentID, sessionID); err != nil {
		return nil, err
	}
	return &attendance, nil
}

// ListByEnrollment returns all attendance records ordered by session number.
func (r *AttendanceRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Attendance, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance WHERE enrollment_id = $1 ORDER BY session_number ASC", attendanceColumns)
	var records []models.Attendance
	if err := r.db.SelectContext(ctx, &records, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}
