package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pawsacademy/training-api/internal/models"
)

const makeupSessionColumns = `id, enrollment_id, series_id, missed_attendance_id, status,
        scheduled_date, scheduled_time, trainer_id, price_cents, created_at, updated_at`

// MakeupRepository handles the makeup credit ledger and makeup sessions.
type MakeupRepository struct {
	db *sqlx.DB
}

// NewMakeupRepository constructs the repository.
func NewMakeupRepository(db *sqlx.DB) *MakeupRepository {
	return &MakeupRepository{db: db}
}

// FindCreditByEnrollment returns the enrollment's credit ledger, or
// sql.ErrNoRows when no ledger was provisioned.
func (r *MakeupRepository) FindCreditByEnrollment(ctx context.Context, enrollmentID string) (*models.MakeupCredit, error) {
	const query = `SELECT id, enrollment_id, series_id, credits_available, credits_used, expires_at
        FROM makeup_credits WHERE enrollment_id = $1`
	var credit models.MakeupCredit
	if err := r.db.GetContext(ctx, &credit, query, enrollmentID); err != nil {
		return nil, err
	}
	return &credit, nil
}

// CreateCredit provisions the credit ledger for a new enrollment.
func (r *MakeupRepository) CreateCredit(ctx context.Context, credit *models.MakeupCredit) error {
	if credit.ID == "" {
		credit.ID = uuid.NewString()
	}
	const query = `INSERT INTO makeup_credits (id, enrollment_id, series_id, credits_available, credits_used, expires_at)
        VALUES (:id, :enrollment_id, :series_id, :credits_available, :credits_used, :expires_at)`
	if _, err := r.db.NamedExecContext(ctx, query, credit); err != nil {
		return fmt.Errorf("create makeup credit: %w", err)
	}
	return nil
}

// SpendCredit atomically consumes one credit while any remain. Returns
// false when the ledger is exhausted.
func (r *MakeupRepository) SpendCredit(ctx context.Context, enrollmentID string) (bool, error) {
	const query = `UPDATE makeup_credits SET credits_used = credits_used + 1
        WHERE enrollment_id = $1 AND credits_used < credits_available`
	result, err := r.db.ExecContext(ctx, query, enrollmentID)
	if err != nil {
		return false, fmt.Errorf("spend makeup credit: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("spend makeup credit result: %w", err)
	}
	return affected == 1, nil
}

// CreateSession persists a new makeup session.
func (r *MakeupRepository) CreateSession(ctx context.Context, session *models.MakeupSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	const query = `INSERT INTO makeup_sessions (id, enrollment_id, series_id, missed_attendance_id, status,
        scheduled_date, scheduled_time, trainer_id, price_cents, created_at, updated_at)
        VALUES (:id, :enrollment_id, :series_id, :missed_attendance_id, :status,
        :scheduled_date, :scheduled_time, :trainer_id, :price_cents, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create makeup session: %w", err)
	}
	return nil
}

// FindSessionByID returns a makeup session by its ID.
func (r *MakeupRepository) FindSessionByID(ctx context.Context, id string) (*models.MakeupSession, error) {
	query := fmt.Sprintf("SELECT %s FROM makeup_sessions WHERE id = $1", makeupSessionColumns)
	var session models.MakeupSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindOpenByAttendance returns the pending or scheduled makeup session tied
// to a missed attendance record, or sql.ErrNoRows. At most one such session
// may exist per missed attendance.
func (r *MakeupRepository) FindOpenByAttendance(ctx context.Context, attendanceID string) (*models.MakeupSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM makeup_sessions
        WHERE missed_attendance_id = $1 AND status IN ($2, $3) LIMIT 1`, makeupSessionColumns)
	var session models.MakeupSession
	err := r.db.GetContext(ctx, &session, query, attendanceID, models.MakeupStatusPending, models.MakeupStatusScheduled)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessionsByEnrollment returns the enrollment's makeup sessions.
func (r *MakeupRepository) ListSessionsByEnrollment(ctx context.Context, enrollmentID string) ([]models.MakeupSession, error) {
	query := fmt.Sprintf("SELECT %s FROM makeup_sessions WHERE enrollment_id = $1 ORDER BY created_at ASC", makeupSessionColumns)
	var sessions []models.MakeupSession
	if err := r.db.SelectContext(ctx, &sessions, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list makeup sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionSchedule attaches date, time and trainer and moves the
// session to scheduled.
func (r *MakeupRepository) UpdateSessionSchedule(ctx context.Context, id string, date time.Time, startTime, trainerID string) error {
	const query = `UPDATE makeup_sessions
        SET status = $2, scheduled_date = $3, scheduled_time = $4, trainer_id = $5, updated_at = $6
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.MakeupStatusScheduled, date, startTime, trainerID, time.Now().UTC()); err != nil {
		return fmt.Errorf("schedule makeup session: %w", err)
	}
	return nil
}

// UpdateSessionStatus transitions a makeup session.
func (r *MakeupRepository) UpdateSessionStatus(ctx context.Context, id string, status models.MakeupSessionStatus) error {
	const query = `UPDATE makeup_sessions SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update makeup session status: %w", err)
	}
	return nil
}
