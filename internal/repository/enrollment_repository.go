package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pawsacademy/training-api/internal/models"
)

const enrollmentColumns = `id, series_id, pet_id, owner_id, status, sessions_attended, total_sessions,
        current_session_number, progress, waitlist_position, joined_at, completed_at, dropped_at`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments per filter with pagination.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	base := "FROM enrollments"
	var conditions []string
	var args []interface{}

	if filter.SeriesID != "" {
		conditions = append(conditions, fmt.Sprintf("series_id = $%d", len(args)+1))
		args = append(args, filter.SeriesID)
	}
	if filter.PetID != "" {
		conditions = append(conditions, fmt.Sprintf("pet_id = $%d", len(args)+1))
		args = append(args, filter.PetID)
	}
	if filter.OwnerID != "" {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)+1))
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"joined_at": "joined_at",
		"progress":  "progress",
		"status":    "status",
	}
	sortBy := allowedSorts[filter.SortBy]
	if sortBy == "" {
		sortBy = "joined_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", enrollmentColumns, base+clause, sortBy, order, size, offset)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE id = $1", enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindActiveBySeriesAndPet returns the pet's non-terminal enrollment in a
// series, or sql.ErrNoRows when there is none.
func (r *EnrollmentRepository) FindActiveBySeriesAndPet(ctx context.Context, seriesID, petID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments
        WHERE series_id = $1 AND pet_id = $2 AND status IN ($3, $4)`, enrollmentColumns)
	var enrollment models.Enrollment
	err := r.db.GetContext(ctx, &enrollment, query, seriesID, petID,
		models.EnrollmentStatusEnrolled, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListBySeries returns all enrollments of a series ordered by join time.
func (r *EnrollmentRepository) ListBySeries(ctx context.Context, seriesID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE series_id = $1 ORDER BY joined_at ASC", enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, seriesID); err != nil {
		return nil, fmt.Errorf("list series enrollments: %w", err)
	}
	return enrollments, nil
}

// ListCompletedByPet returns the pet's completed enrollments.
func (r *EnrollmentRepository) ListCompletedByPet(ctx context.Context, petID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments
        WHERE pet_id = $1 AND status = $2 ORDER BY completed_at DESC`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, petID, models.EnrollmentStatusCompleted); err != nil {
		return nil, fmt.Errorf("list completed enrollments: %w", err)
	}
	return enrollments, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.JoinedAt.IsZero() {
		enrollment.JoinedAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, series_id, pet_id, owner_id, status, sessions_attended,
        total_sessions, current_session_number, progress, waitlist_position, joined_at, completed_at, dropped_at)
        VALUES (:id, :series_id, :pet_id, :owner_id, :status, :sessions_attended,
        :total_sessions, :current_session_number, :progress, :waitlist_position, :joined_at, :completed_at, :dropped_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Delete removes an enrollment. Used only to unwind a booking whose
// deposit charge failed; committed enrollments are never deleted.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

// UpdateStatus moves the enrollment through its state machine.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	var query string
	switch status {
	case models.EnrollmentStatusCompleted:
		query = `UPDATE enrollments SET status = $2, completed_at = $3, waitlist_position = NULL WHERE id = $1`
	case models.EnrollmentStatusDropped:
		query = `UPDATE enrollments SET status = $2, dropped_at = $3, waitlist_position = NULL WHERE id = $1`
	default:
		query = `UPDATE enrollments SET status = $2, waitlist_position = NULL WHERE id = $1`
		if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
			return fmt.Errorf("update enrollment status: %w", err)
		}
		return nil
	}
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// UpdateAttendanceProgress writes the recomputed attendance counters.
func (r *EnrollmentRepository) UpdateAttendanceProgress(ctx context.Context, id string, attended, currentSession, progress int) error {
	const query = `UPDATE enrollments
        SET sessions_attended = $2, current_session_number = $3, progress = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, attended, currentSession, progress); err != nil {
		return fmt.Errorf("update enrollment progress: %w", err)
	}
	return nil
}

// ApplyMakeupProgress counts one completed makeup toward attendance. The
// increment and the progress recompute happen inside a single guarded
// update, so a concurrent attendance write can never be lost.
func (r *EnrollmentRepository) ApplyMakeupProgress(ctx context.Context, id string) error {
	const query = `UPDATE enrollments
        SET sessions_attended = sessions_attended + 1,
            progress = COALESCE(ROUND(100.0 * (sessions_attended + 1) / NULLIF(total_sessions, 0)), 0)
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("apply makeup progress: %w", err)
	}
	return nil
}

// NextWaitlistPosition returns max(position)+1 among the series' waitlist.
func (r *EnrollmentRepository) NextWaitlistPosition(ctx context.Context, seriesID string) (int, error) {
	const query = `SELECT COALESCE(MAX(waitlist_position), 0) + 1 FROM enrollments
        WHERE series_id = $1 AND status = $2`
	var next int
	if err := r.db.GetContext(ctx, &next, query, seriesID, models.EnrollmentStatusWaitlisted); err != nil {
		return 0, fmt.Errorf("next waitlist position: %w", err)
	}
	return next, nil
}

// FirstWaitlisted returns the lowest-position waitlisted enrollment of a
// series, or sql.ErrNoRows when the waitlist is empty.
func (r *EnrollmentRepository) FirstWaitlisted(ctx context.Context, seriesID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments
        WHERE series_id = $1 AND status = $2 ORDER BY waitlist_position ASC LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	err := r.db.GetContext(ctx, &enrollment, query, seriesID, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// UpdateWaitlistPosition moves one waitlist entry to a new position.
func (r *EnrollmentRepository) UpdateWaitlistPosition(ctx context.Context, id string, position int) error {
	const query = `UPDATE enrollments SET waitlist_position = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, position); err != nil {
		return fmt.Errorf("update waitlist position: %w", err)
	}
	return nil
}

// ShiftWaitlistAfter closes the gap left by a departing waitlist entry.
func (r *EnrollmentRepository) ShiftWaitlistAfter(ctx context.Context, seriesID string, position int) error {
	const query = `UPDATE enrollments SET waitlist_position = waitlist_position - 1
        WHERE series_id = $1 AND status = $2 AND waitlist_position > $3`
	if _, err := r.db.ExecContext(ctx, query, seriesID, models.EnrollmentStatusWaitlisted, position); err != nil {
		return fmt.Errorf("shift waitlist: %w", err)
	}
	return nil
}
