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

const seriesColumns = `id, course_type_id, name, start_date, day_of_week, start_time, end_time,
        number_of_weeks, location, instructor_id, max_capacity, enrolled_count, status,
        booking_opens_at, booking_closes_at, deposit_required, deposit_cents, full_payment_cents,
        waitlist_enabled, allow_drop_ins, created_at, updated_at`

// SeriesRepository handles persistence of series.
type SeriesRepository struct {
	db *sqlx.DB
}

// NewSeriesRepository constructs the repository.
func NewSeriesRepository(db *sqlx.DB) *SeriesRepository {
	return &SeriesRepository{db: db}
}

// List returns series per filter with pagination.
func (r *SeriesRepository) List(ctx context.Context, filter models.SeriesFilter) ([]models.Series, int, error) {
	base := "FROM series"
	var conditions []string
	var args []interface{}

	if filter.CourseTypeID != "" {
		conditions = append(conditions, fmt.Sprintf("course_type_id = $%d", len(args)+1))
		args = append(args, filter.CourseTypeID)
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
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
		"start_date": "start_date",
		"name":       "name",
		"created_at": "created_at",
	}
	sortBy := allowedSorts[filter.SortBy]
	if sortBy == "" {
		sortBy = "start_date"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", seriesColumns, base+clause, sortBy, order, size, offset)
	var series []models.Series
	if err := r.db.SelectContext(ctx, &series, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list series: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count series: %w", err)
	}
	return series, total, nil
}

// FindByID returns a series by its ID.
func (r *SeriesRepository) FindByID(ctx context.Context, id string) (*models.Series, error) {
	query := fmt.Sprintf("SELECT %s FROM series WHERE id = $1", seriesColumns)
	var series models.Series
	if err := r.db.GetContext(ctx, &series, query, id); err != nil {
		return nil, err
	}
	return &series, nil
}

// Create persists a new series record.
func (r *SeriesRepository) Create(ctx context.Context, series *models.Series) error {
	if series.ID == "" {
		series.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if series.CreatedAt.IsZero() {
		series.CreatedAt = now
	}
	series.UpdatedAt = now
	if series.Status == "" {
		series.Status = models.SeriesStatusDraft
	}
	const query = `INSERT INTO series (id, course_type_id, name, start_date, day_of_week, start_time, end_time,
        number_of_weeks, location, instructor_id, max_capacity, enrolled_count, status,
        booking_opens_at, booking_closes_at, deposit_required, deposit_cents, full_payment_cents,
        waitlist_enabled, allow_drop_ins, created_at, updated_at)
        VALUES (:id, :course_type_id, :name, :start_date, :day_of_week, :start_time, :end_time,
        :number_of_weeks, :location, :instructor_id, :max_capacity, :enrolled_count, :status,
        :booking_opens_at, :booking_closes_at, :deposit_required, :deposit_cents, :full_payment_cents,
        :waitlist_enabled, :allow_drop_ins, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, series); err != nil {
		return fmt.Errorf("create series: %w", err)
	}
	return nil
}

// UpdateStatus advances the series lifecycle.
func (r *SeriesRepository) UpdateStatus(ctx context.Context, id string, status models.SeriesStatus) error {
	const query = `UPDATE series SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update series status: %w", err)
	}
	return nil
}

// TryReserveSlot atomically increments enrolled_count while below capacity.
// Returns false when the series is full; two racing bookings for the last
// slot can never both succeed.
func (r *SeriesRepository) TryReserveSlot(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE series SET enrolled_count = enrolled_count + 1, updated_at = $2
        WHERE id = $1 AND enrolled_count < max_capacity`
	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("reserve series slot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve series slot result: %w", err)
	}
	return affected == 1, nil
}

// ReleaseSlot decrements enrolled_count, never below zero.
func (r *SeriesRepository) ReleaseSlot(ctx context.Context, id string) error {
	const query = `UPDATE series SET enrolled_count = enrolled_count - 1, updated_at = $2
        WHERE id = $1 AND enrolled_count > 0`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("release series slot: %w", err)
	}
	return nil
}
