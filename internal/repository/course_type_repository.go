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

const courseTypeColumns = `id, name, description, default_weeks, min_age_weeks, max_age_weeks,
        required_vaccines, prerequisites, active, created_at, updated_at`

// CourseTypeRepository handles persistence of catalog entries.
type CourseTypeRepository struct {
	db *sqlx.DB
}

// NewCourseTypeRepository constructs the repository.
func NewCourseTypeRepository(db *sqlx.DB) *CourseTypeRepository {
	return &CourseTypeRepository{db: db}
}

// List returns catalog entries per filter.
func (r *CourseTypeRepository) List(ctx context.Context, filter models.CourseTypeFilter) ([]models.CourseType, int, error) {
	base := "FROM course_types"
	var conditions []string
	var args []interface{}

	if filter.ActiveOnly {
		conditions = append(conditions, "active = TRUE")
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY name ASC LIMIT %d OFFSET %d", courseTypeColumns, base+clause, size, offset)
	var courseTypes []models.CourseType
	if err := r.db.SelectContext(ctx, &courseTypes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list course types: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count course types: %w", err)
	}
	return courseTypes, total, nil
}

// ListActive returns all active catalog entries.
func (r *CourseTypeRepository) ListActive(ctx context.Context) ([]models.CourseType, error) {
	query := fmt.Sprintf("SELECT %s FROM course_types WHERE active = TRUE ORDER BY name ASC", courseTypeColumns)
	var courseTypes []models.CourseType
	if err := r.db.SelectContext(ctx, &courseTypes, query); err != nil {
		return nil, fmt.Errorf("list active course types: %w", err)
	}
	return courseTypes, nil
}

// FindByID returns a catalog entry by its ID.
func (r *CourseTypeRepository) FindByID(ctx context.Context, id string) (*models.CourseType, error) {
	query := fmt.Sprintf("SELECT %s FROM course_types WHERE id = $1", courseTypeColumns)
	var courseType models.CourseType
	if err := r.db.GetContext(ctx, &courseType, query, id); err != nil {
		return nil, err
	}
	return &courseType, nil
}

// Create persists a new catalog entry.
func (r *CourseTypeRepository) Create(ctx context.Context, courseType *models.CourseType) error {
	if courseType.ID == "" {
		courseType.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if courseType.CreatedAt.IsZero() {
		courseType.CreatedAt = now
	}
	courseType.UpdatedAt = now
	const query = `INSERT INTO course_types (id, name, description, default_weeks, min_age_weeks, max_age_weeks,
        required_vaccines, prerequisites, active, created_at, updated_at)
        VALUES (:id, :name, :description, :default_weeks, :min_age_weeks, :max_age_weeks,
        :required_vaccines, :prerequisites, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, courseType); err != nil {
		return fmt.Errorf("create course type: %w", err)
	}
	return nil
}

// Deactivate retires a catalog entry without deleting it.
func (r *CourseTypeRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE course_types SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate course type: %w", err)
	}
	return nil
}
