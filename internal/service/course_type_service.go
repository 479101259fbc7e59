package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pawsacademy/training-api/internal/models"
	appErrors "github.com/pawsacademy/training-api/pkg/errors"
)

type courseTypeRepository interface {
	List(ctx context.Context, filter models.CourseTypeFilter) ([]models.CourseType, int, error)
	ListActive(ctx context.Context) ([]models.CourseType, error)
	FindByID(ctx context.Context, id string) (*models.CourseType, error)
	Create(ctx context.Context, courseType *models.CourseType) error
	Deactivate(ctx context.Context, id string) error
}

// CreateCourseTypeRequest describes payload for authoring catalog entries.
type CreateCourseTypeRequest struct {
	Name             string   `json:"name" validate:"required"`
	Description      string   `json:"description"`
	DefaultWeeks     int      `json:"default_weeks" validate:"required,min=1"`
	MinAgeWeeks      int      `json:"min_age_weeks" validate:"min=0"`
	MaxAgeWeeks      *int     `json:"max_age_weeks,omitempty"`
	RequiredVaccines []string `json:"required_vaccines"`
	Prerequisites    []string `json:"prerequisites"`
}

// CourseTypeService manages the course catalog.
type CourseTypeService struct {
	repo      courseTypeRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseTypeService creates a new catalog service instance.
func NewCourseTypeService(repo courseTypeRepository, validate *validator.Validate, logger *zap.Logger) *CourseTypeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseTypeService{repo: repo, validator: validate, logger: logger}
}

// List returns paginated catalog entries.
func (s *CourseTypeService) List(ctx context.Context, filter models.CourseTypeFilter) ([]models.CourseType, *models.Pagination, error) {
	courseTypes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list course types")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}

	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return courseTypes, pagination, nil
}

// Get returns a catalog entry by ID.
func (s *CourseTypeService) Get(ctx context.Context, id string) (*models.CourseType, error) {
	courseType, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course type")
	}
	return courseType, nil
}

// Create adds a new catalog entry, checking that every prerequisite exists.
func (s *CourseTypeService) Create(ctx context.Context, req CreateCourseTypeRequest) (*models.CourseType, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course type payload")
	}
	if req.MaxAgeWeeks != nil && *req.MaxAgeWeeks < req.MinAgeWeeks {
		return nil, appErrors.Clone(appErrors.ErrValidation, "max_age_weeks must be at least min_age_weeks")
	}

	for _, prereqID := range req.Prerequisites {
		if _, err := s.repo.FindByID(ctx, prereqID); err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrValidation, "prerequisite course type does not exist: "+prereqID)
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check prerequisite")
		}
	}

	courseType := &models.CourseType{
		Name:             req.Name,
		Description:      req.Description,
		DefaultWeeks:     req.DefaultWeeks,
		MinAgeWeeks:      req.MinAgeWeeks,
		MaxAgeWeeks:      req.MaxAgeWeeks,
		RequiredVaccines: req.RequiredVaccines,
		Prerequisites:    req.Prerequisites,
		Active:           true,
	}

	if err := s.repo.Create(ctx, courseType); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course type")
	}
	return courseType, nil
}

// Deactivate retires a catalog entry. Existing series keep running.
func (s *CourseTypeService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate course type")
	}
	return nil
}
