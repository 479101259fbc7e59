package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pawsacademy/training-api/internal/models"
	appErrors "github.com/pawsacademy/training-api/pkg/errors"
)

type seriesRepository interface {
	List(ctx context.Context, filter models.SeriesFilter) ([]models.Series, int, error)
	FindByID(ctx context.Context, id string) (*models.Series, error)
	Create(ctx context.Context, series *models.Series) error
	UpdateStatus(ctx context.Context, id string, status models.SeriesStatus) error
}

type seriesSessionRepository interface {
	ListBySeries(ctx context.Context, seriesID string) ([]models.Session, error)
	AnyStarted(ctx context.Context, seriesID string, now time.Time) (bool, error)
	ReplaceForSeries(ctx context.Context, seriesID string, sessions []models.Session) error
}

type seriesCatalogReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseType, error)
}

// CreateSeriesRequest describes payload for scheduling a series.
type CreateSeriesRequest struct {
	CourseTypeID     string     `json:"course_type_id" validate:"required"`
	Name             string     `json:"name" validate:"required"`
	StartDate        time.Time  `json:"start_date" validate:"required"`
	DayOfWeek        int        `json:"day_of_week" validate:"min=0,max=6"`
	StartTime        string     `json:"start_time" validate:"required"`
	EndTime          string     `json:"end_time" validate:"required"`
	NumberOfWeeks    int        `json:"number_of_weeks" validate:"min=0"`
	Location         string     `json:"location"`
	InstructorID     string     `json:"instructor_id" validate:"required"`
	MaxCapacity      int        `json:"max_capacity" validate:"required,min=1"`
	BookingOpensAt   *time.Time `json:"booking_opens_at,omitempty"`
	BookingClosesAt  *time.Time `json:"booking_closes_at,omitempty"`
	DepositRequired  bool       `json:"deposit_required"`
	DepositCents     int64      `json:"deposit_cents" validate:"min=0"`
	FullPaymentCents int64      `json:"full_payment_cents" validate:"min=0"`
	WaitlistEnabled  bool       `json:"waitlist_enabled"`
	AllowDropIns     bool       `json:"allow_drop_ins"`
}

// SeriesService schedules series and owns their session calendars.
type SeriesService struct {
	series    seriesRepository
	sessions  seriesSessionRepository
	catalog   seriesCatalogReader
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewSeriesService creates a new series service instance.
func NewSeriesService(series seriesRepository, sessions seriesSessionRepository, catalog seriesCatalogReader, validate *validator.Validate, logger *zap.Logger) *SeriesService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SeriesService{
		series:    series,
		sessions:  sessions,
		catalog:   catalog,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GenerateSessions derives the session calendar for a series. The first
// session falls on the first date on or after StartDate whose weekday equals
// DayOfWeek; when StartDate itself matches, StartDate is session 1. Each
// following session is exactly 7 days later, numbered densely from 1.
// Deterministic: identical inputs always produce identical dates.
func GenerateSessions(series *models.Series) []models.Session {
	offset := (series.DayOfWeek - int(series.StartDate.Weekday()) + 7) % 7
	first := series.StartDate.AddDate(0, 0, offset)

	sessions := make([]models.Session, 0, series.NumberOfWeeks)
	for i := 0; i < series.NumberOfWeeks; i++ {
		sessions = append(sessions, models.Session{
			SeriesID:      series.ID,
			SessionNumber: i + 1,
			Date:          first.AddDate(0, 0, 7*i),
			StartTime:     series.StartTime,
			EndTime:       series.EndTime,
			Status:        models.SessionStatusScheduled,
		})
	}
	return sessions
}

// List returns paginated series.
func (s *SeriesService) List(ctx context.Context, filter models.SeriesFilter) ([]models.Series, *models.Pagination, error) {
	series, total, err := s.series.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list series")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}

	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return series, pagination, nil
}

// Get returns a series by ID.
func (s *SeriesService) Get(ctx context.Context, id string) (*models.Series, error) {
	series, err := s.series.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "series not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load series")
	}
	return series, nil
}

// Sessions returns the series' session calendar.
func (s *SeriesService) Sessions(ctx context.Context, seriesID string) ([]models.Session, error) {
	if _, err := s.Get(ctx, seriesID); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListBySeries(ctx, seriesID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// Create schedules a new series and generates its session calendar.
func (s *SeriesService) Create(ctx context.Context, req CreateSeriesRequest) (*models.Series, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid series payload")
	}

	courseType, err := s.catalog.FindByID(ctx, req.CourseTypeID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course type")
	}
	if !courseType.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course type is inactive")
	}

	weeks := req.NumberOfWeeks
	if weeks == 0 {
		weeks = courseType.DefaultWeeks
	}
	if weeks < 1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "number_of_weeks must be at least 1")
	}

	series := &models.Series{
		CourseTypeID:  req.CourseTypeID,
		Name:          req.Name,
		StartDate:     req.StartDate,
		DayOfWeek:     req.DayOfWeek,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		NumberOfWeeks: weeks,
		Location:      req.Location,
		InstructorID:  req.InstructorID,
		MaxCapacity:   req.MaxCapacity,
		Status:        models.SeriesStatusDraft,
		EnrollmentRules: models.EnrollmentRules{
			BookingOpensAt:   req.BookingOpensAt,
			BookingClosesAt:  req.BookingClosesAt,
			DepositRequired:  req.DepositRequired,
			DepositCents:     req.DepositCents,
			FullPaymentCents: req.FullPaymentCents,
			WaitlistEnabled:  req.WaitlistEnabled,
			AllowDropIns:     req.AllowDropIns,
		},
	}

	if err := s.series.Create(ctx, series); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create series")
	}

	if err := s.sessions.ReplaceForSeries(ctx, series.ID, GenerateSessions(series)); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate sessions")
	}

	s.logger.Info("series created",
		zap.String("series_id", series.ID),
		zap.String("course_type_id", series.CourseTypeID),
		zap.Int("weeks", series.NumberOfWeeks))
	return series, nil
}

// Regenerate rebuilds the session calendar for a series that has not
// started. Once any session leaves the scheduled state or its date
// arrives, the calendar is frozen and regeneration is rejected.
func (s *SeriesService) Regenerate(ctx context.Context, seriesID string) ([]models.Session, error) {
	series, err := s.Get(ctx, seriesID)
	if err != nil {
		return nil, err
	}

	started, err := s.sessions.AnyStarted(ctx, seriesID, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect sessions")
	}
	if started {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot regenerate sessions after a session has started")
	}

	generated := GenerateSessions(series)
	if err := s.sessions.ReplaceForSeries(ctx, seriesID, generated); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to regenerate sessions")
	}
	return generated, nil
}

// UpdateStatus advances the series lifecycle.
func (s *SeriesService) UpdateStatus(ctx context.Context, id string, status models.SeriesStatus) (*models.Series, error) {
	switch status {
	case models.SeriesStatusDraft, models.SeriesStatusOpen, models.SeriesStatusClosed,
		models.SeriesStatusInProgress, models.SeriesStatusCompleted, models.SeriesStatusCancelled:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown series status")
	}

	series, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if series.Status == models.SeriesStatusCompleted || series.Status == models.SeriesStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "series lifecycle is final")
	}

	if err := s.series.UpdateStatus(ctx, id, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update series status")
	}
	series.Status = status
	return series, nil
}
