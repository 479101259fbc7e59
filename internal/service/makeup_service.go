package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pawsacademy/training-api/internal/models"
	appErrors "github.com/pawsacademy/training-api/pkg/errors"
)

type makeupRepository interface {
	FindCreditByEnrollment(ctx context.Context, enrollmentID string) (*models.MakeupCredit, error)
	CreateCredit(ctx context.Context, credit *models.MakeupCredit) error
	SpendCredit(ctx context.Context, enrollmentID string) (bool, error)
	CreateSession(ctx context.Context, session *models.MakeupSession) error
	FindSessionByID(ctx context.Context, id string) (*models.MakeupSession, error)
	FindOpenByAttendance(ctx context.Context, attendanceID string) (*models.MakeupSession, error)
	ListSessionsByEnrollment(ctx context.Context, enrollmentID string) ([]models.MakeupSession, error)
	UpdateSessionSchedule(ctx context.Context, id string, date time.Time, startTime, trainerID string) error
	UpdateSessionStatus(ctx context.Context, id string, status models.MakeupSessionStatus) error
}

type pricingRuleReader interface {
	GetPricingRule(ctx context.Context) (*models.MakeupPricingRule, error)
}

type makeupEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ApplyMakeupProgress(ctx context.Context, id string) error
}

type makeupAttendanceReader interface {
	FindByID(ctx context.Context, id string) (*models.Attendance, error)
}

type makeupSeriesReader interface {
	FindByID(ctx context.Context, id string) (*models.Series, error)
}

// ScheduleMakeupRequest assigns date, time and trainer to a pending makeup.
type ScheduleMakeupRequest struct {
	Date      time.Time `json:"date" validate:"required"`
	StartTime string    `json:"start_time" validate:"required"`
	TrainerID string    `json:"trainer_id" validate:"required"`
}

// MakeupServiceConfig supplies facility defaults when no pricing rule or
// credit policy has been configured.
type MakeupServiceConfig struct {
	DefaultPricingKind string
	DefaultAmountCents int64
	DefaultPercentage  float64
	DefaultCredits     int
}

// MakeupService manages the per-enrollment credit ledger and the makeup
// session lifecycle.
type MakeupService struct {
	makeups     makeupRepository
	pricing     pricingRuleReader
	enrollments makeupEnrollmentReader
	attendance  makeupAttendanceReader
	series      makeupSeriesReader
	dispatcher  *Dispatcher
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         MakeupServiceConfig
	now         func() time.Time
}

// NewMakeupService creates a new makeup workflow instance.
func NewMakeupService(
	makeups makeupRepository,
	pricing pricingRuleReader,
	enrollments makeupEnrollmentReader,
	attendance makeupAttendanceReader,
	series makeupSeriesReader,
	dispatcher *Dispatcher,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg MakeupServiceConfig,
) *MakeupService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultCredits <= 0 {
		cfg.DefaultCredits = 2
	}
	if cfg.DefaultPricingKind == "" {
		cfg.DefaultPricingKind = string(models.MakeupPricingPerSession)
	}
	return &MakeupService{
		makeups:     makeups,
		pricing:     pricing,
		enrollments: enrollments,
		attendance:  attendance,
		series:      series,
		dispatcher:  dispatcher,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ProvisionCredits opens the credit ledger for a freshly enrolled pet.
// Already-provisioned ledgers are left untouched.
func (s *MakeupService) ProvisionCredits(ctx context.Context, enrollmentID, seriesID string) error {
	if _, err := s.makeups.FindCreditByEnrollment(ctx, enrollmentID); err == nil {
		return nil
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("check makeup ledger: %w", err)
	}

	credit := &models.MakeupCredit{
		EnrollmentID:     enrollmentID,
		SeriesID:         seriesID,
		CreditsAvailable: s.cfg.DefaultCredits,
	}
	return s.makeups.CreateCredit(ctx, credit)
}

// Credits returns the enrollment's credit ledger.
func (s *MakeupService) Credits(ctx context.Context, enrollmentID string) (*models.MakeupCredit, error) {
	credit, err := s.makeups.FindCreditByEnrollment(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no makeup ledger for this enrollment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load makeup ledger")
	}
	return credit, nil
}

// ListByEnrollment returns the enrollment's makeup sessions.
func (s *MakeupService) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.MakeupSession, error) {
	sessions, err := s.makeups.ListSessionsByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list makeup sessions")
	}
	return sessions, nil
}

// OnMissedAttendance runs when an absence is recorded. A credit is spent
// and a pending makeup session created; a missed attendance that already
// has an open makeup never produces a duplicate, and an exhausted ledger
// produces nothing. Returns nil without error when no session is created.
func (s *MakeupService) OnMissedAttendance(ctx context.Context, enrollment *models.Enrollment, attendance *models.Attendance) (*models.MakeupSession, error) {
	if existing, err := s.makeups.FindOpenByAttendance(ctx, attendance.ID); err == nil {
		return existing, nil
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check open makeup: %w", err)
	}

	credit, err := s.makeups.FindCreditByEnrollment(ctx, enrollment.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load makeup ledger: %w", err)
	}
	if credit.Remaining(s.now()) <= 0 {
		s.logger.Info("no makeup credits remaining",
			zap.String("enrollment_id", enrollment.ID),
			zap.Int("session_number", attendance.SessionNumber))
		return nil, nil
	}

	spent, err := s.makeups.SpendCredit(ctx, enrollment.ID)
	if err != nil {
		return nil, fmt.Errorf("spend makeup credit: %w", err)
	}
	if !spent {
		return nil, nil
	}

	price, err := s.resolvePrice(ctx, enrollment.SeriesID)
	if err != nil {
		return nil, err
	}

	session := &models.MakeupSession{
		EnrollmentID:       enrollment.ID,
		SeriesID:           enrollment.SeriesID,
		MissedAttendanceID: attendance.ID,
		Status:             models.MakeupStatusPending,
		PriceCents:         price,
	}
	if err := s.makeups.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create makeup session: %w", err)
	}

	s.dispatcher.EnqueueNotification(Notification{
		OwnerID: enrollment.OwnerID,
		Kind:    NotificationMakeupReminder,
		Data: map[string]string{
			"enrollment_id":     enrollment.ID,
			"makeup_session_id": session.ID,
			"session_number":    fmt.Sprintf("%d", attendance.SessionNumber),
		},
	})

	s.metrics.RecordMakeupEvent("created")
	s.logger.Info("makeup session created",
		zap.String("makeup_session_id", session.ID),
		zap.String("enrollment_id", enrollment.ID),
		zap.Int64("price_cents", price))
	return session, nil
}

// resolvePrice evaluates the facility pricing rule once; the result is
// frozen on the makeup session record.
func (s *MakeupService) resolvePrice(ctx context.Context, seriesID string) (int64, error) {
	rule, err := s.pricing.GetPricingRule(ctx)
	if err != nil {
		if err != sql.ErrNoRows {
			return 0, fmt.Errorf("load pricing rule: %w", err)
		}
		rule = &models.MakeupPricingRule{
			Kind:               models.MakeupPricingKind(s.cfg.DefaultPricingKind),
			AmountCents:        s.cfg.DefaultAmountCents,
			PercentageOfSeries: s.cfg.DefaultPercentage,
		}
	}

	if rule.Kind != models.MakeupPricingPercentage {
		return rule.Price(0), nil
	}
	series, err := s.series.FindByID(ctx, seriesID)
	if err != nil {
		return 0, fmt.Errorf("load series for pricing: %w", err)
	}
	return rule.Price(series.FullPaymentCents), nil
}

// Request explicitly asks for a makeup session for a missed attendance.
func (s *MakeupService) Request(ctx context.Context, enrollmentID, attendanceID string) (*models.MakeupSession, error) {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	attendance, err := s.attendance.FindByID(ctx, attendanceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	if attendance.EnrollmentID != enrollment.ID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attendance record does not belong to this enrollment")
	}
	if !attendance.Status.Missed() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only missed sessions qualify for a makeup")
	}

	session, err := s.OnMissedAttendance(ctx, enrollment, attendance)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create makeup session")
	}
	if session == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no makeup credits available")
	}
	return session, nil
}

// Get returns a makeup session by ID.
func (s *MakeupService) Get(ctx context.Context, id string) (*models.MakeupSession, error) {
	session, err := s.makeups.FindSessionByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "makeup session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load makeup session")
	}
	return session, nil
}

// Schedule assigns date, time and trainer and moves the session to
// scheduled. The frozen price is charged asynchronously at this point.
func (s *MakeupService) Schedule(ctx context.Context, id string, req ScheduleMakeupRequest) (*models.MakeupSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}

	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.MakeupStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only pending makeup sessions can be scheduled")
	}

	if err := s.makeups.UpdateSessionSchedule(ctx, id, req.Date, req.StartTime, req.TrainerID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule makeup session")
	}
	s.metrics.RecordMakeupEvent("scheduled")
	session.Status = models.MakeupStatusScheduled
	session.ScheduledDate = &req.Date
	session.ScheduledTime = &req.StartTime
	session.TrainerID = &req.TrainerID

	if session.PriceCents > 0 {
		enrollment, err := s.enrollments.FindByID(ctx, session.EnrollmentID)
		if err == nil {
			s.dispatcher.EnqueueCharge(ChargeRequest{
				OwnerID:      enrollment.OwnerID,
				EnrollmentID: enrollment.ID,
				Kind:         ChargeKindMakeup,
				AmountCents:  session.PriceCents,
				Reference:    fmt.Sprintf("makeup:%s", session.ID),
			})
		}
	}
	return session, nil
}

// Complete marks a scheduled makeup session attended and retroactively
// counts it toward the parent enrollment's progress.
func (s *MakeupService) Complete(ctx context.Context, id string) (*models.MakeupSession, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.MakeupStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only scheduled makeup sessions can be completed")
	}

	if err := s.makeups.UpdateSessionStatus(ctx, id, models.MakeupStatusCompleted); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete makeup session")
	}
	session.Status = models.MakeupStatusCompleted
	s.metrics.RecordMakeupEvent("completed")

	// The increment is atomic at the store, so it cannot race a concurrent
	// attendance write for the same enrollment.
	if err := s.enrollments.ApplyMakeupProgress(ctx, session.EnrollmentID); err != nil {
		s.logger.Error("failed to apply makeup toward progress",
			zap.String("enrollment_id", session.EnrollmentID), zap.Error(err))
	}
	return session, nil
}

// Cancel abandons a makeup session. The spent credit is not refunded.
func (s *MakeupService) Cancel(ctx context.Context, id string) (*models.MakeupSession, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.Status.Open() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "makeup session is already closed")
	}

	if err := s.makeups.UpdateSessionStatus(ctx, id, models.MakeupStatusCancelled); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel makeup session")
	}
	session.Status = models.MakeupStatusCancelled
	s.metrics.RecordMakeupEvent("cancelled")
	return session, nil
}
