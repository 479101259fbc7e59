package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pawsacademy/training-api/internal/models"
	appErrors "github.com/pawsacademy/training-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindActiveBySeriesAndPet(ctx context.Context, seriesID, petID string) (*models.Enrollment, error)
	ListBySeries(ctx context.Context, seriesID string) ([]models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
	UpdateAttendanceProgress(ctx context.Context, id string, attended, currentSession, progress int) error
	NextWaitlistPosition(ctx context.Context, seriesID string) (int, error)
	FirstWaitlisted(ctx context.Context, seriesID string) (*models.Enrollment, error)
	UpdateWaitlistPosition(ctx context.Context, id string, position int) error
	ShiftWaitlistAfter(ctx context.Context, seriesID string, position int) error
}

type enrollmentSeriesRepository interface {
	FindByID(ctx context.Context, id string) (*models.Series, error)
	TryReserveSlot(ctx context.Context, id string) (bool, error)
	ReleaseSlot(ctx context.Context, id string) error
}

type enrollmentSessionRepository interface {
	FindBySeriesAndNumber(ctx context.Context, seriesID string, number int) (*models.Session, error)
	MarkStatus(ctx context.Context, id string, status models.SessionStatus) error
	AdjustEnrolledBySeries(ctx context.Context, seriesID string, delta int) error
}

type attendanceRepository interface {
	Upsert(ctx context.Context, attendance *models.Attendance) error
	FindByEnrollmentAndSession(ctx context.Context, enrollmentID, sessionID string) (*models.Attendance, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Attendance, error)
}

type waitlistOfferRepository interface {
	CreateOffer(ctx context.Context, offer *models.WaitlistOffer) error
	FindOpenByEnrollment(ctx context.Context, enrollmentID string) (*models.WaitlistOffer, error)
	ListExpired(ctx context.Context, now time.Time) ([]models.WaitlistOffer, error)
	MarkStatus(ctx context.Context, id string, status models.WaitlistOfferStatus) (bool, error)
}

type eligibilityGate interface {
	Check(ctx context.Context, petID, courseTypeID string) (*models.EligibilityResult, error)
}

type makeupWorkflow interface {
	ProvisionCredits(ctx context.Context, enrollmentID, seriesID string) error
	OnMissedAttendance(ctx context.Context, enrollment *models.Enrollment, attendance *models.Attendance) (*models.MakeupSession, error)
}

type progressionIssuer interface {
	OnEnrollmentCompleted(ctx context.Context, enrollment *models.Enrollment) (*models.Certificate, error)
}

// BookRequest describes payload for booking a pet into a series.
type BookRequest struct {
	SeriesID string `json:"series_id" validate:"required"`
	PetID    string `json:"pet_id" validate:"required"`
	OwnerID  string `json:"owner_id" validate:"required"`
}

// RecordAttendanceRequest finalizes one session outcome for an enrollment.
type RecordAttendanceRequest struct {
	SessionNumber int                     `json:"session_number" validate:"required,min=1"`
	Status        models.AttendanceStatus `json:"status" validate:"required"`
}

// ClaimRequest redeems a waitlist offer with the token sent to the owner.
type ClaimRequest struct {
	Token string `json:"token" validate:"required"`
}

// EnrollmentServiceConfig tunes waitlist claim-window behaviour.
type EnrollmentServiceConfig struct {
	ClaimWindow time.Duration
}

// EnrollmentService owns the enrollment lifecycle: booking, waitlist,
// attendance, completion and drops. All mutations to one enrollment are
// serialized through a per-enrollment lock; slot accounting on one series
// is serialized through a per-series lock plus the atomic reserve query.
type EnrollmentService struct {
	enrollments enrollmentRepository
	series      enrollmentSeriesRepository
	sessions    enrollmentSessionRepository
	attendance  attendanceRepository
	offers      waitlistOfferRepository
	eligibility eligibilityGate
	makeups     makeupWorkflow
	progression progressionIssuer
	gateway     PaymentGateway
	dispatcher  *Dispatcher
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         EnrollmentServiceConfig

	enrollmentLocks *entityLocks
	seriesLocks     *entityLocks
	now             func() time.Time
}

// NewEnrollmentService wires the enrollment state machine.
func NewEnrollmentService(
	enrollments enrollmentRepository,
	series enrollmentSeriesRepository,
	sessions enrollmentSessionRepository,
	attendance attendanceRepository,
	offers waitlistOfferRepository,
	eligibility eligibilityGate,
	makeups makeupWorkflow,
	progression progressionIssuer,
	gateway PaymentGateway,
	dispatcher *Dispatcher,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg EnrollmentServiceConfig,
) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClaimWindow <= 0 {
		cfg.ClaimWindow = 24 * time.Hour
	}
	return &EnrollmentService{
		enrollments:     enrollments,
		series:          series,
		sessions:        sessions,
		attendance:      attendance,
		offers:          offers,
		eligibility:     eligibility,
		makeups:         makeups,
		progression:     progression,
		gateway:         gateway,
		dispatcher:      dispatcher,
		metrics:         metrics,
		validator:       validate,
		logger:          logger,
		cfg:             cfg,
		enrollmentLocks: newEntityLocks(),
		seriesLocks:     newEntityLocks(),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// List returns paginated enrollments.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	enrollments, total, err := s.enrollments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
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
	return enrollments, pagination, nil
}

// Get returns an enrollment by ID.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

// Roster returns all enrollments of a series, ordered by join time.
func (s *EnrollmentService) Roster(ctx context.Context, seriesID string) ([]models.Enrollment, error) {
	if _, err := s.series.FindByID(ctx, seriesID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "series not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load series")
	}
	enrollments, err := s.enrollments.ListBySeries(ctx, seriesID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return enrollments, nil
}

// Attendance returns the enrollment's attendance history.
func (s *EnrollmentService) Attendance(ctx context.Context, enrollmentID string) ([]models.Attendance, error) {
	if _, err := s.Get(ctx, enrollmentID); err != nil {
		return nil, err
	}
	records, err := s.attendance.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	return records, nil
}

// Book enrolls a pet into an open series, or joins the waitlist when the
// series is full and the waitlist is enabled. The eligibility gate runs
// with error severity blocking; the returned result carries any warnings.
func (s *EnrollmentService) Book(ctx context.Context, req BookRequest) (*models.Enrollment, *models.EligibilityResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}

	unlock := s.seriesLocks.Lock(req.SeriesID)
	defer unlock()

	series, err := s.series.FindByID(ctx, req.SeriesID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "series not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load series")
	}
	if series.Status != models.SeriesStatusOpen {
		return nil, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "series is not open for booking")
	}
	now := s.now()
	if !series.BookingWindowOpen(now) {
		return nil, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "booking window is closed")
	}

	result, err := s.eligibility.Check(ctx, req.PetID, series.CourseTypeID)
	if err != nil {
		return nil, nil, err
	}
	if !result.Eligible {
		s.metrics.RecordBooking("rejected")
		return nil, result, appErrors.Clone(appErrors.ErrNotEligible, "")
	}

	if _, err := s.enrollments.FindActiveBySeriesAndPet(ctx, req.SeriesID, req.PetID); err == nil {
		return nil, result, appErrors.Clone(appErrors.ErrConflict, "pet is already enrolled or waitlisted in this series")
	} else if err != sql.ErrNoRows {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}

	reserved, err := s.series.TryReserveSlot(ctx, req.SeriesID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve slot")
	}

	if !reserved {
		if !series.WaitlistEnabled {
			s.metrics.RecordBooking("full")
			return nil, result, appErrors.Clone(appErrors.ErrSeriesFull, "")
		}
		enrollment, err := s.joinWaitlist(ctx, series, req, now)
		if err != nil {
			return nil, nil, err
		}
		s.metrics.RecordBooking("waitlisted")
		return enrollment, result, nil
	}

	enrollment := &models.Enrollment{
		SeriesID:             req.SeriesID,
		PetID:                req.PetID,
		OwnerID:              req.OwnerID,
		Status:               models.EnrollmentStatusEnrolled,
		TotalSessions:        series.NumberOfWeeks,
		CurrentSessionNumber: 1,
		JoinedAt:             now,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		s.releaseSlot(ctx, req.SeriesID)
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	// Deposit is the one synchronous side effect: a declined charge
	// unwinds the booking entirely and the caller may retry.
	if series.DepositRequired && series.DepositCents > 0 {
		charge := ChargeRequest{
			OwnerID:      req.OwnerID,
			EnrollmentID: enrollment.ID,
			Kind:         ChargeKindDeposit,
			AmountCents:  series.DepositCents,
			Reference:    fmt.Sprintf("deposit:%s", enrollment.ID),
		}
		if err := s.gateway.Charge(ctx, charge); err != nil {
			s.logger.Warn("deposit charge declined, rolling back booking",
				zap.String("enrollment_id", enrollment.ID), zap.Error(err))
			if delErr := s.enrollments.Delete(ctx, enrollment.ID); delErr != nil {
				s.logger.Error("failed to unwind enrollment after declined deposit",
					zap.String("enrollment_id", enrollment.ID), zap.Error(delErr))
			}
			s.releaseSlot(ctx, req.SeriesID)
			s.metrics.RecordBooking("payment_failed")
			return nil, nil, appErrors.Wrap(err, appErrors.ErrPaymentFailed.Code, appErrors.ErrPaymentFailed.Status, appErrors.ErrPaymentFailed.Message)
		}
	}

	if err := s.sessions.AdjustEnrolledBySeries(ctx, req.SeriesID, 1); err != nil {
		s.logger.Warn("failed to bump session headcounts", zap.String("series_id", req.SeriesID), zap.Error(err))
	}
	if err := s.makeups.ProvisionCredits(ctx, enrollment.ID, req.SeriesID); err != nil {
		s.logger.Warn("failed to provision makeup credits", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
	}

	s.metrics.RecordBooking("enrolled")
	s.logger.Info("enrollment booked",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("series_id", req.SeriesID),
		zap.String("pet_id", req.PetID))
	return enrollment, result, nil
}

func (s *EnrollmentService) joinWaitlist(ctx context.Context, series *models.Series, req BookRequest, now time.Time) (*models.Enrollment, error) {
	position, err := s.enrollments.NextWaitlistPosition(ctx, series.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute waitlist position")
	}

	enrollment := &models.Enrollment{
		SeriesID:             series.ID,
		PetID:                req.PetID,
		OwnerID:              req.OwnerID,
		Status:               models.EnrollmentStatusWaitlisted,
		TotalSessions:        series.NumberOfWeeks,
		CurrentSessionNumber: 1,
		WaitlistPosition:     &position,
		JoinedAt:             now,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join waitlist")
	}

	s.logger.Info("enrollment waitlisted",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("series_id", series.ID),
		zap.Int("position", position))
	return enrollment, nil
}

// RecordAttendance finalizes the current session for an enrollment.
// Present and late count toward progress; absent and excused advance the
// pointer and hand the missed session to the makeup workflow.
func (s *EnrollmentService) RecordAttendance(ctx context.Context, enrollmentID string, req RecordAttendanceRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown attendance status")
	}

	unlock := s.enrollmentLocks.Lock(enrollmentID)
	defer unlock()

	enrollment, err := s.Get(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusEnrolled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "attendance can only be recorded for enrolled pets")
	}
	if req.SessionNumber != enrollment.CurrentSessionNumber {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("expected attendance for session %d", enrollment.CurrentSessionNumber))
	}

	session, err := s.sessions.FindBySeriesAndNumber(ctx, enrollment.SeriesID, req.SessionNumber)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	if _, err := s.attendance.FindByEnrollmentAndSession(ctx, enrollmentID, session.ID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "attendance already recorded for this session")
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check attendance")
	}

	now := s.now()
	record := &models.Attendance{
		EnrollmentID:  enrollmentID,
		SessionID:     session.ID,
		SessionNumber: req.SessionNumber,
		Status:        req.Status,
	}
	if req.Status.Counts() {
		record.CheckInTime = &now
	}
	if err := s.attendance.Upsert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}

	// The first attendance verdict closes the session occurrence and
	// freezes the series calendar against regeneration.
	if !session.Started() {
		if err := s.sessions.MarkStatus(ctx, session.ID, models.SessionStatusCompleted); err != nil {
			s.logger.Warn("failed to close session occurrence",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	attended := enrollment.SessionsAttended
	if req.Status.Counts() {
		attended++
	}
	current := enrollment.CurrentSessionNumber + 1
	progress := models.ProgressPercent(attended, enrollment.TotalSessions)

	if err := s.enrollments.UpdateAttendanceProgress(ctx, enrollmentID, attended, current, progress); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update progress")
	}
	enrollment.SessionsAttended = attended
	enrollment.CurrentSessionNumber = current
	enrollment.Progress = progress

	if req.Status.Missed() {
		if _, err := s.makeups.OnMissedAttendance(ctx, enrollment, record); err != nil {
			s.logger.Warn("makeup workflow failed for missed session",
				zap.String("enrollment_id", enrollmentID),
				zap.Int("session_number", req.SessionNumber),
				zap.Error(err))
		}
	}

	if current > enrollment.TotalSessions {
		if err := s.complete(ctx, enrollment); err != nil {
			return nil, err
		}
	}
	return enrollment, nil
}

func (s *EnrollmentService) complete(ctx context.Context, enrollment *models.Enrollment) error {
	if err := s.enrollments.UpdateStatus(ctx, enrollment.ID, models.EnrollmentStatusCompleted); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete enrollment")
	}
	enrollment.Status = models.EnrollmentStatusCompleted

	certificate, err := s.progression.OnEnrollmentCompleted(ctx, enrollment)
	if err != nil {
		s.logger.Error("failed to issue certificate on completion",
			zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		return nil
	}
	s.logger.Info("enrollment completed",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("certificate_id", certificate.ID))
	return nil
}

// Drop cancels an enrollment from any non-terminal state. Dropping an
// enrolled pet releases its slot to the waitlist.
func (s *EnrollmentService) Drop(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	unlock := s.enrollmentLocks.Lock(enrollmentID)
	defer unlock()

	enrollment, err := s.Get(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is already completed or dropped")
	}

	wasEnrolled := enrollment.Status == models.EnrollmentStatusEnrolled
	previousPosition := enrollment.WaitlistPosition

	if err := s.enrollments.UpdateStatus(ctx, enrollmentID, models.EnrollmentStatusDropped); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollment")
	}
	enrollment.Status = models.EnrollmentStatusDropped

	if wasEnrolled {
		if err := s.sessions.AdjustEnrolledBySeries(ctx, enrollment.SeriesID, -1); err != nil {
			s.logger.Warn("failed to lower session headcounts", zap.String("series_id", enrollment.SeriesID), zap.Error(err))
		}
		s.releaseOrOffer(ctx, enrollment.SeriesID)
	} else if previousPosition != nil {
		if err := s.enrollments.ShiftWaitlistAfter(ctx, enrollment.SeriesID, *previousPosition); err != nil {
			s.logger.Warn("failed to compact waitlist", zap.String("series_id", enrollment.SeriesID), zap.Error(err))
		}
		// A dropped entrant may hold an open claim offer. That offer keeps a
		// slot reserved, so cancel it and pass the slot to the next entrant
		// instead of waiting for the sweeper.
		if offer, err := s.offers.FindOpenByEnrollment(ctx, enrollmentID); err == nil {
			won, markErr := s.offers.MarkStatus(ctx, offer.ID, models.WaitlistOfferStatusExpired)
			if markErr != nil {
				s.logger.Error("failed to cancel offer of dropped entrant",
					zap.String("offer_id", offer.ID), zap.Error(markErr))
			} else if won {
				s.metrics.RecordOfferEvent("expired")
				s.releaseOrOffer(ctx, enrollment.SeriesID)
			}
		} else if err != sql.ErrNoRows {
			s.logger.Error("failed to inspect offers of dropped entrant",
				zap.String("enrollment_id", enrollmentID), zap.Error(err))
		}
	}

	s.logger.Info("enrollment dropped", zap.String("enrollment_id", enrollmentID))
	return enrollment, nil
}

// releaseOrOffer hands a freed slot to the earliest waitlisted enrollment,
// keeping the slot counted while the offer is open. With no waitlist the
// slot is released back to capacity. Callers hold the series lock or run
// from paths serialized by the enrollment lock; it re-acquires the series
// lock itself.
func (s *EnrollmentService) releaseOrOffer(ctx context.Context, seriesID string) {
	unlock := s.seriesLocks.Lock(seriesID)
	defer unlock()

	next, err := s.enrollments.FirstWaitlisted(ctx, seriesID)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("failed to inspect waitlist", zap.String("series_id", seriesID), zap.Error(err))
		}
		s.releaseSlot(ctx, seriesID)
		return
	}

	if err := s.createOffer(ctx, next); err != nil {
		s.logger.Error("failed to offer freed slot",
			zap.String("series_id", seriesID),
			zap.String("enrollment_id", next.ID),
			zap.Error(err))
		s.releaseSlot(ctx, seriesID)
	}
}

// createOffer opens a claim window for a waitlisted enrollment. The
// plaintext token leaves the process only inside the owner notification;
// storage keeps a bcrypt hash.
func (s *EnrollmentService) createOffer(ctx context.Context, enrollment *models.Enrollment) error {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generate claim token: %w", err)
	}
	token := hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash claim token: %w", err)
	}

	now := s.now()
	offer := &models.WaitlistOffer{
		EnrollmentID: enrollment.ID,
		SeriesID:     enrollment.SeriesID,
		TokenHash:    string(hash),
		Status:       models.WaitlistOfferStatusOffered,
		OfferedAt:    now,
		ExpiresAt:    now.Add(s.cfg.ClaimWindow),
	}
	if err := s.offers.CreateOffer(ctx, offer); err != nil {
		return err
	}

	s.dispatcher.EnqueueNotification(Notification{
		OwnerID: enrollment.OwnerID,
		Kind:    NotificationWaitlistOffer,
		Data: map[string]string{
			"enrollment_id": enrollment.ID,
			"series_id":     enrollment.SeriesID,
			"claim_token":   token,
			"expires_at":    offer.ExpiresAt.Format(time.RFC3339),
		},
	})

	s.metrics.RecordOfferEvent("offered")
	s.logger.Info("waitlist slot offered",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("series_id", enrollment.SeriesID),
		zap.Time("expires_at", offer.ExpiresAt))
	return nil
}

// Claim redeems an open waitlist offer, promoting the enrollment to
// enrolled. The slot was reserved when the offer opened, so claiming never
// races a concurrent booking.
func (s *EnrollmentService) Claim(ctx context.Context, enrollmentID string, req ClaimRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid claim payload")
	}

	unlock := s.enrollmentLocks.Lock(enrollmentID)
	defer unlock()

	enrollment, err := s.Get(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusWaitlisted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not waitlisted")
	}

	offer, err := s.offers.FindOpenByEnrollment(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no open offer for this enrollment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offer")
	}
	now := s.now()
	if now.After(offer.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "claim window has expired")
	}
	if bcrypt.CompareHashAndPassword([]byte(offer.TokenHash), []byte(req.Token)) != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "claim token is not valid")
	}

	won, err := s.offers.MarkStatus(ctx, offer.ID, models.WaitlistOfferStatusClaimed)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim offer")
	}
	if !won {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "offer is no longer open")
	}

	previousPosition := enrollment.WaitlistPosition
	if err := s.enrollments.UpdateStatus(ctx, enrollmentID, models.EnrollmentStatusEnrolled); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote enrollment")
	}
	enrollment.Status = models.EnrollmentStatusEnrolled
	enrollment.WaitlistPosition = nil

	if previousPosition != nil {
		if err := s.enrollments.ShiftWaitlistAfter(ctx, enrollment.SeriesID, *previousPosition); err != nil {
			s.logger.Warn("failed to compact waitlist", zap.String("series_id", enrollment.SeriesID), zap.Error(err))
		}
	}
	if err := s.sessions.AdjustEnrolledBySeries(ctx, enrollment.SeriesID, 1); err != nil {
		s.logger.Warn("failed to bump session headcounts", zap.String("series_id", enrollment.SeriesID), zap.Error(err))
	}
	if err := s.makeups.ProvisionCredits(ctx, enrollment.ID, enrollment.SeriesID); err != nil {
		s.logger.Warn("failed to provision makeup credits", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
	}

	// The promotion is committed; the deposit charge for a claimed slot is
	// collected asynchronously and retried on failure.
	series, err := s.series.FindByID(ctx, enrollment.SeriesID)
	if err == nil && series.DepositRequired && series.DepositCents > 0 {
		s.dispatcher.EnqueueCharge(ChargeRequest{
			OwnerID:      enrollment.OwnerID,
			EnrollmentID: enrollment.ID,
			Kind:         ChargeKindDeposit,
			AmountCents:  series.DepositCents,
			Reference:    fmt.Sprintf("deposit:%s", enrollment.ID),
		})
	}

	s.metrics.RecordOfferEvent("claimed")
	s.logger.Info("waitlist offer claimed", zap.String("enrollment_id", enrollmentID))
	return enrollment, nil
}

// ExpireOffers sweeps lapsed claim windows: each expired offer moves its
// enrollment to the back of the waitlist and the slot passes to the next
// entrant. Run periodically by the claim sweeper.
func (s *EnrollmentService) ExpireOffers(ctx context.Context) (int, error) {
	offers, err := s.offers.ListExpired(ctx, s.now())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list expired offers")
	}

	expired := 0
	for _, offer := range offers {
		if s.expireOffer(ctx, offer) {
			expired++
		}
	}
	return expired, nil
}

func (s *EnrollmentService) expireOffer(ctx context.Context, offer models.WaitlistOffer) bool {
	unlockEnrollment := s.enrollmentLocks.Lock(offer.EnrollmentID)
	defer unlockEnrollment()

	won, err := s.offers.MarkStatus(ctx, offer.ID, models.WaitlistOfferStatusExpired)
	if err != nil {
		s.logger.Error("failed to expire offer", zap.String("offer_id", offer.ID), zap.Error(err))
		return false
	}
	if !won {
		// Claimed in the meantime.
		return false
	}

	enrollment, err := s.enrollments.FindByID(ctx, offer.EnrollmentID)
	if err == nil && enrollment.Status == models.EnrollmentStatusWaitlisted && enrollment.WaitlistPosition != nil {
		position, posErr := s.enrollments.NextWaitlistPosition(ctx, offer.SeriesID)
		if posErr == nil {
			if err := s.enrollments.UpdateWaitlistPosition(ctx, enrollment.ID, position); err != nil {
				s.logger.Warn("failed to requeue expired entrant", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
			}
			if err := s.enrollments.ShiftWaitlistAfter(ctx, offer.SeriesID, *enrollment.WaitlistPosition); err != nil {
				s.logger.Warn("failed to compact waitlist", zap.String("series_id", offer.SeriesID), zap.Error(err))
			}
		}
	}

	s.releaseOrOffer(ctx, offer.SeriesID)
	s.metrics.RecordOfferEvent("expired")
	s.logger.Info("waitlist offer expired",
		zap.String("offer_id", offer.ID),
		zap.String("enrollment_id", offer.EnrollmentID))
	return true
}

func (s *EnrollmentService) releaseSlot(ctx context.Context, seriesID string) {
	if err := s.series.ReleaseSlot(ctx, seriesID); err != nil {
		s.logger.Error("failed to release series slot", zap.String("series_id", seriesID), zap.Error(err))
	}
}
