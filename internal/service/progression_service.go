package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pawsacademy/training-api/internal/models"
	appErrors "github.com/pawsacademy/training-api/pkg/errors"
	"github.com/pawsacademy/training-api/pkg/export"
	"github.com/pawsacademy/training-api/pkg/storage"
)

type progressionCertificateRepository interface {
	Create(ctx context.Context, certificate *models.Certificate) error
	FindByID(ctx context.Context, id string) (*models.Certificate, error)
	FindByEnrollment(ctx context.Context, enrollmentID string) (*models.Certificate, error)
	ListByPet(ctx context.Context, petID string) ([]models.Certificate, error)
	NextSerialForDate(ctx context.Context, date time.Time) (int, error)
}

type progressionCatalogReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseType, error)
	ListActive(ctx context.Context) ([]models.CourseType, error)
}

type progressionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// ProgressionServiceConfig governs progression-query caching.
type ProgressionServiceConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// ProgressionService issues certificates on completion and answers
// prerequisite-graph queries over the catalog and a pet's certificate set.
type ProgressionService struct {
	certificates progressionCertificateRepository
	catalog      progressionCatalogReader
	pets         petReader
	series       makeupSeriesReader
	cache        progressionCache
	exporter     *export.PDFExporter
	files        *storage.LocalStorage
	signer       *storage.SignedURLSigner
	dispatcher   *Dispatcher
	metrics      *MetricsService
	logger       *zap.Logger
	cfg          ProgressionServiceConfig

	issueLocks *entityLocks
	now        func() time.Time
}

// NewProgressionService creates a new progression service instance.
func NewProgressionService(
	certificates progressionCertificateRepository,
	catalog progressionCatalogReader,
	pets petReader,
	series makeupSeriesReader,
	cache progressionCache,
	exporter *export.PDFExporter,
	files *storage.LocalStorage,
	signer *storage.SignedURLSigner,
	dispatcher *Dispatcher,
	metrics *MetricsService,
	logger *zap.Logger,
	cfg ProgressionServiceConfig,
) *ProgressionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &ProgressionService{
		certificates: certificates,
		catalog:      catalog,
		pets:         pets,
		series:       series,
		cache:        cache,
		exporter:     exporter,
		files:        files,
		signer:       signer,
		dispatcher:   dispatcher,
		metrics:      metrics,
		logger:       logger,
		cfg:          cfg,
		issueLocks:   newEntityLocks(),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func progressionCacheKey(petID string) string {
	return "progression:" + petID
}

// OnEnrollmentCompleted issues the completion certificate for an
// enrollment. Issuance is idempotent: re-running completion logic returns
// the already-issued certificate instead of a duplicate.
func (s *ProgressionService) OnEnrollmentCompleted(ctx context.Context, enrollment *models.Enrollment) (*models.Certificate, error) {
	unlock := s.issueLocks.Lock(enrollment.ID)
	defer unlock()

	if existing, err := s.certificates.FindByEnrollment(ctx, enrollment.ID); err == nil {
		return existing, nil
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing certificate: %w", err)
	}

	series, err := s.series.FindByID(ctx, enrollment.SeriesID)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}

	now := s.now()
	serial, err := s.certificates.NextSerialForDate(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("number certificate: %w", err)
	}

	certificate := &models.Certificate{
		EnrollmentID:      enrollment.ID,
		SeriesID:          enrollment.SeriesID,
		CourseTypeID:      series.CourseTypeID,
		PetID:             enrollment.PetID,
		CompletionDate:    now,
		CertificateNumber: fmt.Sprintf("PA-%s-%04d", now.Format("20060102"), serial),
	}

	unlocked, err := s.computeUnlocked(ctx, enrollment.PetID, series.CourseTypeID)
	if err != nil {
		return nil, err
	}
	certificate.UnlockedNextCourseIDs = unlocked

	if err := s.certificates.Create(ctx, certificate); err != nil {
		// A racing completion may have inserted first; the unique index on
		// enrollment_id makes the fetch authoritative.
		if existing, findErr := s.certificates.FindByEnrollment(ctx, enrollment.ID); findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	if s.cfg.CacheEnabled {
		if err := s.cache.DeleteByPattern(ctx, progressionCacheKey(enrollment.PetID)); err != nil {
			s.logger.Warn("failed to invalidate progression cache", zap.String("pet_id", enrollment.PetID), zap.Error(err))
		}
	}

	s.dispatcher.EnqueueNotification(Notification{
		OwnerID: enrollment.OwnerID,
		Kind:    NotificationCertificate,
		Data: map[string]string{
			"certificate_id":     certificate.ID,
			"certificate_number": certificate.CertificateNumber,
			"pet_id":             certificate.PetID,
		},
	})

	s.metrics.RecordCertificateIssued()
	s.logger.Info("certificate issued",
		zap.String("certificate_id", certificate.ID),
		zap.String("enrollment_id", enrollment.ID),
		zap.String("number", certificate.CertificateNumber))
	return certificate, nil
}

// computeUnlocked returns all active course types whose prerequisites
// include justCompletedID and are now fully satisfied by the pet's
// certificate set.
func (s *ProgressionService) computeUnlocked(ctx context.Context, petID, justCompletedID string) ([]string, error) {
	existing, err := s.certificates.ListByPet(ctx, petID)
	if err != nil {
		return nil, fmt.Errorf("load certificates: %w", err)
	}
	completed := map[string]bool{justCompletedID: true}
	for _, cert := range existing {
		completed[cert.CourseTypeID] = true
	}

	courseTypes, err := s.catalog.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	var unlocked []string
	for _, ct := range courseTypes {
		if !ct.HasPrerequisite(justCompletedID) || completed[ct.ID] {
			continue
		}
		satisfied := true
		for _, prereqID := range ct.Prerequisites {
			if !completed[prereqID] {
				satisfied = false
				break
			}
		}
		if satisfied {
			unlocked = append(unlocked, ct.ID)
		}
	}
	return unlocked, nil
}

// GetProgression reports the pet's standing against every active course
// type: completed, unlocked, or locked with the missing prerequisites.
// Recomputable at any time; cached when enabled.
func (s *ProgressionService) GetProgression(ctx context.Context, petID string) ([]models.CourseProgression, error) {
	if s.cfg.CacheEnabled {
		var cached []models.CourseProgression
		if err := s.cache.Get(ctx, progressionCacheKey(petID), &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return cached, nil
		}
		s.metrics.RecordCacheOperation(false)
	}

	if _, err := s.pets.FindByID(ctx, petID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "pet not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pet")
	}

	certificates, err := s.certificates.ListByPet(ctx, petID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificates")
	}
	certByCourse := make(map[string]*models.Certificate, len(certificates))
	for i := range certificates {
		certByCourse[certificates[i].CourseTypeID] = &certificates[i]
	}

	courseTypes, err := s.catalog.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load catalog")
	}

	progression := make([]models.CourseProgression, 0, len(courseTypes))
	for _, ct := range courseTypes {
		entry := models.CourseProgression{CourseTypeID: ct.ID, CourseName: ct.Name}

		if cert, ok := certByCourse[ct.ID]; ok {
			entry.Status = models.ProgressionStatusCompleted
			id := cert.ID
			entry.CertificateID = &id
		} else {
			var missing []string
			for _, prereqID := range ct.Prerequisites {
				if _, ok := certByCourse[prereqID]; !ok {
					missing = append(missing, prereqID)
				}
			}
			if len(missing) == 0 {
				entry.Status = models.ProgressionStatusUnlocked
			} else {
				entry.Status = models.ProgressionStatusLocked
				entry.MissingPrerequisites = missing
			}
		}
		progression = append(progression, entry)
	}

	if s.cfg.CacheEnabled {
		if err := s.cache.Set(ctx, progressionCacheKey(petID), progression, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("failed to cache progression", zap.String("pet_id", petID), zap.Error(err))
		}
	}
	return progression, nil
}

// Certificates returns all of a pet's certificates.
func (s *ProgressionService) Certificates(ctx context.Context, petID string) ([]models.Certificate, error) {
	certificates, err := s.certificates.ListByPet(ctx, petID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	return certificates, nil
}

// Certificate returns one certificate by ID.
func (s *ProgressionService) Certificate(ctx context.Context, id string) (*models.Certificate, error) {
	certificate, err := s.certificates.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	return certificate, nil
}

// DownloadLink renders the certificate PDF to storage (once) and returns a
// time-limited signed token for it.
func (s *ProgressionService) DownloadLink(ctx context.Context, certificateID string) (string, time.Time, error) {
	certificate, err := s.Certificate(ctx, certificateID)
	if err != nil {
		return "", time.Time{}, err
	}

	filename := fmt.Sprintf("%s.pdf", certificate.CertificateNumber)
	if f, err := s.files.Open(filename); err != nil {
		if err := s.renderToStorage(ctx, certificate, filename); err != nil {
			return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
		}
	} else {
		_ = f.Close()
	}

	token, expiresAt, err := s.signer.Generate(certificate.ID, filename)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return token, expiresAt, nil
}

// ResolveDownload validates a signed token and returns the stored PDF path.
func (s *ProgressionService) ResolveDownload(ctx context.Context, token string) (string, error) {
	refID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrForbidden, "download link is invalid or expired")
	}
	if _, err := s.Certificate(ctx, refID); err != nil {
		return "", err
	}
	return s.files.Path(relPath), nil
}

func (s *ProgressionService) renderToStorage(ctx context.Context, certificate *models.Certificate, filename string) error {
	pet, err := s.pets.FindByID(ctx, certificate.PetID)
	if err != nil {
		return fmt.Errorf("load pet: %w", err)
	}
	courseType, err := s.catalog.FindByID(ctx, certificate.CourseTypeID)
	if err != nil {
		return fmt.Errorf("load course type: %w", err)
	}
	series, err := s.series.FindByID(ctx, certificate.SeriesID)
	if err != nil {
		return fmt.Errorf("load series: %w", err)
	}

	pdf, err := s.exporter.RenderCertificate(export.CertificateData{
		CertificateNumber: certificate.CertificateNumber,
		PetName:           pet.Name,
		CourseName:        courseType.Name,
		SeriesName:        series.Name,
		CompletionDate:    certificate.CompletionDate.Format("January 2, 2006"),
		InstructorID:      series.InstructorID,
	})
	if err != nil {
		return err
	}

	if _, err := s.files.Save(filename, pdf); err != nil {
		return fmt.Errorf("store certificate pdf: %w", err)
	}
	return nil
}
