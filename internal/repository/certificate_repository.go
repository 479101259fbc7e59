package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pawsacademy/training-api/internal/models"
)

const certificateColumns = `id, enrollment_id, series_id, course_type_id, pet_id,
        completion_date, certificate_number, unlocked_next_course_ids, created_at`

// CertificateRepository handles persistence of completion certificates.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs the repository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Create persists a new certificate. The unique index on enrollment_id
// backs the exactly-once guarantee.
func (r *CertificateRepository) Create(ctx context.Context, certificate *models.Certificate) error {
	if certificate.ID == "" {
		certificate.ID = uuid.NewString()
	}
	if certificate.CreatedAt.IsZero() {
		certificate.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO certificates (id, enrollment_id, series_id, course_type_id, pet_id,
        completion_date, certificate_number, unlocked_next_course_ids, created_at)
        VALUES (:id, :enrollment_id, :series_id, :course_type_id, :pet_id,
        :completion_date, :certificate_number, :unlocked_next_course_ids, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, certificate); err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	return nil
}

// FindByID returns a certificate by its ID.
func (r *CertificateRepository) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	query := fmt.Sprintf("SELECT %s FROM certificates WHERE id = $1", certificateColumns)
	var certificate models.Certificate
	if err := r.db.GetContext(ctx, &certificate, query, id); err != nil {
		return nil, err
	}
	return &certificate, nil
}

// FindByEnrollment returns the certificate issued for an enrollment, or
// sql.ErrNoRows when none was issued.
func (r *CertificateRepository) FindByEnrollment(ctx context.Context, enrollmentID string) (*models.Certificate, error) {
	query := fmt.Sprintf("SELECT %s FROM certificates WHERE enrollment_id = $1", certificateColumns)
	var certificate models.Certificate
	if err := r.db.GetContext(ctx, &certificate, query, enrollmentID); err != nil {
		return nil, err
	}
	return &certificate, nil
}

// ListByPet returns all of a pet's certificates, newest first.
func (r *CertificateRepository) ListByPet(ctx context.Context, petID string) ([]models.Certificate, error) {
	query := fmt.Sprintf("SELECT %s FROM certificates WHERE pet_id = $1 ORDER BY completion_date DESC", certificateColumns)
	var certificates []models.Certificate
	if err := r.db.SelectContext(ctx, &certificates, query, petID); err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	return certificates, nil
}

// NextSerialForDate allocates the next per-day serial used in certificate
// numbers. The upsert increments under a row lock, so concurrent issuers
// always observe distinct values.
func (r *CertificateRepository) NextSerialForDate(ctx context.Context, date time.Time) (int, error) {
	const query = `INSERT INTO certificate_serials (issue_date, last_serial)
        VALUES ($1::date, 1)
        ON CONFLICT (issue_date) DO UPDATE SET last_serial = certificate_serials.last_serial + 1
        RETURNING last_serial`
	var serial int
	if err := r.db.GetContext(ctx, &serial, query, date); err != nil {
		return 0, fmt.Errorf("allocate certificate serial: %w", err)
	}
	return serial, nil
}
