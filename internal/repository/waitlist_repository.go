package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pawsacademy/training-api/internal/models"
)

const waitlistOfferColumns = `id, enrollment_id, series_id, token_hash, status, offered_at, expires_at`

// WaitlistOfferRepository handles persistence of claim-window offers.
type WaitlistOfferRepository struct {
	db *sqlx.DB
}

// NewWaitlistOfferRepository constructs the repository.
func NewWaitlistOfferRepository(db *sqlx.DB) *WaitlistOfferRepository {
	return &WaitlistOfferRepository{db: db}
}

// CreateOffer persists a new offer record.
func (r *WaitlistOfferRepository) CreateOffer(ctx context.Context, offer *models.WaitlistOffer) error {
	if offer.ID == "" {
		offer.ID = uuid.NewString()
	}
	if offer.OfferedAt.IsZero() {
		offer.OfferedAt = time.Now().UTC()
	}
	if offer.Status == "" {
		offer.Status = models.WaitlistOfferStatusOffered
	}
	const query = `INSERT INTO waitlist_offers (id, enrollment_id, series_id, token_hash, status, offered_at, expires_at)
        VALUES (:id, :enrollment_id, :series_id, :token_hash, :status, :offered_at, :expires_at)`
	if _, err := r.db.NamedExecContext(ctx, query, offer); err != nil {
		return fmt.Errorf("create waitlist offer: %w", err)
	}
	return nil
}

// FindOpenByEnrollment returns the enrollment's outstanding offer, or
// sql.ErrNoRows when none is open.
func (r *WaitlistOfferRepository) FindOpenByEnrollment(ctx context.Context, enrollmentID string) (*models.WaitlistOffer, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_offers
        WHERE enrollment_id = $1 AND status = $2 ORDER BY offered_at DESC LIMIT 1`, waitlistOfferColumns)
	var offer models.WaitlistOffer
	err := r.db.GetContext(ctx, &offer, query, enrollmentID, models.WaitlistOfferStatusOffered)
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// ListExpired returns offers whose claim window has lapsed but that are
// still marked offered. The sweeper consumes this.
func (r *WaitlistOfferRepository) ListExpired(ctx context.Context, now time.Time) ([]models.WaitlistOffer, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_offers
        WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at ASC`, waitlistOfferColumns)
	var offers []models.WaitlistOffer
	if err := r.db.SelectContext(ctx, &offers, query, models.WaitlistOfferStatusOffered, now); err != nil {
		return nil, fmt.Errorf("list expired offers: %w", err)
	}
	return offers, nil
}

// MarkStatus transitions an offer, but only from the offered state so a
// racing claim and sweep cannot both win.
func (r *WaitlistOfferRepository) MarkStatus(ctx context.Context, id string, status models.WaitlistOfferStatus) (bool, error) {
	const query = `UPDATE waitlist_offers SET status = $2 WHERE id = $1 AND status = $3`
	result, err := r.db.ExecContext(ctx, query, id, status, models.WaitlistOfferStatusOffered)
	if err != nil {
		return false, fmt.Errorf("mark waitlist offer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark waitlist offer result: %w", err)
	}
	return affected == 1, nil
}
