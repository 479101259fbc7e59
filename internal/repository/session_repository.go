package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pawsacademy/training-api/internal/models"
)

// SessionRepository handles persistence of session occurrences.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// ListBySeries returns the session calendar ordered by session number.
func (r *SessionRepository) ListBySeries(ctx context.Context, seriesID string) ([]models.Session, error) {
	const query = `SELECT id, series_id, session_number, date, start_time, end_time, status, enrolled_count
        FROM sessions WHERE series_id = $1 ORDER BY session_number ASC`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, seriesID); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// FindBySeriesAndNumber returns one session by its dense number.
func (r *SessionRepository) FindBySeriesAndNumber(ctx context.Context, seriesID string, number int) (*models.Session, error) {
	const query = `SELECT id, series_id, session_number, date, start_time, end_time, status, enrolled_count
        FROM sessions WHERE series_id = $1 AND session_number = $2`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, seriesID, number); err != nil {
		return nil, err
	}
	return &session, nil
}

// AnyStarted reports whether any session of the series has started: its
// status left scheduled, or its calendar date has arrived. The date check
// freezes the calendar even before staff record the first verdict.
func (r *SessionRepository) AnyStarted(ctx context.Context, seriesID string, now time.Time) (bool, error) {
	const query = `SELECT 1 FROM sessions WHERE series_id = $1 AND (status <> $2 OR date <= $3) LIMIT 1`
	var one int
	if err := r.db.GetContext(ctx, &one, query, seriesID, models.SessionStatusScheduled, now); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check started sessions: %w", err)
	}
	return true, nil
}

// MarkStatus moves a session occurrence through its lifecycle.
func (r *SessionRepository) MarkStatus(ctx context.Context, id string, status models.SessionStatus) error {
	const query = `UPDATE sessions SET status = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// ReplaceForSeries swaps the full session calendar inside one transaction.
func (r *SessionRepository) ReplaceForSeries(ctx context.Context, seriesID string, sessions []models.Session) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE series_id = $1`, seriesID); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}

	const insert = `INSERT INTO sessions (id, series_id, session_number, date, start_time, end_time, status, enrolled_count)
        VALUES (:id, :series_id, :session_number, :date, :start_time, :end_time, :status, :enrolled_count)`
	for i := range sessions {
		if sessions[i].ID == "" {
			sessions[i].ID = uuid.NewString()
		}
		if sessions[i].Status == "" {
			sessions[i].Status = models.SessionStatusScheduled
		}
		if _, err = tx.NamedExecContext(ctx, insert, sessions[i]); err != nil {
			return fmt.Errorf("insert session %d: %w", sessions[i].SessionNumber, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit session replace: %w", err)
	}
	return nil
}

// AdjustEnrolledBySeries shifts the headcount on all not-yet-started sessions.
func (r *SessionRepository) AdjustEnrolledBySeries(ctx context.Context, seriesID string, delta int) error {
	const query = `UPDATE sessions SET enrolled_count = enrolled_count + $2
        WHERE series_id = $1 AND status = $3 AND enrolled_count + $2 >= 0`
	if _, err := r.db.ExecContext(ctx, query, seriesID, delta, models.SessionStatusScheduled); err != nil {
		return fmt.Errorf("adjust session headcount: %w", err)
	}
	return nil
}
