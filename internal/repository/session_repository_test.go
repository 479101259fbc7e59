package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/pawsacademy/training-api/internal/models"
)

func newSessionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSessionRepositoryAnyStarted(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	// A session whose date has passed counts as started even while its
	// status is still scheduled.
	mock.ExpectQuery(regexp.QuoteMeta("(status <> $2 OR date <= $3)")).
		WithArgs("ser-1", models.SessionStatusScheduled, now).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	started, err := repo.AnyStarted(context.Background(), "ser-1", now)
	require.NoError(t, err)
	require.True(t, started)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryAnyStartedNone(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("(status <> $2 OR date <= $3)")).
		WithArgs("ser-1", models.SessionStatusScheduled, now).
		WillReturnError(sql.ErrNoRows)

	started, err := repo.AnyStarted(context.Background(), "ser-1", now)
	require.NoError(t, err)
	require.False(t, started)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryMarkStatus(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET status = $2 WHERE id = $1")).
		WithArgs("ses-1", models.SessionStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkStatus(context.Background(), "ses-1", models.SessionStatusCompleted))
	require.NoError(t, mock.ExpectationsWereMet())
}
