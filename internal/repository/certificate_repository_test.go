package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newCertificateRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCertificateRepositoryNextSerialForDate(t *testing.T) {
	db, mock, cleanup := newCertificateRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	day := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	// Serial allocation upserts the per-day counter and returns the new
	// value in the same statement.
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (issue_date) DO UPDATE SET last_serial = certificate_serials.last_serial + 1")).
		WithArgs(day).
		WillReturnRows(sqlmock.NewRows([]string{"last_serial"}).AddRow(7))

	serial, err := repo.NextSerialForDate(context.Background(), day)
	require.NoError(t, err)
	require.Equal(t, 7, serial)
	require.NoError(t, mock.ExpectationsWereMet())
}
