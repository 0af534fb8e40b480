package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyes-bd/presence-api/internal/models"
)

func newJustificationMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestJustificationRepositoryExistsForRecord(t *testing.T) {
	db, mock, cleanup := newJustificationMock(t)
	defer cleanup()
	repo := NewJustificationRepository(db)

	mock.ExpectQuery("SELECT 1 FROM justifications").
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsForRecord(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJustificationRepositoryExistsForRecordMissing(t *testing.T) {
	db, mock, cleanup := newJustificationMock(t)
	defer cleanup()
	repo := NewJustificationRepository(db)

	mock.ExpectQuery("SELECT 1 FROM justifications").
		WithArgs("rec-1").
		WillReturnError(sql.ErrNoRows)

	exists, err := repo.ExistsForRecord(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJustificationRepositoryCreateDefaultsPending(t *testing.T) {
	db, mock, cleanup := newJustificationMock(t)
	defer cleanup()
	repo := NewJustificationRepository(db)

	mock.ExpectExec("INSERT INTO justifications").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	justification := &models.Justification{AbsenceRecordID: "rec-1", StudentID: "stu-001", Reason: "medical"}
	err := repo.Create(context.Background(), justification)
	require.NoError(t, err)
	assert.Equal(t, models.JustificationPending, justification.Status)
	assert.NotEmpty(t, justification.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJustificationRepositoryDecide(t *testing.T) {
	db, mock, cleanup := newJustificationMock(t)
	defer cleanup()
	repo := NewJustificationRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec("UPDATE justifications SET status").
		WithArgs("jus-1", models.JustificationApproved, sqlmock.AnyArg(), "usr-1", at, models.JustificationPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Decide(context.Background(), "jus-1", models.JustificationApproved, nil, "usr-1", at)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJustificationRepositoryDecideAlreadyDecided(t *testing.T) {
	db, mock, cleanup := newJustificationMock(t)
	defer cleanup()
	repo := NewJustificationRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec("UPDATE justifications SET status").
		WithArgs("jus-1", models.JustificationRejected, sqlmock.AnyArg(), "usr-1", at, models.JustificationPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Decide(context.Background(), "jus-1", models.JustificationRejected, nil, "usr-1", at)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
