package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyes-bd/presence-api/internal/models"
)

func newReportRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func reportJobRow(id string, status models.ReportStatus, resultURL interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "type", "params", "status", "progress", "result_url", "created_by", "created_at", "finished_at", "error_message"}).
		AddRow(id, "exclusion", `{"preset":"month","format":"csv","extras":{}}`, string(status), 0, resultURL, "usr-admin", time.Now(), nil, nil)
}

func TestReportRepositoryCreateStampsDefaults(t *testing.T) {
	db, mock, cleanup := newReportRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectExec("INSERT INTO report_jobs").WillReturnResult(sqlmock.NewResult(0, 1))

	job := &models.ReportJob{
		Type:      models.ReportTypeExclusion,
		Params:    models.ReportJobParams{Preset: models.PeriodMonth, Format: models.ReportFormatCSV},
		CreatedBy: "usr-admin",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.ReportStatusQueued, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newReportRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + reportJobColumns + " FROM report_jobs WHERE id = $1")).
		WithArgs("job-1").
		WillReturnRows(reportJobRow("job-1", models.ReportStatusQueued, nil))

	job, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReportTypeExclusion, job.Type)
	assert.Equal(t, models.ReportFormatCSV, job.Params.Format)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryGetByIDMissingRow(t *testing.T) {
	db, mock, cleanup := newReportRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectQuery("FROM report_jobs WHERE id =").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryUpdateFullPatch(t *testing.T) {
	db, mock, cleanup := newReportRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	now := time.Now()
	status := models.ReportStatusFinished
	progress := 100
	url := "/api/v1/reports/files/token"
	cleared := ""
	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET status = $1, progress = $2, result_url = $3, error_message = $4, finished_at = $5 WHERE id = $6")).
		WithArgs(string(status), progress, url, cleared, now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "job-1", UpdateReportJobParams{
		Status:       &status,
		Progress:     &progress,
		ResultURL:    &url,
		ErrorMessage: &cleared,
		FinishedAt:   &now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryUpdateSingleField(t *testing.T) {
	db, mock, cleanup := newReportRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	msg := "render failed"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET error_message = $1 WHERE id = $2")).
		WithArgs(msg, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), "job-1", UpdateReportJobParams{ErrorMessage: &msg}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryUpdateNothingIsNoop(t *testing.T) {
	db, mock, cleanup := newReportRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	require.NoError(t, repo.Update(context.Background(), "job-1", UpdateReportJobParams{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListQueued(t *testing.T) {
	db, mock, cleanup := newReportRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM report_jobs WHERE status = $1 ORDER BY created_at ASC LIMIT $2")).
		WithArgs(string(models.ReportStatusQueued), 20).
		WillReturnRows(reportJobRow("job-1", models.ReportStatusQueued, nil))

	pending, err := repo.ListQueued(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "job-1", pending[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListExpiredResults(t *testing.T) {
	db, mock, cleanup := newReportRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND finished_at IS NOT NULL AND finished_at < $2 AND result_url IS NOT NULL AND result_url <> ''")).
		WithArgs(string(models.ReportStatusFinished), cutoff, 50).
		WillReturnRows(reportJobRow("job-1", models.ReportStatusFinished, "/api/v1/reports/files/token"))

	expired, err := repo.ListExpiredResults(context.Background(), cutoff, 0)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.NotNil(t, expired[0].ResultURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}
