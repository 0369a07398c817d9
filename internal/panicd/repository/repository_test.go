package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panicattack/panicd/internal/panicd/errs"
	"github.com/panicattack/panicd/internal/panicd/metrics"
	"github.com/panicattack/panicd/internal/panicd/models"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := &PostgresRepository{
		db:      db,
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	}
	return repo, mock
}

func newSubmission() *models.FootageSubmission {
	return &models.FootageSubmission{
		ID:              uuid.New(),
		AlertID:         uuid.New(),
		ResponderID:     7,
		VideoURL:        "https://cdn.example.com/v.mp4",
		DurationSeconds: 90,
	}
}

func expectAlertLock(mock sqlmock.Sqlmock, alertID uuid.UUID) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM alerts WHERE id = $1 FOR UPDATE")).
		WithArgs(alertID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(alertID))
}

func expectNoPriorFootage(mock sqlmock.Sqlmock, sub *models.FootageSubmission) {
	mock.ExpectQuery("SELECT id, alert_id, responder_id, video_url, duration_seconds, status, created_at").
		WithArgs(sub.AlertID, sub.ResponderID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
}

func TestSubmitFootageAccepted(t *testing.T) {
	repo, mock := newMockRepo(t)
	sub := newSubmission()
	payment := decimal.RequireFromString("10")

	mock.ExpectBegin()
	expectAlertLock(mock, sub.AlertID)
	expectNoPriorFootage(mock, sub)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM footage WHERE alert_id = $1 AND status = $2")).
		WithArgs(sub.AlertID, models.SubmissionAccepted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("INSERT INTO footage").
		WithArgs(sub.ID, sub.AlertID, sub.ResponderID, sub.VideoURL, sub.DurationSeconds, models.SubmissionAccepted).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET balance = balance + $1 WHERE id = $2")).
		WithArgs(payment, sub.ResponderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.SubmitFootage(context.Background(), sub, 5, payment)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionAccepted, result.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitFootageCapacityExceeded(t *testing.T) {
	repo, mock := newMockRepo(t)
	sub := newSubmission()
	payment := decimal.RequireFromString("10")

	mock.ExpectBegin()
	expectAlertLock(mock, sub.AlertID)
	expectNoPriorFootage(mock, sub)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM footage WHERE alert_id = $1 AND status = $2")).
		WithArgs(sub.AlertID, models.SubmissionAccepted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	// The rejected record is still persisted, but no balance credit happens.
	mock.ExpectQuery("INSERT INTO footage").
		WithArgs(sub.ID, sub.AlertID, sub.ResponderID, sub.VideoURL, sub.DurationSeconds, models.SubmissionRejected).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	result, err := repo.SubmitFootage(context.Background(), sub, 5, payment)
	assert.ErrorIs(t, err, errs.ErrCapacityExceeded)
	require.NotNil(t, result)
	assert.Equal(t, models.SubmissionRejected, result.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitFootageIdempotent(t *testing.T) {
	repo, mock := newMockRepo(t)
	sub := newSubmission()
	priorID := uuid.New()

	mock.ExpectBegin()
	expectAlertLock(mock, sub.AlertID)
	mock.ExpectQuery("SELECT id, alert_id, responder_id, video_url, duration_seconds, status, created_at").
		WithArgs(sub.AlertID, sub.ResponderID).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "alert_id", "responder_id", "video_url", "duration_seconds", "status", "created_at"},
		).AddRow(priorID, sub.AlertID, sub.ResponderID, sub.VideoURL, sub.DurationSeconds, models.SubmissionAccepted, time.Now()))
	mock.ExpectCommit()

	result, err := repo.SubmitFootage(context.Background(), sub, 5, decimal.RequireFromString("10"))
	require.NoError(t, err)
	// The earlier outcome comes back untouched; nothing is inserted or paid.
	assert.Equal(t, priorID, result.ID)
	assert.Equal(t, models.SubmissionAccepted, result.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitFootageAlertMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	sub := newSubmission()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM alerts WHERE id = $1 FOR UPDATE")).
		WithArgs(sub.AlertID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.SubmitFootage(context.Background(), sub, 5, decimal.RequireFromString("10"))
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitFootageSerializationRetry(t *testing.T) {
	repo, mock := newMockRepo(t)
	sub := newSubmission()
	conflict := &pgconn.PgError{Code: "40001"}

	for i := 0; i < txMaxAttempts; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM alerts WHERE id = $1 FOR UPDATE")).
			WithArgs(sub.AlertID).
			WillReturnError(conflict)
		mock.ExpectRollback()
	}

	_, err := repo.SubmitFootage(context.Background(), sub, 5, decimal.RequireFromString("10"))
	assert.ErrorIs(t, err, errs.ErrTransientStore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithdrawal(t *testing.T) {
	repo, mock := newMockRepo(t)

	w := &models.Withdrawal{
		ID:     uuid.New(),
		UserID: 7,
		Amount: decimal.RequireFromString("50"),
		Fee:    decimal.RequireFromString("1.125"),
		Total:  decimal.RequireFromString("48.875"),
		Method: models.MethodInstant,
		Status: models.WithdrawalUnpaid,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT balance FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs(w.UserID).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("100"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET balance = balance - $1 WHERE id = $2")).
		WithArgs(w.Amount, w.UserID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO withdrawals").
		WithArgs(w.ID, w.UserID, w.Amount, w.Fee, w.Total, w.Method, w.Status).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateWithdrawal(context.Background(), w))
	assert.False(t, w.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithdrawalInsufficientFunds(t *testing.T) {
	repo, mock := newMockRepo(t)

	w := &models.Withdrawal{
		ID:     uuid.New(),
		UserID: 7,
		Amount: decimal.RequireFromString("50"),
		Method: models.MethodStandard,
		Status: models.WithdrawalUnpaid,
	}

	mock.ExpectBegin()
	// The balance inside the transaction decides, not any earlier read.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT balance FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs(w.UserID).
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("49.99"))
	mock.ExpectRollback()

	err := repo.CreateWithdrawal(context.Background(), w)
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkWithdrawalPaid(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	t.Run("unpaid row flips to paid", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE withdrawals SET status = $1 WHERE id = $2 AND status = $3")).
			WithArgs(models.WithdrawalPaid, id, models.WithdrawalUnpaid).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.MarkWithdrawalPaid(context.Background(), id))
	})

	t.Run("already paid or unknown id", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE withdrawals SET status = $1 WHERE id = $2 AND status = $3")).
			WithArgs(models.WithdrawalPaid, id, models.WithdrawalUnpaid).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.MarkWithdrawalPaid(context.Background(), id)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
