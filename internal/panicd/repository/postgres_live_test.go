package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panicattack/panicd/internal/panicd/errs"
	"github.com/panicattack/panicd/internal/panicd/metrics"
	"github.com/panicattack/panicd/internal/panicd/models"
)

// These tests run the real transactional paths against Postgres and are
// skipped unless TEST_DATABASE_URI is set. They cover the races the sqlmock
// tests can only script: distinct responders fighting for the last slot and
// concurrent withdrawals against one balance.

func newLiveRepo(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI not set")
	}

	repo := NewPostgresRepository(metrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, repo.InitDB(dsn))
	t.Cleanup(func() { repo.Close() })

	return repo
}

func createLiveUser(t *testing.T, repo *PostgresRepository, balance string) int64 {
	t.Helper()

	email := fmt.Sprintf("%s@live-test.invalid", uuid.NewString())
	id, err := repo.CreateUser(context.Background(), email, "x", "live test user")
	require.NoError(t, err)
	t.Cleanup(func() { repo.DeleteUser(context.Background(), id) })

	if balance != "0" {
		_, err = repo.db.ExecContext(context.Background(),
			"UPDATE users SET balance = $1 WHERE id = $2", balance, id)
		require.NoError(t, err)
	}

	return id
}

func TestLiveConcurrentFootageSettlement(t *testing.T) {
	repo := newLiveRepo(t)
	ctx := context.Background()

	const maxResponders = 5
	const responders = 6
	payment := decimal.RequireFromString("10")

	creator := createLiveUser(t, repo, "0")
	alert := &models.Alert{ID: uuid.New(), UserID: creator, Lat: 37.7749, Lng: -122.4194}
	require.NoError(t, repo.CreateAlert(ctx, alert))

	ids := make([]int64, responders)
	for i := range ids {
		ids[i] = createLiveUser(t, repo, "0")
	}

	errByResponder := make([]error, responders)
	var wg sync.WaitGroup
	for i, responderID := range ids {
		wg.Add(1)
		go func(i int, responderID int64) {
			defer wg.Done()
			sub := &models.FootageSubmission{
				ID:              uuid.New(),
				AlertID:         alert.ID,
				ResponderID:     responderID,
				VideoURL:        "https://cdn.example.com/v.mp4",
				DurationSeconds: 90,
			}
			_, errByResponder[i] = repo.SubmitFootage(ctx, sub, maxResponders, payment)
		}(i, responderID)
	}
	wg.Wait()

	accepted, rejected := 0, 0
	for i, err := range errByResponder {
		switch {
		case err == nil:
			accepted++
			balance, balErr := repo.GetUserBalance(ctx, ids[i])
			require.NoError(t, balErr)
			assert.True(t, balance.Current.Equal(payment), "accepted responder credited exactly once")
		case assert.ErrorIs(t, err, errs.ErrCapacityExceeded):
			rejected++
			balance, balErr := repo.GetUserBalance(ctx, ids[i])
			require.NoError(t, balErr)
			assert.True(t, balance.Current.IsZero(), "rejected responder not credited")
		}
	}

	assert.Equal(t, maxResponders, accepted)
	assert.Equal(t, responders-maxResponders, rejected)
}

func TestLiveConcurrentWithdrawals(t *testing.T) {
	repo := newLiveRepo(t)
	ctx := context.Background()

	userID := createLiveUser(t, repo, "10")
	amount := decimal.RequireFromString("8")

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := &models.Withdrawal{
				ID:     uuid.New(),
				UserID: userID,
				Amount: amount,
				Fee:    decimal.Zero,
				Total:  amount,
				Method: models.MethodStandard,
				Status: models.WithdrawalUnpaid,
			}
			results[i] = repo.CreateWithdrawal(ctx, w)
		}(i)
	}
	wg.Wait()

	succeeded, insufficient := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, errs.ErrInsufficientFunds):
			insufficient++
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)

	balance, err := repo.GetUserBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, balance.Current.Equal(decimal.RequireFromString("2")), "no overdraft, one debit")
}
