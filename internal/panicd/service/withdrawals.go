package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/panicattack/panicd/internal/panicd/errs"
	"github.com/panicattack/panicd/internal/panicd/logger"
	"github.com/panicattack/panicd/internal/panicd/metrics"
	"github.com/panicattack/panicd/internal/panicd/models"
	"github.com/panicattack/panicd/internal/panicd/repository"
)

// Instant withdrawal fee schedule: 1.75% of the requested amount plus a
// fixed 25 cents. Standard withdrawals carry no fee.
var (
	instantFeeRate = decimal.NewFromFloat(0.0175)
	instantFeeBase = decimal.RequireFromString("0.25")
)

// ComputeFee returns the fee and the net total for a withdrawal. The net is
// floored at zero; the debit is always the gross amount, with the fee
// absorbed from it rather than charged on top.
func ComputeFee(amount decimal.Decimal, method string) (fee, total decimal.Decimal) {
	if method == models.MethodInstant {
		fee = amount.Mul(instantFeeRate).Add(instantFeeBase)
		total = amount.Sub(fee)
		if total.IsNegative() {
			total = decimal.Zero
		}
		return fee, total
	}

	return decimal.Zero, amount
}

// WithdrawalService validates, prices and commits balance withdrawals.
type WithdrawalService struct {
	repo    repository.Repository
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewWithdrawalService creates a new withdrawal service
func NewWithdrawalService(repo repository.Repository, log *logger.Logger, m *metrics.Metrics) *WithdrawalService {
	return &WithdrawalService{
		repo:    repo,
		log:     log,
		metrics: m,
	}
}

// Withdraw debits the user's balance by the gross amount and records the
// withdrawal as unpaid. The balance sufficiency check runs inside the store
// transaction, so concurrent requests cannot overdraft.
func (s *WithdrawalService) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal, method string) (*models.Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, errs.ErrInvalidAmount
	}

	if method != models.MethodInstant && method != models.MethodStandard {
		return nil, errs.ErrInvalidAmount
	}

	fee, total := ComputeFee(amount, method)

	w := &models.Withdrawal{
		ID:     uuid.New(),
		UserID: userID,
		Amount: amount,
		Fee:    fee,
		Total:  total,
		Method: method,
		Status: models.WithdrawalUnpaid,
	}

	if err := s.repo.CreateWithdrawal(ctx, w); err != nil {
		return nil, err
	}

	s.metrics.WithdrawalsCreated.WithLabelValues(method).Inc()
	s.log.WithUserID(userID).WithField("amount", amount.String()).
		WithField("method", method).Info("withdrawal committed")

	return w, nil
}
