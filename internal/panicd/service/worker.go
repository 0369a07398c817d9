package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/panicattack/panicd/internal/panicd/logger"
	"github.com/panicattack/panicd/internal/panicd/metrics"
	"github.com/panicattack/panicd/internal/panicd/repository"
)

const payoutBatchSize = 50

// PayoutProcessor reconciles unpaid withdrawals against the external payout
// provider in the background. The paid transition is entirely driven by the
// provider; the processor only records what the provider confirms.
type PayoutProcessor struct {
	repo      repository.Repository
	payoutSvc *PayoutService
	log       *logger.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewPayoutProcessor creates a new payout processor
func NewPayoutProcessor(repo repository.Repository, payoutSvc *PayoutService, log *logger.Logger, m *metrics.Metrics) *PayoutProcessor {
	return &PayoutProcessor{
		repo:      repo,
		payoutSvc: payoutSvc,
		log:       log,
		metrics:   m,
		interval:  30 * time.Second,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the payout processor
func (p *PayoutProcessor) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.processLoop()
	}()
}

// Stop stops the payout processor
func (p *PayoutProcessor) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// processLoop is the main processing loop
func (p *PayoutProcessor) processLoop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.processUnpaidWithdrawals()
		case <-p.stopCh:
			return
		}
	}
}

// processUnpaidWithdrawals checks a batch of unpaid withdrawals against the
// provider and marks the confirmed ones paid.
func (p *PayoutProcessor) processUnpaidWithdrawals() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	withdrawals, err := p.repo.ListUnpaidWithdrawals(ctx, payoutBatchSize)
	if err != nil {
		p.log.WithError(err).Error("unpaid withdrawal query failed")
		return
	}

	for _, w := range withdrawals {
		resp, err := p.payoutSvc.GetPayoutStatus(ctx, w.ID)
		if err != nil {
			p.log.WithField("withdrawal_id", w.ID.String()).WithError(err).Warn("payout status check failed")
			continue
		}

		// Not registered with the provider yet, or still in flight
		if resp == nil || !strings.EqualFold(resp.Status, PayoutStatusPaid) {
			continue
		}

		if err := p.repo.MarkWithdrawalPaid(ctx, w.ID); err != nil {
			p.log.WithField("withdrawal_id", w.ID.String()).WithError(err).Error("marking withdrawal paid failed")
			continue
		}

		p.metrics.PayoutsConfirmed.Inc()
		p.log.WithUserID(w.UserID).WithField("withdrawal_id", w.ID.String()).Info("withdrawal paid")
	}
}
