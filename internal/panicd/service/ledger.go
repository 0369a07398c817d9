package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/panicattack/panicd/internal/panicd/errs"
	"github.com/panicattack/panicd/internal/panicd/logger"
	"github.com/panicattack/panicd/internal/panicd/metrics"
	"github.com/panicattack/panicd/internal/panicd/models"
	"github.com/panicattack/panicd/internal/panicd/repository"
)

const adminUploadMessage = "A user has uploaded a video. View it at www.thepanicattack.app/videos"

// LedgerService settles responder footage submissions: the first
// maxResponders qualifying submissions per alert are accepted and paid, the
// rest are rejected at submission time.
type LedgerService struct {
	repo       repository.Repository
	settings   *SettingsService
	dispatcher *Dispatcher
	log        *logger.Logger
	metrics    *metrics.Metrics
}

// NewLedgerService creates a new responder ledger service
func NewLedgerService(repo repository.Repository, settings *SettingsService, dispatcher *Dispatcher, log *logger.Logger, m *metrics.Metrics) *LedgerService {
	return &LedgerService{
		repo:       repo,
		settings:   settings,
		dispatcher: dispatcher,
		log:        log,
		metrics:    m,
	}
}

// Submit records footage for an alert and credits the responder if a slot is
// free. Resubmitting for the same (alert, responder) pair returns the prior
// outcome; it never pays twice.
func (s *LedgerService) Submit(ctx context.Context, alertID uuid.UUID, responderID int64, videoURL string, durationSeconds float64) (*models.FootageSubmission, error) {
	if videoURL == "" || durationSeconds < models.MinFootageSeconds {
		return nil, errs.ErrInvalidAmount
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	sub := &models.FootageSubmission{
		ID:              uuid.New(),
		AlertID:         alertID,
		ResponderID:     responderID,
		VideoURL:        videoURL,
		DurationSeconds: durationSeconds,
	}

	result, err := s.repo.SubmitFootage(ctx, sub, settings.MaxResponders, settings.PaymentPerUpload)
	if err != nil {
		if errors.Is(err, errs.ErrCapacityExceeded) {
			s.metrics.SubmissionsRejected.Inc()
			return result, err
		}
		return nil, err
	}

	s.metrics.SubmissionsAccepted.Inc()
	s.log.WithUserID(responderID).WithField("alert_id", alertID.String()).
		WithField("payment", settings.PaymentPerUpload.String()).Info("footage accepted")

	go s.notifyAdmins()

	return result, nil
}

// notifyAdmins tells every admin about a fresh upload. Best effort; failures
// stay in the dispatcher's logs and counters.
func (s *LedgerService) notifyAdmins() {
	ctx, cancel := context.WithTimeout(context.Background(), fanOutTimeout)
	defer cancel()

	admins, err := s.repo.ListAdmins(ctx)
	if err != nil {
		s.log.WithError(err).Error("admin list query failed")
		return
	}

	s.dispatcher.Notify(ctx, admins, adminUploadMessage, 1)
}
