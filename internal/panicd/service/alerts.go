package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/panicattack/panicd/internal/panicd/errs"
	"github.com/panicattack/panicd/internal/panicd/geo"
	"github.com/panicattack/panicd/internal/panicd/logger"
	"github.com/panicattack/panicd/internal/panicd/models"
	"github.com/panicattack/panicd/internal/panicd/repository"
)

// AlertRadiusMeters is the fan-out and visibility radius: 10 miles.
const AlertRadiusMeters = 16093.4

const alertMessage = "New location alert"

// fanOutTimeout bounds the background notification fan-out after alert
// creation has already succeeded.
const fanOutTimeout = time.Minute

// AlertService owns alert creation, visibility queries, deletion and the
// notification fan-out to nearby users.
type AlertService struct {
	repo       repository.Repository
	dispatcher *Dispatcher
	log        *logger.Logger
}

// NewAlertService creates a new alert service
func NewAlertService(repo repository.Repository, dispatcher *Dispatcher, log *logger.Logger) *AlertService {
	return &AlertService{
		repo:       repo,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Create persists the alert and kicks off the push fan-out to nearby users.
// Creation succeeds even when the fan-out partially or completely fails.
func (s *AlertService) Create(ctx context.Context, creatorID int64, lat, lng float64, label string) (*models.Alert, error) {
	alert := &models.Alert{
		ID:             uuid.New(),
		UserID:         creatorID,
		Lat:            lat,
		Lng:            lng,
		LocationString: label,
	}

	if err := s.repo.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}

	go s.fanOut(alert)

	return alert, nil
}

// fanOut notifies push-enabled users within the alert radius, excluding the
// creator. Runs detached from the request.
func (s *AlertService) fanOut(alert *models.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), fanOutTimeout)
	defer cancel()

	recipients, err := s.Recipients(ctx, alert)
	if err != nil {
		s.log.WithAlertID(alert.ID.String()).WithError(err).Error("fan-out recipient query failed")
		return
	}

	outcomes := s.dispatcher.Notify(ctx, recipients, alertMessage, 1)

	delivered := 0
	for _, o := range outcomes {
		if o.Delivered {
			delivered++
		}
	}
	s.log.WithAlertID(alert.ID.String()).WithField("recipients", len(outcomes)).
		WithField("delivered", delivered).Info("alert fan-out complete")
}

// Recipients resolves the fan-out set for an alert: push-enabled users whose
// last known location is within the radius. The bounding box only prefilters;
// the great-circle check decides.
func (s *AlertService) Recipients(ctx context.Context, alert *models.Alert) ([]models.User, error) {
	center := geo.Point{Lat: alert.Lat, Lng: alert.Lng}
	box := geo.BoxAround(center, AlertRadiusMeters)

	candidates, err := s.repo.ListUsersInBox(ctx, box, true)
	if err != nil {
		return nil, err
	}

	var recipients []models.User
	for _, u := range candidates {
		if u.ID == alert.UserID || !u.HasLocation() {
			continue
		}
		if geo.WithinRadius(center, geo.Point{Lat: *u.Lat, Lng: *u.Lng}, AlertRadiusMeters) {
			recipients = append(recipients, u)
		}
	}

	return recipients, nil
}

// ListRecent returns a point-in-time snapshot of alerts inside the
// visibility window, newest first. When a viewer location is given, alerts
// beyond the radius from the viewer are filtered out.
func (s *AlertService) ListRecent(ctx context.Context, viewer *geo.Point) ([]models.Alert, error) {
	since := time.Now().Add(-models.AlertVisibilityWindow)

	alerts, err := s.repo.ListRecentAlerts(ctx, since)
	if err != nil {
		return nil, err
	}

	if viewer == nil {
		return alerts, nil
	}

	filtered := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if geo.WithinRadius(*viewer, geo.Point{Lat: a.Lat, Lng: a.Lng}, AlertRadiusMeters) {
			filtered = append(filtered, a)
		}
	}

	return filtered, nil
}

// Delete removes an alert. Only the creator may delete it.
func (s *AlertService) Delete(ctx context.Context, alertID uuid.UUID, requesterID int64) error {
	alert, err := s.repo.GetAlertByID(ctx, alertID)
	if err != nil {
		return err
	}
	if alert == nil {
		return errs.ErrNotFound
	}

	if alert.UserID != requesterID {
		return errs.ErrForbidden
	}

	return s.repo.DeleteAlert(ctx, alertID)
}
