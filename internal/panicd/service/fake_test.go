package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/panicattack/panicd/internal/panicd/errs"
	"github.com/panicattack/panicd/internal/panicd/geo"
	"github.com/panicattack/panicd/internal/panicd/models"
	"github.com/panicattack/panicd/internal/panicd/repository"
)

// fakeRepo implements the slices of the Repository interface the service
// layer exercises. Unimplemented methods panic through the embedded nil
// interface, which is exactly what a test should do if it wanders off.
type fakeRepo struct {
	repository.Repository

	mu sync.Mutex

	users    []models.User
	admins   []models.User
	alerts   map[uuid.UUID]*models.Alert
	recent   []models.Alert
	settings models.Settings

	submitResult *models.FootageSubmission
	submitErr    error

	withdrawErr error
	withdrawals []models.Withdrawal
	unpaid      []models.Withdrawal
	paid        []uuid.UUID

	deletedAlerts []uuid.UUID
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		alerts: make(map[uuid.UUID]*models.Alert),
		settings: models.Settings{
			MaxResponders:    5,
			PaymentPerUpload: decimal.RequireFromString("10"),
		},
	}
}

func (f *fakeRepo) ListUsersInBox(_ context.Context, box geo.BoundingBox, pushOnly bool) ([]models.User, error) {
	var out []models.User
	for _, u := range f.users {
		if !u.HasLocation() || !box.Contains(geo.Point{Lat: *u.Lat, Lng: *u.Lng}) {
			continue
		}
		if pushOnly && (!u.IsPushOn || u.PushToken == "") {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeRepo) ListAdmins(context.Context) ([]models.User, error) {
	return f.admins, nil
}

func (f *fakeRepo) CreateAlert(_ context.Context, alert *models.Alert) error {
	alert.CreatedAt = time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts[alert.ID] = alert
	return nil
}

func (f *fakeRepo) GetAlertByID(_ context.Context, id uuid.UUID) (*models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alerts[id], nil
}

func (f *fakeRepo) ListRecentAlerts(_ context.Context, since time.Time) ([]models.Alert, error) {
	var out []models.Alert
	for _, a := range f.recent {
		if a.CreatedAt.After(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteAlert(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.alerts[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.alerts, id)
	f.deletedAlerts = append(f.deletedAlerts, id)
	return nil
}

func (f *fakeRepo) SubmitFootage(_ context.Context, sub *models.FootageSubmission, _ int, _ decimal.Decimal) (*models.FootageSubmission, error) {
	if f.submitResult != nil || f.submitErr != nil {
		return f.submitResult, f.submitErr
	}
	out := *sub
	out.Status = models.SubmissionAccepted
	out.CreatedAt = time.Now()
	return &out, nil
}

func (f *fakeRepo) CreateWithdrawal(_ context.Context, w *models.Withdrawal) error {
	if f.withdrawErr != nil {
		return f.withdrawErr
	}
	w.CreatedAt = time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawals = append(f.withdrawals, *w)
	return nil
}

func (f *fakeRepo) ListUnpaidWithdrawals(_ context.Context, limit int) ([]models.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.unpaid) > limit {
		return f.unpaid[:limit], nil
	}
	return f.unpaid, nil
}

func (f *fakeRepo) MarkWithdrawalPaid(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, id)
	return nil
}

func (f *fakeRepo) GetSettings(context.Context) (*models.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.settings
	return &s, nil
}

func (f *fakeRepo) UpdateSettings(_ context.Context, s models.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = s
	return nil
}

func ptr(v float64) *float64 { return &v }
