package service

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/panicattack/panicd/internal/panicd/errs"
	"github.com/panicattack/panicd/internal/panicd/models"
	"github.com/panicattack/panicd/internal/panicd/repository"
)

const (
	settingsCacheKey = "settings"
	settingsCacheTTL = 30 * time.Second
)

// SettingsService reads and updates the admin-tunable runtime settings.
// Reads go through a short-lived cache so every submission does not hit the
// settings table, while admin updates still take effect within the TTL on
// every process.
type SettingsService struct {
	repo  repository.Repository
	cache *gocache.Cache
}

// NewSettingsService creates a new settings service
func NewSettingsService(repo repository.Repository) *SettingsService {
	return &SettingsService{
		repo:  repo,
		cache: gocache.New(settingsCacheTTL, time.Minute),
	}
}

// Get returns the current settings, served from cache when fresh.
func (s *SettingsService) Get(ctx context.Context) (*models.Settings, error) {
	if cached, found := s.cache.Get(settingsCacheKey); found {
		settings := cached.(models.Settings)
		return &settings, nil
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	s.cache.Set(settingsCacheKey, *settings, settingsCacheTTL)
	return settings, nil
}

// Update writes new settings and drops the local cache entry. The caller is
// responsible for admin authorization.
func (s *SettingsService) Update(ctx context.Context, settings models.Settings) error {
	if settings.MaxResponders < 0 || settings.PaymentPerUpload.IsNegative() {
		return errs.ErrInvalidAmount
	}

	if err := s.repo.UpdateSettings(ctx, settings); err != nil {
		return err
	}

	s.cache.Delete(settingsCacheKey)
	return nil
}
