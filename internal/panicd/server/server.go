package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/panicattack/panicd/internal/panicd/config"
	"github.com/panicattack/panicd/internal/panicd/handlers"
	"github.com/panicattack/panicd/internal/panicd/logger"
	"github.com/panicattack/panicd/internal/panicd/metrics"
	"github.com/panicattack/panicd/internal/panicd/middleware"
	"github.com/panicattack/panicd/internal/panicd/repository"
	"github.com/panicattack/panicd/internal/panicd/service"
)

// Server represents the HTTP server
type Server struct {
	cfg             *config.Config
	log             *logger.Logger
	repo            repository.Repository
	payoutProcessor *service.PayoutProcessor
	handler         *handlers.Handler
	httpServer      *http.Server
}

// NewServer creates a new server
func NewServer(cfg *config.Config, log *logger.Logger) *Server {
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	repo := repository.NewPostgresRepository(m)
	dispatcher := service.NewDispatcher(cfg.PushRelayAddress, log, m)
	settingsSvc := service.NewSettingsService(repo)
	alertSvc := service.NewAlertService(repo, dispatcher, log)
	ledgerSvc := service.NewLedgerService(repo, settingsSvc, dispatcher, log, m)
	withdrawalSvc := service.NewWithdrawalService(repo, log, m)
	payoutSvc := service.NewPayoutService(cfg.PayoutSystemAddress)
	payoutProcessor := service.NewPayoutProcessor(repo, payoutSvc, log, m)

	handler := handlers.NewHandler(repo, alertSvc, ledgerSvc, withdrawalSvc, settingsSvc, log, cfg.JWTSecret)

	return &Server{
		cfg:             cfg,
		log:             log,
		repo:            repo,
		payoutProcessor: payoutProcessor,
		handler:         handler,
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	// Initialize repository
	if err := s.repo.InitDB(s.cfg.DatabaseURI); err != nil {
		return err
	}

	// Start payout reconciliation
	s.payoutProcessor.Start()

	r := chi.NewRouter()

	// Basic middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	jwtConfig := &middleware.JWTConfig{
		SecretKey: s.cfg.JWTSecret,
		Repo:      s.repo,
	}

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/user/register", s.handler.RegisterUser)
		r.Post("/user/login", s.handler.LoginUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtConfig))

			r.Get("/user/me", s.handler.GetMe)
			r.Put("/user/location", s.handler.UpdateLocation)
			r.Put("/user/push", s.handler.UpdatePush)
			r.Put("/user/profile", s.handler.UpdateProfile)
			r.Put("/user/password", s.handler.ChangePassword)
			r.Delete("/user", s.handler.DeleteAccount)
			r.Get("/user/balance", s.handler.GetBalance)
			r.Post("/user/withdraw", s.handler.Withdraw)
			r.Get("/user/withdrawals", s.handler.GetWithdrawals)

			r.Post("/alerts", s.handler.CreateAlert)
			r.Get("/alerts", s.handler.ListAlerts)
			r.Delete("/alerts/{alertID}", s.handler.DeleteAlert)
			r.Post("/alerts/{alertID}/footage", s.handler.SubmitFootage)

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminOnly(s.repo))

				r.Get("/admin/settings", s.handler.GetSettings)
				r.Put("/admin/settings", s.handler.UpdateSettings)
			})
		})
	})

	s.httpServer = &http.Server{
		Addr:    s.cfg.RunAddress,
		Handler: r,
	}

	s.log.WithField("address", s.cfg.RunAddress).Info("starting server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}

	if s.payoutProcessor != nil {
		s.payoutProcessor.Stop()
	}

	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			return err
		}
	}

	return nil
}
