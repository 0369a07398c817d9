package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panicattack/panicd/internal/panicd/config"
	"github.com/panicattack/panicd/internal/panicd/logger"
	"github.com/panicattack/panicd/internal/panicd/server"
)

func main() {
	// Load configuration
	cfg := config.NewConfig()
	log := logger.NewLogger("panicd")

	// Create and run server
	srv := server.NewServer(cfg, log)
	go func() {
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	// Wait for termination signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server shutdown error")
	}

	log.Info("server stopped")
}
