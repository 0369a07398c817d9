package config

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
)

// Config contains application configuration
type Config struct {
	RunAddress          string
	DatabaseURI         string
	PushRelayAddress    string
	PayoutSystemAddress string
	JWTSecret           string
}

// NewConfig creates a new configuration from environment variables or flags
func NewConfig() *Config {
	// .env is optional; system environment wins either way
	_ = godotenv.Load()

	var cfg Config

	flag.StringVar(&cfg.RunAddress, "a", "", "Server run address")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "Database URI")
	flag.StringVar(&cfg.PushRelayAddress, "p", "", "Push notification relay address")
	flag.StringVar(&cfg.PayoutSystemAddress, "r", "", "Payout provider address")
	flag.Parse()

	if envAddr := os.Getenv("RUN_ADDRESS"); envAddr != "" {
		cfg.RunAddress = envAddr
	}

	if envDBURI := os.Getenv("DATABASE_URI"); envDBURI != "" {
		cfg.DatabaseURI = envDBURI
	}

	if envRelay := os.Getenv("PUSH_RELAY_ADDRESS"); envRelay != "" {
		cfg.PushRelayAddress = envRelay
	}

	if envPayout := os.Getenv("PAYOUT_SYSTEM_ADDRESS"); envPayout != "" {
		cfg.PayoutSystemAddress = envPayout
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	if cfg.RunAddress == "" {
		cfg.RunAddress = ":8080"
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}

	return &cfg
}
