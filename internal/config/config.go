package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything tunable from the environment.
type Config struct {
	Addr          string
	HoldTTL       time.Duration
	RoomIdleTTL   time.Duration
	SweepInterval time.Duration
}

const (
	defaultAddr          = ":5500"
	defaultHoldTTL       = 180 * time.Second
	defaultRoomIdleTTL   = 24 * time.Hour
	defaultSweepInterval = time.Hour
)

// Load reads .env if present, then the environment. Missing or malformed
// values fall back to defaults; configuration never aborts startup.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:          envString("ADDR", defaultAddr),
		HoldTTL:       envDuration("HOLD_TTL", defaultHoldTTL),
		RoomIdleTTL:   envDuration("ROOM_IDLE_TTL", defaultRoomIdleTTL),
		SweepInterval: envDuration("SWEEP_INTERVAL", defaultSweepInterval),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
