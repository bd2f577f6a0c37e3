package natsconfig

import (
	"os"
	"strconv"
	"time"

	"github.com/buzzboard/buzzboard/internal/roomsync"
)

// NewConfigFromEnv reads NATS_* environment variables (with defaults)
// into a room sync config.
func NewConfigFromEnv() roomsync.Config {
	cfg := roomsync.DefaultConfig()
	cfg.URL = getEnv("NATS_URL", cfg.URL)
	cfg.BucketName = getEnv("NATS_KV_BUCKET", cfg.BucketName)
	cfg.StreamName = getEnv("NATS_EVENT_STREAM", cfg.StreamName)
	cfg.MaxReconnects = getEnvAsInt("NATS_MAX_RECONNECTS", cfg.MaxReconnects)
	cfg.ReconnectWait = getEnvAsDuration("NATS_RECONNECT_WAIT", cfg.ReconnectWait)
	cfg.RoomTTL = getEnvAsDuration("ROOM_TTL", cfg.RoomTTL)
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
