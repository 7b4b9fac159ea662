package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig carries every runtime knob the server reads at startup.
type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	StockfishPath string

	RoomTTL         time.Duration
	RoomCodeLength  int
	DefaultRating   int
	MaxActiveRooms  int
	ShutdownTimeout time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:      ":8080",
		RoomTTL:         24 * time.Hour,
		RoomCodeLength:  6,
		DefaultRating:   1000,
		MaxActiveRooms:  500,
		ShutdownTimeout: 10 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))

	if v := strings.TrimSpace(os.Getenv("ROOM_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, errors.New("ROOM_TTL must be a positive duration")
		}
		cfg.RoomTTL = d
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_RATING")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultRating = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_ACTIVE_ROOMS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxActiveRooms = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SHUTDOWN_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ShutdownTimeout = d
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
