package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// IdentityConflict policies for a second sign-in of the same identity.
const (
	ConflictSupersede = "supersede"
	ConflictReject    = "reject"
)

type AppConfig struct {
	ListenAddr     string
	AllowedOrigins []string

	RedisURL    string
	DatabaseURL string

	MessagesDir      string
	IdentityConflict string

	SendBuffer      int
	MaxMessageBytes int64
	RateLimitPerSec float64
	RateLimitBurst  int
	PingInterval    time.Duration
	ArchiveQueue    int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:       ":8000",
		AllowedOrigins:   []string{"http://localhost:5173"},
		IdentityConflict: ConflictSupersede,
		SendBuffer:       64,
		MaxMessageBytes:  64 * 1024,
		RateLimitPerSec:  20,
		RateLimitBurst:   40,
		PingInterval:     30 * time.Second,
		ArchiveQueue:     128,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	} else if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("IDENTITY_CONFLICT"))); v != "" {
		cfg.IdentityConflict = v
	}
	if v := strings.TrimSpace(os.Getenv("SEND_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SendBuffer = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_MESSAGE_BYTES")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxMessageBytes = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_PER_SEC")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateLimitPerSec = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitBurst = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("PING_INTERVAL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PingInterval = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_QUEUE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ArchiveQueue = n
		}
	}

	if cfg.IdentityConflict != ConflictSupersede && cfg.IdentityConflict != ConflictReject {
		return nil, errors.New("IDENTITY_CONFLICT must be supersede or reject")
	}
	if len(cfg.AllowedOrigins) == 0 {
		return nil, errors.New("ALLOWED_ORIGINS must list at least one origin")
	}

	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
