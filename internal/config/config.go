package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string
	BusinessID  string
	BusinessTZ  string

	SequenceLetterPolicy string
	SequenceEpoch        string

	OutboxPollInterval    time.Duration
	ConfigRefreshInterval time.Duration
	DepthSampleInterval   time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	businessID := os.Getenv("BUSINESS_ID")
	if businessID == "" {
		businessID = "default"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	// Opening hours, the daily code reset and business_day scoping all
	// follow the business wall clock, not the server's.
	businessTZ := os.Getenv("BUSINESS_TZ")
	if businessTZ == "" {
		businessTZ = "UTC"
	}

	return Config{
		Port:                  port,
		DatabaseURL:           os.Getenv("DB_DSN"),
		RedisAddr:             redisAddr,
		BusinessID:            businessID,
		BusinessTZ:            businessTZ,
		SequenceLetterPolicy:  os.Getenv("SEQUENCE_LETTER_POLICY"),
		SequenceEpoch:         os.Getenv("SEQUENCE_EPOCH"),
		OutboxPollInterval:    readDurationSeconds("OUTBOX_POLL_INTERVAL_SECONDS", 2),
		ConfigRefreshInterval: readDurationSeconds("CONFIG_REFRESH_INTERVAL_SECONDS", 60),
		DepthSampleInterval:   readDurationSeconds("DEPTH_SAMPLE_INTERVAL_SECONDS", 15),
		RateLimitPerMinute:    readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:        readInt("RATE_LIMIT_BURST", 30),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
