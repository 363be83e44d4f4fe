package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string
	Port              string
	Env               string
	DatabaseDriver    string
	DatabasePath      string
	DatabaseURL       string
	SessionSecret     string
	GinMode           string
	UploadDir         string
	UploadURLPath     string
	SuperRootUserName string
	SuperRootPassword string

	FeedMaxLimit     int
	FeedStreamDelay  time.Duration
	FeedFetchTimeout time.Duration

	EmbedFetchTimeout time.Duration
	EmbedCacheTTL     time.Duration

	StorageMaxAttempts int
	StorageBaseDelay   time.Duration
	StorageMultiplier  float64

	AuditQueueSize int

	NatsURL      string
	RedisAddr    string
	OtelEndpoint string
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() AppConfig {
	port := getEnv("PORT", "8080")

	listenAddr := getEnv("LISTEN_ADDR", "")
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	return AppConfig{
		ListenAddr:        listenAddr,
		Port:              port,
		Env:               getEnv("APP_ENV", "local"),
		DatabaseDriver:    strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite")),
		DatabasePath:      getEnv("DATABASE_PATH", "feedlog.db"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		SessionSecret:     getEnv("SESSION_SECRET", "feedlog-dev-secret"),
		GinMode:           getEnv("GIN_MODE", "release"),
		UploadDir:         getEnv("UPLOAD_DIR", "web/static/uploads"),
		UploadURLPath:     getEnv("UPLOAD_URL_PATH", "/uploads"),
		SuperRootUserName: getEnv("SUPER_ROOT_USER_NAME", ""),
		SuperRootPassword: getEnv("SUPER_ROOT_PASSWORD", ""),

		FeedMaxLimit:     getInt("FEED_MAX_LIMIT", 20),
		FeedStreamDelay:  getDuration("FEED_STREAM_DELAY", 10*time.Millisecond),
		FeedFetchTimeout: getDuration("FEED_FETCH_TIMEOUT", 5*time.Second),

		EmbedFetchTimeout: getDuration("EMBED_FETCH_TIMEOUT", 5*time.Second),
		EmbedCacheTTL:     getDuration("EMBED_CACHE_TTL", 24*time.Hour),

		StorageMaxAttempts: getInt("STORAGE_MAX_ATTEMPTS", 3),
		StorageBaseDelay:   getDuration("STORAGE_BASE_DELAY", 100*time.Millisecond),
		StorageMultiplier:  getFloat("STORAGE_MULTIPLIER", 2),

		AuditQueueSize: getInt("AUDIT_QUEUE_SIZE", 256),

		NatsURL:      getEnv("NATS_URL", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		OtelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func getFloat(key string, fallback float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// getDuration 接受 time.ParseDuration 格式，非法值回退到默认值。
func getDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
