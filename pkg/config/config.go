// Package config loads the engine's environment-driven configuration
// into a flat struct, grounded on the teacher's own pkg/config shape:
// read each variable, fall back to a documented default, never panic on
// a missing optional value.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is every environment-driven setting spec.md §6 enumerates,
// ready to hand to each component's own Config/New.
type Config struct {
	ScanTimeout        time.Duration
	MaxConcurrentScans int
	MaxScansPerTicket  int

	QRHMACSecret   string
	QRRSAPublicKey string
	QRMaxValidity  time.Duration
	QRMaxSize      int

	OfflineSyncInterval   time.Duration
	OfflineCacheTTL       time.Duration
	OfflineBatchSize      int
	OfflineBackupInterval time.Duration

	FraudDetectionEnabled bool
	BlockOnFraud          bool

	RulesServiceURL string
	RulesTimeout    time.Duration

	DBPoolMax           int
	DBIdleTimeout       time.Duration
	DBConnectionTimeout time.Duration

	// RedisAddr selects C5's distributed hot-cache backend when set
	// (e.g. "localhost:6379"); empty falls back to the in-process map.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration
}

// Load reads every setting from its environment variable, per spec.md
// §6's enumerated list, falling back to the documented default when a
// variable is unset or unparseable.
func Load() *Config {
	return &Config{
		ScanTimeout:        envDurationMS("SCAN_TIMEOUT", 15*time.Second),
		MaxConcurrentScans: envInt("MAX_CONCURRENT_SCANS", 100),
		MaxScansPerTicket:  envInt("MAX_SCANS_PER_TICKET", 5),

		QRHMACSecret:   os.Getenv("QR_HMAC_SECRET"),
		QRRSAPublicKey: os.Getenv("QR_RSA_PUBLIC_KEY"),
		QRMaxValidity:  envDurationSeconds("QR_MAX_VALIDITY", 86400*time.Second),
		QRMaxSize:      envInt("QR_MAX_SIZE", 32768),

		OfflineSyncInterval:   envDurationSeconds("OFFLINE_SYNC_INTERVAL", 5*time.Minute),
		OfflineCacheTTL:       envDurationSeconds("OFFLINE_CACHE_TTL", 24*time.Hour),
		OfflineBatchSize:      envInt("OFFLINE_BATCH_SIZE", 50),
		OfflineBackupInterval: envDurationSeconds("OFFLINE_BACKUP_INTERVAL", 5*time.Minute),

		FraudDetectionEnabled: envBool("FRAUD_DETECTION_ENABLED", true),
		BlockOnFraud:          envBool("BLOCK_ON_FRAUD", false),

		RulesServiceURL: envString("RULES_SERVICE_URL", "http://localhost:4000"),
		RulesTimeout:    envDurationMS("RULES_TIMEOUT", 10*time.Second),

		DBPoolMax:           envInt("DB_POOL_MAX", 20),
		DBIdleTimeout:       envDurationMS("DB_IDLE_TIMEOUT", 30*time.Second),
		DBConnectionTimeout: envDurationMS("DB_CONNECTION_TIMEOUT", 5*time.Second),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		RedisTimeout:  envDurationMS("REDIS_TIMEOUT", 250*time.Millisecond),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// envDurationMS reads a millisecond integer, matching spec.md §6's "(ms,
// default N)" settings.
func envDurationMS(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// envDurationSeconds reads a second integer, matching spec.md §6's "(s,
// default N)" settings.
func envDurationSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	s, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(s) * time.Second
}
