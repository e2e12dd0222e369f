package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/checkpointly/scanvalidator/pkg/config"
)

// TestLoad_Defaults verifies Load() returns spec.md §6's documented
// defaults when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	for _, key := range allConfigEnvVars {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, 15*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 100, cfg.MaxConcurrentScans)
	assert.Equal(t, 5, cfg.MaxScansPerTicket)
	assert.Equal(t, 86400*time.Second, cfg.QRMaxValidity)
	assert.Equal(t, 32768, cfg.QRMaxSize)
	assert.Equal(t, 24*time.Hour, cfg.OfflineCacheTTL)
	assert.True(t, cfg.FraudDetectionEnabled)
	assert.False(t, cfg.BlockOnFraud)
	assert.Equal(t, 20, cfg.DBPoolMax)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.RedisTimeout)
}

// TestLoad_Overrides verifies environment variables override defaults.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SCAN_TIMEOUT", "5000")
	t.Setenv("MAX_CONCURRENT_SCANS", "250")
	t.Setenv("QR_HMAC_SECRET", "super-secret")
	t.Setenv("QR_MAX_VALIDITY", "3600")
	t.Setenv("FRAUD_DETECTION_ENABLED", "false")
	t.Setenv("BLOCK_ON_FRAUD", "true")
	t.Setenv("RULES_SERVICE_URL", "https://rules.internal")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("REDIS_DB", "2")

	cfg := config.Load()

	assert.Equal(t, 5*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 250, cfg.MaxConcurrentScans)
	assert.Equal(t, "super-secret", cfg.QRHMACSecret)
	assert.Equal(t, time.Hour, cfg.QRMaxValidity)
	assert.False(t, cfg.FraudDetectionEnabled)
	assert.True(t, cfg.BlockOnFraud)
	assert.Equal(t, "https://rules.internal", cfg.RulesServiceURL)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
}

// TestLoad_UnparseableFallsBackToDefault verifies a malformed value is
// treated the same as an unset one, never a startup panic.
func TestLoad_UnparseableFallsBackToDefault(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_SCANS", "not-a-number")
	t.Setenv("FRAUD_DETECTION_ENABLED", "maybe")

	cfg := config.Load()

	assert.Equal(t, 100, cfg.MaxConcurrentScans)
	assert.True(t, cfg.FraudDetectionEnabled)
}

var allConfigEnvVars = []string{
	"SCAN_TIMEOUT", "MAX_CONCURRENT_SCANS", "MAX_SCANS_PER_TICKET",
	"QR_HMAC_SECRET", "QR_RSA_PUBLIC_KEY", "QR_MAX_VALIDITY", "QR_MAX_SIZE",
	"OFFLINE_SYNC_INTERVAL", "OFFLINE_CACHE_TTL", "OFFLINE_BATCH_SIZE", "OFFLINE_BACKUP_INTERVAL",
	"FRAUD_DETECTION_ENABLED", "BLOCK_ON_FRAUD",
	"RULES_SERVICE_URL", "RULES_TIMEOUT",
	"DB_POOL_MAX", "DB_IDLE_TIMEOUT", "DB_CONNECTION_TIMEOUT",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_TIMEOUT",
}
