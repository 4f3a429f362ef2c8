package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	clearDocengineEnv(t)

	cfg := FromEnv()
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, int64(104857600), cfg.Document.MaxUploadBytes)
	assert.Equal(t, 100, cfg.Document.MaxPagesPerDocument)
	assert.Equal(t, "gpt-4o", cfg.Vision.ModelName)
	assert.Equal(t, "", cfg.Vision.SecondaryProvider)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.Worker.JobMaxAttempts)
	assert.Equal(t, 2.0, cfg.Worker.RetryBackoffFactor)
	assert.Equal(t, 30*time.Second, cfg.Worker.RetryMaxDelay)
	assert.Equal(t, "redis://localhost:6379", cfg.Queue.RedisURL)
	assert.Equal(t, "local", cfg.Blob.Backend)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestFromEnvOverrides(t *testing.T) {
	clearDocengineEnv(t)

	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MAX_UPLOAD_BYTES", "2048")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("VISION_SECONDARY_PROVIDER", "anthropic")
	t.Setenv("RETRY_BACKOFF_FACTOR", "1.5")
	t.Setenv("LOG_COMPRESS", "false")

	cfg := FromEnv()
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, int64(2048), cfg.Document.MaxUploadBytes)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, "anthropic", cfg.Vision.SecondaryProvider)
	assert.Equal(t, 1.5, cfg.Worker.RetryBackoffFactor)
	assert.False(t, cfg.Logging.Compress)
}

func TestFromEnvMalformedOverrideFallsBackToDefault(t *testing.T) {
	clearDocengineEnv(t)
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, 2, cfg.Worker.Concurrency)
}

func TestParseBoolAcceptsCommonSpellings(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "on"} {
		assert.True(t, parseBool(v), "expected %q to parse true", v)
	}
	for _, v := range []string{"0", "false", "no", "", "off"} {
		assert.False(t, parseBool(v), "expected %q to parse false", v)
	}
}

// clearDocengineEnv unsets every environment variable FromEnv reads so
// tests are independent of the process's ambient environment and of each
// other's t.Setenv calls.
func clearDocengineEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"LOG_LEVEL", "LOG_PRETTY", "LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS",
		"LOG_MAX_AGE_DAYS", "LOG_COMPRESS", "SEND_LOGS_TO_AXIOM", "AXIOM_API_KEY",
		"AXIOM_ORG_ID", "AXIOM_DATASET", "AXIOM_FLUSH_INTERVAL", "MAX_UPLOAD_BYTES",
		"MAX_PAGES_PER_DOCUMENT", "VISION_MODEL_NAME", "VISION_API_KEY", "VISION_BASE_URL",
		"VISION_SECONDARY_MODEL", "VISION_SECONDARY_PROVIDER", "VISION_SECONDARY_API_KEY",
		"VISION_SECONDARY_BASE_URL", "VISION_REQUEST_TIMEOUT", "WORKER_CONCURRENCY",
		"PROCESSING_TIMEOUT_SECONDS", "HEARTBEAT_TIMEOUT", "HEARTBEAT_INTERVAL",
		"JOB_MAX_ATTEMPTS", "PER_PAGE_MAX_RETRIES", "RETRY_BASE_DELAY",
		"RETRY_BACKOFF_FACTOR", "RETRY_MAX_DELAY", "PER_PAGE_CALL_TIMEOUT",
		"RATE_LIMIT_PER_MINUTE", "MAX_INFLIGHT_PER_MODEL", "BREAKER_BASE_BACKOFF",
		"BREAKER_MAX_BACKOFF", "REDIS_URL", "QUEUE_STREAM", "QUEUE_GROUP",
		"QUEUE_DELAYED_KEY", "QUEUE_DLQ_STREAM", "QUEUE_CANCEL_KEY", "QUEUE_IDEM_DONE_KEY",
		"QUEUE_POLL_INTERVAL", "IMAGE_DPI", "IMAGE_COLOR", "IMAGE_JPEG_QUALITY",
		"IMAGE_MAX_DIMENSION", "BLOB_BACKEND", "BLOB_LOCAL_DIR", "BLOB_S3_BUCKET",
		"SQLITE_PATH", "HTTP_ADDR", "METRICS_ADDR", "ENVIRONMENT",
	}
	for _, v := range vars {
		_ = os.Unsetenv(v)
		t.Cleanup(func(v string) func() { return func() { _ = os.Unsetenv(v) } }(v))
	}
}
