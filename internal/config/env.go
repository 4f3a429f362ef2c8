// Package config loads typed configuration from the environment, following
// the source's single FromEnv() constructor pattern: one flat call builds a
// tree of typed sub-structs with documented defaults, rather than scattering
// os.Getenv calls through the tree.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds optional remote log forwarding configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// DocumentConfig holds §6's upload and page ceilings.
type DocumentConfig struct {
	MaxUploadBytes      int64
	MaxPagesPerDocument int
}

// VisionConfig holds VisionExtractor credentials and model selection, plus
// the secondary-provider failover chain the source's dispatcher builds.
type VisionConfig struct {
	ModelName         string
	APIKey            string
	BaseURL           string
	SecondaryModel    string
	SecondaryProvider string
	SecondaryAPIKey   string
	SecondaryBaseURL  string
	RequestTimeout    time.Duration
}

// WorkerConfig defines WorkerPool behavior and limits.
type WorkerConfig struct {
	Concurrency         int
	ProcessingTimeout   time.Duration // document-level wall clock, §5
	HeartbeatTimeout    time.Duration // janitor staleness threshold, §4.2
	HeartbeatInterval   time.Duration // lease-extension cadence, §4.4(c)
	JobMaxAttempts      int
	PerPageMaxRetries   int
	RetryBaseDelay      time.Duration
	RetryBackoffFactor  float64
	RetryMaxDelay       time.Duration
	PerPageCallTimeout  time.Duration
	RateLimitPerMinute  int
	MaxInflightPerModel int
	BreakerBaseBackoff  time.Duration
	BreakerMaxBackoff   time.Duration
}

// QueueConfig defines JobQueue connectivity and stream/group names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	DelayedKey   string
	DLQStream    string
	CancelKey    string
	IdemDoneKey  string
	PollInterval time.Duration
}

// ImageConfig controls Rasterizer/ImagePreprocessor output.
type ImageConfig struct {
	DPI           int
	Color         string // "rgb" or "gray"
	JPEGQuality   int
	MaxDimension  int // ImagePreprocessor downscale ceiling, §4.4 stage 3
}

// BlobConfig selects and configures the BlobStore backend.
type BlobConfig struct {
	Backend   string // "local" | "s3"
	LocalDir  string
	S3Bucket  string
}

// StoreConfig configures the MetadataStore.
type StoreConfig struct {
	SQLitePath string
}

// Config is the top-level configuration tree.
type Config struct {
	Logging  LoggingConfig
	Axiom    AxiomConfig
	Document DocumentConfig
	Vision   VisionConfig
	Worker   WorkerConfig
	Queue    QueueConfig
	Image    ImageConfig
	Blob     BlobConfig
	Store    StoreConfig
	HTTPAddr string
	MetricsAddr string
}

// FromEnv loads configuration from the environment with the defaults named
// in spec.md §6, plus the ambient/domain stack's own settings.
func FromEnv() Config {
	var cfg Config

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/docengine.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       getEnv("AXIOM_DATASET", "dev") + "_docengine",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Document = DocumentConfig{
		MaxUploadBytes:      int64(parseInt(getEnv("MAX_UPLOAD_BYTES", "104857600"), 104857600)),
		MaxPagesPerDocument: parseInt(getEnv("MAX_PAGES_PER_DOCUMENT", "100"), 100),
	}

	cfg.Vision = VisionConfig{
		ModelName:         getEnv("VISION_MODEL_NAME", "gpt-4o"),
		APIKey:            getEnv("VISION_API_KEY", ""),
		BaseURL:           getEnv("VISION_BASE_URL", "https://api.openai.com/v1"),
		SecondaryModel:    getEnv("VISION_SECONDARY_MODEL", "gpt-4o-mini"),
		SecondaryProvider: getEnv("VISION_SECONDARY_PROVIDER", ""),
		SecondaryAPIKey:   getEnv("VISION_SECONDARY_API_KEY", ""),
		SecondaryBaseURL:  getEnv("VISION_SECONDARY_BASE_URL", ""),
		RequestTimeout:    parseDuration(getEnv("VISION_REQUEST_TIMEOUT", "120s"), 120*time.Second),
	}

	cfg.Worker = WorkerConfig{
		Concurrency:         parseInt(getEnv("WORKER_CONCURRENCY", "2"), 2),
		ProcessingTimeout:   time.Duration(parseInt(getEnv("PROCESSING_TIMEOUT_SECONDS", "3600"), 3600)) * time.Second,
		HeartbeatTimeout:    parseDuration(getEnv("HEARTBEAT_TIMEOUT", "60s"), 60*time.Second),
		HeartbeatInterval:   parseDuration(getEnv("HEARTBEAT_INTERVAL", "20s"), 20*time.Second),
		JobMaxAttempts:      parseInt(getEnv("JOB_MAX_ATTEMPTS", "3"), 3),
		PerPageMaxRetries:   parseInt(getEnv("PER_PAGE_MAX_RETRIES", "2"), 2),
		RetryBaseDelay:      parseDuration(getEnv("RETRY_BASE_DELAY", "1s"), 1*time.Second),
		RetryBackoffFactor:  parseFloat(getEnv("RETRY_BACKOFF_FACTOR", "2.0"), 2.0),
		RetryMaxDelay:       parseDuration(getEnv("RETRY_MAX_DELAY", "30s"), 30*time.Second),
		PerPageCallTimeout:  parseDuration(getEnv("PER_PAGE_CALL_TIMEOUT", "120s"), 120*time.Second),
		RateLimitPerMinute:  parseInt(getEnv("RATE_LIMIT_PER_MINUTE", "20"), 20),
		MaxInflightPerModel: parseInt(getEnv("MAX_INFLIGHT_PER_MODEL", "2"), 2),
		BreakerBaseBackoff:  parseDuration(getEnv("BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMaxBackoff:   parseDuration(getEnv("BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("QUEUE_STREAM", "jobs:documents"),
		Group:        getEnv("QUEUE_GROUP", "workers:documents"),
		DelayedKey:   getEnv("QUEUE_DELAYED_KEY", "jobs:documents:delayed"),
		DLQStream:    getEnv("QUEUE_DLQ_STREAM", "jobs:documents:dlq"),
		CancelKey:    getEnv("QUEUE_CANCEL_KEY", "jobs:documents:cancelled"),
		IdemDoneKey:  getEnv("QUEUE_IDEM_DONE_KEY", "jobs:documents:idem"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "250ms"), 250*time.Millisecond),
	}

	cfg.Image = ImageConfig{
		DPI:          parseInt(getEnv("IMAGE_DPI", "150"), 150),
		Color:        getEnv("IMAGE_COLOR", "rgb"),
		JPEGQuality:  parseInt(getEnv("IMAGE_JPEG_QUALITY", "85"), 85),
		MaxDimension: parseInt(getEnv("IMAGE_MAX_DIMENSION", "2048"), 2048),
	}

	cfg.Blob = BlobConfig{
		Backend:  getEnv("BLOB_BACKEND", "local"),
		LocalDir: getEnv("BLOB_LOCAL_DIR", "data/blobs"),
		S3Bucket: getEnv("BLOB_S3_BUCKET", ""),
	}

	cfg.Store = StoreConfig{
		SQLitePath: getEnv("SQLITE_PATH", "data/docengine.db"),
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
