package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
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

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// RenderConfig selects the rasterization engine and interactive defaults.
type RenderConfig struct {
	Engine         string // "auto"|"fitz"|"mutool"
	MutoolPath     string
	Timeout        time.Duration
	ViewportWidth  float64
	ViewportHeight float64
	TempMaxAge     time.Duration
	SessionIdleTTL time.Duration
}

// PrintConfig describes the A4 sheet and the default grid density.
type PrintConfig struct {
	DPI            float64
	MarginMM       float64
	GapMM          float64
	CellPaddingMM  float64
	DefaultDensity int
}

// QueueConfig defines batch queue connectivity and names.
type QueueConfig struct {
	RedisURL     string
	Stream       string
	Group        string
	PollInterval time.Duration
}

// StorageConfig points remote source references at S3. SourceDir and
// SourceHosts opt filesystem and http(s) refs in; both are off when empty.
type StorageConfig struct {
	S3Bucket        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SourceDir       string
	SourceHosts     []string
}

// HTTPConfig holds server settings.
type HTTPConfig struct {
	Port        string
	MaxUploadMB int
	Passcode    string
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Render  RenderConfig
	Print   PrintConfig
	Queue   QueueConfig
	Storage StorageConfig
	HTTP    HTTPConfig
}

// FromEnv loads configuration from environment (and .env when present) with sensible defaults.
func FromEnv() Config {
	_ = godotenv.Load()

	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/receiptprint.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_receiptprint",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Render = RenderConfig{
		Engine:         strings.ToLower(getEnv("RENDER_ENGINE", "auto")),
		MutoolPath:     getEnv("MUTOOL_PATH", ""),
		Timeout:        parseDuration(getEnv("RENDER_TIMEOUT", "30s"), 30*time.Second),
		ViewportWidth:  parseFloat(getEnv("VIEWPORT_WIDTH", "864"), 864),
		ViewportHeight: parseFloat(getEnv("VIEWPORT_HEIGHT", "600"), 600),
		TempMaxAge:     parseDuration(getEnv("TEMP_MAX_AGE", "1h"), time.Hour),
		SessionIdleTTL: parseDuration(getEnv("SESSION_IDLE_TTL", "30m"), 30*time.Minute),
	}

	cfg.Print = PrintConfig{
		DPI:            parseFloat(getEnv("PRINT_DPI", "150"), 150),
		MarginMM:       parseFloat(getEnv("PRINT_MARGIN_MM", "8"), 8),
		GapMM:          parseFloat(getEnv("PRINT_GAP_MM", "3"), 3),
		CellPaddingMM:  parseFloat(getEnv("PRINT_CELL_PADDING_MM", "3"), 3),
		DefaultDensity: parseInt(getEnv("DEFAULT_DENSITY", "4"), 4),
	}

	cfg.Queue = QueueConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Stream:       getEnv("BATCH_STREAM", "jobs:crop:batch"),
		Group:        getEnv("BATCH_GROUP", "workers:crop"),
		PollInterval: parseDuration(getEnv("QUEUE_POLL_INTERVAL", "250ms"), 250*time.Millisecond),
	}

	cfg.Storage = StorageConfig{
		S3Bucket:        getEnv("AWS_S3_BUCKET", ""),
		Region:          getEnv("AWS_REGION", ""),
		AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		SourceDir:       getEnv("SOURCE_DIR", ""),
		SourceHosts:     parseList(getEnv("SOURCE_HTTP_HOSTS", "")),
	}

	cfg.HTTP = HTTPConfig{
		Port:        getEnv("PORT", "8080"),
		MaxUploadMB: parseInt(getEnv("MAX_UPLOAD_MB", "64"), 64),
		Passcode:    getEnv("APP_PASSCODE", ""),
	}

	return cfg
}

// Helpers
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

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
