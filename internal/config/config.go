// Package config reads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Telegram settings
	TelegramToken  string
	TelegramChatID string

	// Ledger settings
	LedgerBackend   string // file | postgres
	LedgerFilePath  string
	DatabaseURL     string
	LedgerRetention time.Duration

	// Embedding settings
	EmbeddingProvider    string // gemini | openai | ollama
	EmbeddingModel       string
	GeminiAPIKey         string
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OllamaHost           string
	EmbeddingTimeout     time.Duration
	MaxEmbeddingRequests int // per run, 0 = unlimited
	SimilarityThreshold  float64

	// RSS settings
	FeedsConfigPath string

	// Scraper settings
	ScrapeConcurrency int
	RequestTimeout    time.Duration

	// Schedule settings
	ScheduleTimes []string // HH:MM, daily
	Timezone      string

	// App settings
	Debug                bool
	RetryAttempts        int
	RetryDelay           time.Duration
	ResultsDir           string // empty disables the batch archive
	EnableHTTPMonitoring bool
	MonitoringPort       string
}

// LoadDotEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Parse builds a Config from the environment, applying defaults.
func Parse() *Config {
	cfg := &Config{
		LedgerBackend:        "file",
		LedgerFilePath:       "sent_news.json",
		LedgerRetention:      24 * time.Hour,
		EmbeddingProvider:    "gemini",
		EmbeddingTimeout:     2 * time.Minute,
		MaxEmbeddingRequests: 200,
		SimilarityThreshold:  0.85,
		FeedsConfigPath:      "configs/feeds.yaml",
		ScrapeConcurrency:    8,
		RequestTimeout:       30 * time.Second,
		ScheduleTimes:        []string{"09:00", "18:00"},
		Timezone:             "Local",
		RetryAttempts:        3,
		RetryDelay:           5 * time.Second,
		ResultsDir:           "results",
		MonitoringPort:       "8080",
	}

	// Load from environment
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.OllamaHost = os.Getenv("OLLAMA_HOST")
	cfg.EmbeddingModel = os.Getenv("EMBEDDING_MODEL")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.LedgerBackend = strings.ToLower(getEnvOrDefault("LEDGER_BACKEND", cfg.LedgerBackend))
	cfg.LedgerFilePath = getEnvOrDefault("LEDGER_FILE_PATH", cfg.LedgerFilePath)
	if hours := getEnvIntOrDefault("LEDGER_RETENTION_HOURS", 0); hours > 0 {
		cfg.LedgerRetention = time.Duration(hours) * time.Hour
	}

	cfg.EmbeddingProvider = strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", cfg.EmbeddingProvider))
	cfg.EmbeddingTimeout = getEnvDurationOrDefault("EMBEDDING_TIMEOUT", cfg.EmbeddingTimeout)
	if v := os.Getenv("MAX_EMBEDDING_REQUESTS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val >= 0 {
			cfg.MaxEmbeddingRequests = val
		}
	}
	if v := os.Getenv("SIMILARITY_THRESHOLD"); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SimilarityThreshold = val
		}
	}

	cfg.FeedsConfigPath = getEnvOrDefault("FEEDS_CONFIG_PATH", cfg.FeedsConfigPath)

	if v := os.Getenv("SCRAPE_CONCURRENCY"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			cfg.ScrapeConcurrency = val
		}
	}
	cfg.RequestTimeout = getEnvDurationOrDefault("REQUEST_TIMEOUT", cfg.RequestTimeout)

	if v := os.Getenv("SCHEDULE_TIMES"); v != "" {
		cfg.ScheduleTimes = splitList(v)
	}
	cfg.Timezone = getEnvOrDefault("TIMEZONE", cfg.Timezone)

	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
	}
	if v := os.Getenv("RETRY_ATTEMPTS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			cfg.RetryAttempts = val
		}
	}
	cfg.RetryDelay = getEnvDurationOrDefault("RETRY_DELAY", cfg.RetryDelay)

	if v, ok := os.LookupEnv("RESULTS_DIR"); ok {
		cfg.ResultsDir = strings.TrimSpace(v)
	}
	cfg.EnableHTTPMonitoring = os.Getenv("ENABLE_HTTP_MONITORING") == "true"
	cfg.MonitoringPort = getEnvOrDefault("MONITORING_PORT", cfg.MonitoringPort)

	return cfg
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := Parse()
	return cfg, cfg.Validate()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault accepts Go durations ("90s") or plain seconds ("90").
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ValidateLedger checks only what is needed to open the delivery ledger.
func (c *Config) ValidateLedger() error {
	switch c.LedgerBackend {
	case "file":
		if c.LedgerFilePath == "" {
			return fmt.Errorf("LEDGER_FILE_PATH is required for the file ledger")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres ledger")
		}
	default:
		return fmt.Errorf("LEDGER_BACKEND must be 'file' or 'postgres'")
	}
	return nil
}

func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if c.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required")
	}
	if err := c.ValidateLedger(); err != nil {
		return err
	}

	switch c.EmbeddingProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	case "openai":
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case "ollama":
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be 'gemini', 'openai' or 'ollama'")
	}

	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in (0, 1], got %v", c.SimilarityThreshold)
	}
	if len(c.ScheduleTimes) == 0 {
		return fmt.Errorf("SCHEDULE_TIMES needs at least one HH:MM entry")
	}
	for _, t := range c.ScheduleTimes {
		if _, err := time.Parse("15:04", t); err != nil {
			return fmt.Errorf("SCHEDULE_TIMES: invalid time %q, want HH:MM", t)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	return nil
}
