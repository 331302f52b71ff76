package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Workers           int
	QueueSize         int
	RequestsPerSecond float64
	Language          string
	PollTimeout       time.Duration

	FetchTimeout  time.Duration
	FetchAttempts int
	FetchBackoff  time.Duration
	ProxyFile     string
	UseLibrary    bool

	TranscriberBaseURL      string
	TranscriberAPIKey       string
	TranscriberModel        string
	TranscriberRetries      int
	TranscriberBackoff      time.Duration
	TranscriberPollInterval time.Duration
	TranscriberPollAttempts int

	ArchiveEndpoint  string
	ArchiveRegion    string
	ArchiveBucket    string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchivePrefix    string

	DBPath    string
	OutputDir string
	LogDir    string
	LogLevel  string
	LogFormat string
}

func LoadConfig() *Config {
	return &Config{
		Workers:           getEnvAsInt("WORKERS", 4),
		QueueSize:         getEnvAsInt("QUEUE_SIZE", 10000),
		RequestsPerSecond: getEnvAsFloat("REQUESTS_PER_SECOND", 2),
		Language:          GetEnv("LANGUAGE", "en"),
		PollTimeout:       getEnvAsDuration("POLL_TIMEOUT", 250*time.Millisecond),

		FetchTimeout:  getEnvAsDuration("FETCH_TIMEOUT", 15*time.Second),
		FetchAttempts: getEnvAsInt("FETCH_ATTEMPTS", 3),
		FetchBackoff:  getEnvAsDuration("FETCH_BACKOFF", time.Second),
		ProxyFile:     GetEnv("PROXY_FILE", ""),
		UseLibrary:    getEnvAsBool("USE_LIBRARY", true),

		TranscriberBaseURL:      GetEnv("TRANSCRIBER_BASE_URL", ""),
		TranscriberAPIKey:       GetEnv("TRANSCRIBER_API_KEY", ""),
		TranscriberModel:        GetEnv("TRANSCRIBER_MODEL", ""),
		TranscriberRetries:      getEnvAsInt("TRANSCRIBER_RETRIES", 3),
		TranscriberBackoff:      getEnvAsDuration("TRANSCRIBER_BACKOFF", 10*time.Second),
		TranscriberPollInterval: getEnvAsDuration("TRANSCRIBER_POLL_INTERVAL", 5*time.Second),
		TranscriberPollAttempts: getEnvAsInt("TRANSCRIBER_POLL_ATTEMPTS", 60),

		ArchiveEndpoint:  GetEnv("ARCHIVE_ENDPOINT", ""),
		ArchiveRegion:    GetEnv("ARCHIVE_REGION", "us-east-1"),
		ArchiveBucket:    GetEnv("ARCHIVE_BUCKET", ""),
		ArchiveAccessKey: GetEnv("ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: GetEnv("ARCHIVE_SECRET_KEY", ""),
		ArchivePrefix:    GetEnv("ARCHIVE_PREFIX", "transcripts"),

		DBPath:    GetEnv("DB_PATH", "./data/transcripts.db"),
		OutputDir: GetEnv("OUTPUT_DIR", "./transcripts"),
		LogDir:    GetEnv("LOG_DIR", "./logs"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "text"),
	}
}

// PaidEnabled reports whether the paid transcription fallback is configured.
func (c *Config) PaidEnabled() bool {
	return c.TranscriberBaseURL != "" && c.TranscriberAPIKey != ""
}

// ArchiveEnabled reports whether transcripts are copied to object storage.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveBucket != ""
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid duration, using default")
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid integer, using default")
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid number, using default")
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
		logrus.WithFields(logrus.Fields{
			"key":          key,
			"value":        value,
			"defaultValue": defaultValue,
		}).Warn("Invalid boolean, using default")
	}
	return defaultValue
}

func ValidateConfig(cfg *Config) error {
	if cfg.Workers <= 0 {
		return errors.New("workers must be greater than 0")
	}
	if cfg.Workers > 64 {
		return errors.Errorf("workers must be at most 64, got %d", cfg.Workers)
	}
	if cfg.QueueSize <= 0 {
		return errors.New("queue size must be greater than 0")
	}
	if cfg.RequestsPerSecond <= 0 {
		return errors.New("requests per second must be greater than 0")
	}
	if cfg.PollTimeout <= 0 {
		return errors.New("poll timeout must be greater than 0")
	}
	if cfg.FetchTimeout <= 0 {
		return errors.New("fetch timeout must be greater than 0")
	}
	if cfg.FetchAttempts <= 0 {
		return errors.New("fetch attempts must be greater than 0")
	}
	if cfg.FetchBackoff <= 0 {
		return errors.New("fetch backoff must be greater than 0")
	}
	if cfg.TranscriberAPIKey != "" && cfg.TranscriberBaseURL == "" {
		return errors.New("transcriber base URL is required when an API key is set")
	}
	if cfg.TranscriberRetries < 0 {
		return errors.New("transcriber retries cannot be negative")
	}
	if cfg.TranscriberBackoff <= 0 || cfg.TranscriberPollInterval <= 0 {
		return errors.New("transcriber backoff and poll interval must be greater than 0")
	}
	if cfg.TranscriberPollAttempts <= 0 {
		return errors.New("transcriber poll attempts must be greater than 0")
	}
	if cfg.ArchiveEnabled() && (cfg.ArchiveAccessKey == "" || cfg.ArchiveSecretKey == "") {
		return errors.New("archive access key and secret key are required when a bucket is set")
	}
	if cfg.DBPath == "" {
		return errors.New("database path is required")
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}
	return nil
}
