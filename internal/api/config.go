package api

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/fieldsync/internal/engine"
)

// Config holds the server configuration, loaded from environment variables.
type Config struct {
	ListenAddr      string
	LedgerDBPath    string
	SourceDriver    string // "sqlite" (default) or "sqlite3"
	SourceDSN       string
	RulesFile       string // empty = built-in projection rules
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	RunTimeout      time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"
	LogFile         string // optional rotated log file, tee'd with stderr

	Retention     time.Duration // synced rows older than this are swept (default: 30 days)
	SweepInterval time.Duration
	MaxRetries    int // 0 = unlimited

	WindowPast   time.Duration
	WindowFuture time.Duration

	RunLockFile string // optional host-wide lock for bulk runs
	AdminToken  string // guards bulk endpoints when set
	RateLimit   int    // /v1/sync/* per device or IP per minute (default: 600)

	KafkaBrokers []string
	KafkaTopic   string

	WebhookURL    string // run and sweep events are POSTed here when set
	WebhookSecret string // HMAC key for the webhook signature

	CORSAllowedOrigins []string // empty = disabled
}

// DefaultConfig returns the configuration used when no variables are set.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8090",
		LedgerDBPath:    "./data/ledger.db",
		SourceDriver:    "sqlite",
		SourceDSN:       "./data/source.db",
		ShutdownTimeout: 30 * time.Second,
		RequestTimeout:  30 * time.Second,
		RunTimeout:      10 * time.Minute,
		LogFormat:       "json",
		LogLevel:        "info",

		Retention:     30 * 24 * time.Hour,
		SweepInterval: time.Hour,

		WindowPast:   7 * 24 * time.Hour,
		WindowFuture: 30 * 24 * time.Hour,

		RateLimit:  600,
		KafkaTopic: "fieldsync.runs",
	}
}

// LoadConfig reads configuration from environment variables on top of
// DefaultConfig. Malformed values are reported together.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	var errs []error

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		d := parseDaysDuration(v)
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}
	num := func(key string, dst *int, min int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < min {
			errs = append(errs, fmt.Errorf("%s: want an integer >= %d, got %q", key, min, v))
			return
		}
		*dst = n
	}

	str("SYNC_LISTEN_ADDR", &cfg.ListenAddr)
	str("SYNC_LEDGER_DB", &cfg.LedgerDBPath)
	str("SYNC_SOURCE_DRIVER", &cfg.SourceDriver)
	str("SYNC_SOURCE_DSN", &cfg.SourceDSN)
	str("SYNC_RULES_FILE", &cfg.RulesFile)
	str("SYNC_LOG_FORMAT", &cfg.LogFormat)
	str("SYNC_LOG_LEVEL", &cfg.LogLevel)
	str("SYNC_LOG_FILE", &cfg.LogFile)
	str("SYNC_RUN_LOCK_FILE", &cfg.RunLockFile)
	str("SYNC_ADMIN_TOKEN", &cfg.AdminToken)
	str("SYNC_KAFKA_TOPIC", &cfg.KafkaTopic)
	str("SYNC_WEBHOOK_URL", &cfg.WebhookURL)
	str("SYNC_WEBHOOK_SECRET", &cfg.WebhookSecret)

	dur("SYNC_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	dur("SYNC_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	dur("SYNC_RUN_TIMEOUT", &cfg.RunTimeout)
	dur("SYNC_RETENTION", &cfg.Retention)
	dur("SYNC_SWEEP_INTERVAL", &cfg.SweepInterval)
	dur("SYNC_WINDOW_PAST", &cfg.WindowPast)
	dur("SYNC_WINDOW_FUTURE", &cfg.WindowFuture)

	num("SYNC_MAX_RETRIES", &cfg.MaxRetries, 0)
	num("SYNC_RATE_LIMIT", &cfg.RateLimit, 1)

	cfg.KafkaBrokers = splitList(os.Getenv("SYNC_KAFKA_BROKERS"))
	cfg.CORSAllowedOrigins = splitList(os.Getenv("SYNC_CORS_ORIGINS"))

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}

// Validate checks values that are well-formed but unusable.
func (c Config) Validate() error {
	var errs []error
	switch c.SourceDriver {
	case "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("SYNC_SOURCE_DRIVER: unsupported driver %q", c.SourceDriver))
	}
	if c.Retention < 24*time.Hour || c.RetentionDays() > engine.MaxRetentionDays {
		errs = append(errs, fmt.Errorf("SYNC_RETENTION: must be between 1d and %dd", engine.MaxRetentionDays))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("SYNC_MAX_RETRIES: must not be negative"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("SYNC_LOG_FORMAT: want json or text, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// RetentionDays returns the retention window in whole days.
func (c Config) RetentionDays() int {
	return int(c.Retention / (24 * time.Hour))
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseDaysDuration parses a string like "90d", "30d" into a time.Duration.
// Day counts above engine.MaxRetentionDays are rejected.
// Falls back to time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		if n, err := strconv.Atoi(numStr); err == nil && n > 0 && n <= engine.MaxRetentionDays {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
