// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DatabaseURL selects the storage backend: postgres:// for Postgres,
	// sqlite:// or a file path for SQLite, empty for in-memory.
	DatabaseURL string

	// Device settings.
	DeviceAddress string // Optional pre-registration; the firmware normally checks in.
	DeviceTimeout time.Duration
	DispatchWait  time.Duration // How long a submission waits for the dispatch lock.

	// Scheduler settings.
	SettleDelay         time.Duration
	NoopSettleDelay     time.Duration
	StatusPollInterval  time.Duration
	CheckpointInterval  time.Duration
	GridRows            int
	GridColumns         int
	SnapshotInterval    time.Duration
	ObserverBuffer      int
	WSOriginPatterns    []string
	MaxRequestBodyBytes int64

	// Rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed value is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	str := envStr
	integer := func(key string, def int) int {
		v, err := envInt(key, def)
		collect(err)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		collect(err)
		return v
	}
	boolean := func(key string, def bool) bool {
		v, err := envBool(key, def)
		collect(err)
		return v
	}
	float := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		collect(err)
		return v
	}

	cfg := Config{
		Port:                integer("WARECELL_PORT", 8080),
		ReadTimeout:         dur("WARECELL_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        dur("WARECELL_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         str("DATABASE_URL", ""),
		DeviceAddress:       str("WARECELL_DEVICE_ADDRESS", ""),
		DeviceTimeout:       dur("WARECELL_DEVICE_TIMEOUT", 10*time.Second),
		DispatchWait:        dur("WARECELL_DISPATCH_WAIT", 2*time.Second),
		SettleDelay:         dur("WARECELL_SETTLE_DELAY", 2*time.Second),
		NoopSettleDelay:     dur("WARECELL_NOOP_SETTLE_DELAY", time.Second),
		StatusPollInterval:  dur("WARECELL_STATUS_POLL_INTERVAL", 5*time.Second),
		CheckpointInterval:  dur("WARECELL_CHECKPOINT_INTERVAL", 10*time.Second),
		GridRows:            integer("WARECELL_GRID_ROWS", 3),
		GridColumns:         integer("WARECELL_GRID_COLUMNS", 4),
		SnapshotInterval:    dur("WARECELL_SNAPSHOT_INTERVAL", 3*time.Second),
		ObserverBuffer:      integer("WARECELL_OBSERVER_BUFFER", 256),
		WSOriginPatterns:    envList("WARECELL_WS_ORIGINS"),
		MaxRequestBodyBytes: int64(integer("WARECELL_MAX_REQUEST_BODY_BYTES", 64*1024)),
		RateLimitEnabled:    boolean("WARECELL_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:        float("WARECELL_RATE_LIMIT_RPS", 20),
		RateLimitBurst:      integer("WARECELL_RATE_LIMIT_BURST", 40),
		OTELEndpoint:        str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         str("OTEL_SERVICE_NAME", "warecell"),
		OTELInsecure:        boolean("WARECELL_OTEL_INSECURE", false),
		LogLevel:            str("WARECELL_LOG_LEVEL", "info"),
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that values are usable together.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("WARECELL_PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.GridRows <= 0 || c.GridColumns <= 0 {
		errs = append(errs, fmt.Errorf("grid must have positive dimensions, got %dx%d", c.GridRows, c.GridColumns))
	}
	if c.DeviceTimeout <= 0 {
		errs = append(errs, errors.New("WARECELL_DEVICE_TIMEOUT must be positive"))
	}
	if c.DispatchWait < 0 {
		errs = append(errs, errors.New("WARECELL_DISPATCH_WAIT must not be negative"))
	}
	if c.SettleDelay < 0 || c.NoopSettleDelay < 0 {
		errs = append(errs, errors.New("settle delays must not be negative"))
	}
	if c.SnapshotInterval <= 0 {
		errs = append(errs, errors.New("WARECELL_SNAPSHOT_INTERVAL must be positive"))
	}
	if c.ObserverBuffer <= 0 {
		errs = append(errs, errors.New("WARECELL_OBSERVER_BUFFER must be positive"))
	}
	if c.MaxRequestBodyBytes <= 0 {
		errs = append(errs, errors.New("WARECELL_MAX_REQUEST_BODY_BYTES must be positive"))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, errors.New("WARECELL_RATE_LIMIT_RPS and WARECELL_RATE_LIMIT_BURST must be positive when rate limiting is enabled"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("WARECELL_LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

// envList splits a comma-separated value, dropping blanks.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
