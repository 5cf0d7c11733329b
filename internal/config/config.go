/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// ChangeFeedBackend selects the transport catalog change notifications arrive on.
type ChangeFeedBackend string

const (
	FeedMemory   ChangeFeedBackend = "memory"
	FeedRedis    ChangeFeedBackend = "redis"
	FeedNATS     ChangeFeedBackend = "nats"
	FeedPostgres ChangeFeedBackend = "postgres"
)

// DeviceBackend selects the playback device driven by the orchestrator.
type DeviceBackend string

const (
	DeviceGStreamer DeviceBackend = "gstreamer"
	DeviceSimulated DeviceBackend = "simulated"
)

// Timing holds every tunable interval of the playback engine.
type Timing struct {
	MinChangeInterval time.Duration
	ErrorWindow       time.Duration
	ErrorCeiling      int
	HaltCooldown      time.Duration
	IntervalSweep     time.Duration
	ResyncInterval    time.Duration
	ResyncDebounce    time.Duration
	PreloadThrottle   time.Duration
	PreloadFailures   int
	PreloadSuspension time.Duration
	EagerPreloadDelay time.Duration
	RetryDelay        time.Duration
	MaxInvalidSkips   int
}

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	MediaRoot     string
	GStreamerBin  string
	AudioSink     string
	Device        DeviceBackend
	Autoplay      bool
	JWTSigningKey string
	MetricsBind   string

	// Channel to start automatically on boot (optional)
	DefaultChannelID string

	// Catalog change feed
	ChangeFeed      ChangeFeedBackend
	NATSURL         string
	CatalogCacheTTL time.Duration

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO
	S3PresignTTL      time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaseEnabled  bool
	LeaseTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InstanceID    string

	Timing Timing

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:      getEnvAny([]string{"AUTODJ_ENV", "GRIMNIR_ENV"}, "development"),
		HTTPBind:         getEnvAny([]string{"AUTODJ_HTTP_BIND", "GRIMNIR_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:         getEnvIntAny([]string{"AUTODJ_HTTP_PORT", "GRIMNIR_HTTP_PORT"}, 8090),
		DBBackend:        DatabaseBackend(getEnvAny([]string{"AUTODJ_DB_BACKEND", "GRIMNIR_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:            getEnvAny([]string{"AUTODJ_DB_DSN", "GRIMNIR_DB_DSN"}, "autodj.db"),
		MediaRoot:        getEnvAny([]string{"AUTODJ_MEDIA_ROOT", "GRIMNIR_MEDIA_ROOT"}, "./media"),
		GStreamerBin:     getEnvAny([]string{"AUTODJ_GSTREAMER_BIN", "GRIMNIR_GSTREAMER_BIN"}, "gst-launch-1.0"),
		AudioSink:        getEnvAny([]string{"AUTODJ_AUDIO_SINK"}, "autoaudiosink"),
		Device:           DeviceBackend(getEnvAny([]string{"AUTODJ_DEVICE"}, string(DeviceGStreamer))),
		Autoplay:         getEnvBoolAny([]string{"AUTODJ_AUTOPLAY"}, true),
		JWTSigningKey:    getEnvAny([]string{"AUTODJ_JWT_SIGNING_KEY", "GRIMNIR_JWT_SIGNING_KEY"}, ""),
		MetricsBind:      getEnvAny([]string{"AUTODJ_METRICS_BIND", "GRIMNIR_METRICS_BIND"}, "127.0.0.1:9100"),
		DefaultChannelID: getEnvAny([]string{"AUTODJ_CHANNEL_ID"}, ""),

		ChangeFeed:      ChangeFeedBackend(getEnvAny([]string{"AUTODJ_CHANGE_FEED"}, string(FeedMemory))),
		NATSURL:         getEnvAny([]string{"AUTODJ_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		CatalogCacheTTL: getEnvDurationAny([]string{"AUTODJ_CATALOG_CACHE_TTL"}, 10*time.Minute),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"AUTODJ_S3_ACCESS_KEY_ID", "GRIMNIR_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"AUTODJ_S3_SECRET_ACCESS_KEY", "GRIMNIR_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"AUTODJ_S3_REGION", "GRIMNIR_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"AUTODJ_S3_BUCKET", "GRIMNIR_S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"AUTODJ_S3_ENDPOINT", "GRIMNIR_S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"AUTODJ_S3_USE_PATH_STYLE", "GRIMNIR_S3_USE_PATH_STYLE"}, false),
		S3PresignTTL:      getEnvDurationAny([]string{"AUTODJ_S3_PRESIGN_TTL"}, time.Hour),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"AUTODJ_TRACING_ENABLED", "GRIMNIR_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"AUTODJ_OTLP_ENDPOINT", "GRIMNIR_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"AUTODJ_TRACING_SAMPLE_RATE", "GRIMNIR_TRACING_SAMPLE_RATE"}, 1.0),

		// Multi-instance configuration
		LeaseEnabled:  getEnvBoolAny([]string{"AUTODJ_LEASE_ENABLED"}, false),
		LeaseTTL:      getEnvDurationAny([]string{"AUTODJ_LEASE_TTL"}, 15*time.Second),
		RedisAddr:     getEnvAny([]string{"AUTODJ_REDIS_ADDR", "GRIMNIR_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"AUTODJ_REDIS_PASSWORD", "GRIMNIR_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"AUTODJ_REDIS_DB", "GRIMNIR_REDIS_DB"}, 0),
		InstanceID:    getEnvAny([]string{"AUTODJ_INSTANCE_ID", "GRIMNIR_INSTANCE_ID"}, ""),

		Timing: Timing{
			MinChangeInterval: getEnvDurationAny([]string{"AUTODJ_MIN_CHANGE_INTERVAL"}, 3*time.Second),
			ErrorWindow:       getEnvDurationAny([]string{"AUTODJ_ERROR_WINDOW"}, 10*time.Second),
			ErrorCeiling:      getEnvIntAny([]string{"AUTODJ_ERROR_CEILING"}, 5),
			HaltCooldown:      getEnvDurationAny([]string{"AUTODJ_HALT_COOLDOWN"}, 30*time.Second),
			IntervalSweep:     getEnvDurationAny([]string{"AUTODJ_INTERVAL_SWEEP"}, 30*time.Second),
			ResyncInterval:    getEnvDurationAny([]string{"AUTODJ_RESYNC_INTERVAL"}, 5*time.Minute),
			ResyncDebounce:    getEnvDurationAny([]string{"AUTODJ_RESYNC_DEBOUNCE"}, 500*time.Millisecond),
			PreloadThrottle:   getEnvDurationAny([]string{"AUTODJ_PRELOAD_THROTTLE"}, 3*time.Second),
			PreloadFailures:   getEnvIntAny([]string{"AUTODJ_PRELOAD_FAILURE_LIMIT"}, 3),
			PreloadSuspension: getEnvDurationAny([]string{"AUTODJ_PRELOAD_SUSPENSION"}, 60*time.Second),
			EagerPreloadDelay: getEnvDurationAny([]string{"AUTODJ_EAGER_PRELOAD_DELAY"}, 2*time.Second),
			RetryDelay:        getEnvDurationAny([]string{"AUTODJ_RETRY_DELAY"}, time.Second),
			MaxInvalidSkips:   getEnvIntAny([]string{"AUTODJ_MAX_INVALID_SKIPS"}, 8),
		},
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("AUTODJ_DB_DSN or GRIMNIR_DB_DSN must be provided")
	}

	switch cfg.ChangeFeed {
	case FeedMemory, FeedRedis, FeedNATS:
	case FeedPostgres:
		if cfg.DBBackend != DatabasePostgres {
			return nil, fmt.Errorf("change feed %q requires the postgres database backend", cfg.ChangeFeed)
		}
	default:
		return nil, fmt.Errorf("unsupported change feed %q", cfg.ChangeFeed)
	}

	if cfg.Device != DeviceGStreamer && cfg.Device != DeviceSimulated {
		return nil, fmt.Errorf("unsupported device %q", cfg.Device)
	}

	if cfg.Timing.ErrorCeiling <= 0 {
		return nil, fmt.Errorf("AUTODJ_ERROR_CEILING must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("AUTODJ_JWT_SIGNING_KEY or GRIMNIR_JWT_SIGNING_KEY must be provided in production")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"RLM_DB_DSN":          "use AUTODJ_DB_DSN (or GRIMNIR_DB_DSN)",
		"RLM_JWT_SIGNING_KEY": "use AUTODJ_JWT_SIGNING_KEY (or GRIMNIR_JWT_SIGNING_KEY)",
		"JWT_SIGNING_KEY":     "use AUTODJ_JWT_SIGNING_KEY (or GRIMNIR_JWT_SIGNING_KEY)",
		"TRACING_ENABLED":     "use AUTODJ_TRACING_ENABLED",
		"OTLP_ENDPOINT":       "use AUTODJ_OTLP_ENDPOINT",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// HTTPAddr returns the listen address for the control API.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("750ms", "2m") or a bare
// integer number of milliseconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
