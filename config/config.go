package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Pool      PoolConfig
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	RateLimit RateLimitConfig
	APILimit  APILimitConfig
	Auth      AuthConfig
	Cache     CacheConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Chromium instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// DefaultProxy is the default proxy URL for all navigations.
	DefaultProxy string
}

// PoolConfig controls the browser session pool.
type PoolConfig struct {
	// Capacity is the maximum number of concurrently live sessions.
	Capacity int // default: 8

	// AcquireTimeout bounds how long an acquisition waits for an idle
	// session before failing with POOL_EXHAUSTED.
	AcquireTimeout time.Duration // default: 15s

	// MaxSessionUses retires a session after this many handled tasks,
	// bounding long-run browser memory growth.
	MaxSessionUses int // default: 50

	// MaxSessionAge retires a session once it is this old.
	MaxSessionAge time.Duration // default: 50m

	// ShutdownGrace is how long Shutdown waits for busy sessions to drain
	// before force-terminating them.
	ShutdownGrace time.Duration // default: 10s
}

// SchedulerConfig controls the task scheduler.
type SchedulerConfig struct {
	// QueueCapacity is the intake queue size; submissions past it fail
	// fast with QUEUE_SATURATED.
	QueueCapacity int // default: 64

	// Workers is the number of task executors.
	Workers int // default: 8

	// BackoffBase is the base retry delay (doubled per attempt).
	BackoffBase time.Duration // default: 500ms

	// BackoffCap caps the retry delay.
	BackoffCap time.Duration // default: 10s

	// MaxRetriesCap is the largest max_retries a request may ask for.
	MaxRetriesCap int // default: 5
}

// ScraperConfig controls navigation behavior.
type ScraperConfig struct {
	// MaxNavigationTimeout caps the per-request navigation timeout.
	MaxNavigationTimeout time.Duration // default: 60s

	// MaxWaitTimeout caps the per-request wait-condition timeout.
	MaxWaitTimeout time.Duration // default: 30s

	// ExtractionBudget is the fixed extraction-phase allowance added to
	// each task's deadline.
	ExtractionBudget time.Duration // default: 5s

	// BlockedResourceTypes lists resource types never fetched during
	// navigation. default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string
}

// RateLimitConfig controls per-target-domain admission.
type RateLimitConfig struct {
	// PerDomainRate is the sustained requests/second per target domain.
	PerDomainRate float64 // default: 1

	// PerDomainBurst is the bucket size per target domain.
	PerDomainBurst int // default: 3

	// GlobalRate bounds aggregate throughput across all domains.
	GlobalRate float64 // default: 20

	// GlobalBurst is the global bucket size.
	GlobalBurst int // default: 40
}

// APILimitConfig controls per-client limiting at the HTTP boundary.
// This is separate from RateLimitConfig, which gates outbound navigations.
type APILimitConfig struct {
	RequestsPerSecond float64 // default: 5
	Burst             int     // default: 10
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// APIKeys is the list of valid API keys. Empty means open access.
	APIKeys []string
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached results.
	MaxEntries int // default: 1000
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("SNARE_HOST", "0.0.0.0"),
			Port: envIntOr("SNARE_PORT", 8080),
			Mode: envOr("SNARE_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("SNARE_HEADLESS", true),
			NoSandbox:    envBoolOr("SNARE_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("SNARE_BROWSER_BIN"),
			DefaultProxy: os.Getenv("SNARE_PROXY"),
		},
		Pool: PoolConfig{
			Capacity:       envIntOr("SNARE_POOL_CAPACITY", 8),
			AcquireTimeout: envDurationOr("SNARE_POOL_ACQUIRE_TIMEOUT", 15*time.Second),
			MaxSessionUses: envIntOr("SNARE_SESSION_MAX_USES", 50),
			MaxSessionAge:  envDurationOr("SNARE_SESSION_MAX_AGE", 50*time.Minute),
			ShutdownGrace:  envDurationOr("SNARE_POOL_SHUTDOWN_GRACE", 10*time.Second),
		},
		Scheduler: SchedulerConfig{
			QueueCapacity: envIntOr("SNARE_QUEUE_CAPACITY", 64),
			Workers:       envIntOr("SNARE_WORKERS", 8),
			BackoffBase:   envDurationOr("SNARE_BACKOFF_BASE", 500*time.Millisecond),
			BackoffCap:    envDurationOr("SNARE_BACKOFF_CAP", 10*time.Second),
			MaxRetriesCap: envIntOr("SNARE_MAX_RETRIES_CAP", 5),
		},
		Scraper: ScraperConfig{
			MaxNavigationTimeout: envDurationOr("SNARE_MAX_NAV_TIMEOUT", 60*time.Second),
			MaxWaitTimeout:       envDurationOr("SNARE_MAX_WAIT_TIMEOUT", 30*time.Second),
			ExtractionBudget:     envDurationOr("SNARE_EXTRACTION_BUDGET", 5*time.Second),
			BlockedResourceTypes: envSliceOr("SNARE_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		RateLimit: RateLimitConfig{
			PerDomainRate:  envFloatOr("SNARE_DOMAIN_RATE", 1.0),
			PerDomainBurst: envIntOr("SNARE_DOMAIN_BURST", 3),
			GlobalRate:     envFloatOr("SNARE_GLOBAL_RATE", 20.0),
			GlobalBurst:    envIntOr("SNARE_GLOBAL_BURST", 40),
		},
		APILimit: APILimitConfig{
			RequestsPerSecond: envFloatOr("SNARE_API_RATE_RPS", 5.0),
			Burst:             envIntOr("SNARE_API_RATE_BURST", 10),
		},
		Auth: AuthConfig{
			APIKeys: envSliceOr("SNARE_API_KEYS", nil),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("SNARE_CACHE_MAX_ENTRIES", 1000),
		},
		Log: LogConfig{
			Level:  envOr("SNARE_LOG_LEVEL", "info"),
			Format: envOr("SNARE_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
