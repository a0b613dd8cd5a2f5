// Package config resolves all timeouts, TTLs, and retry parameters for the
// dispatch service from the environment, one viper-backed struct per
// concern.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Env keys, matching the documented environment variable names 1:1.
const (
	KeyPort          = "PORT"
	KeyRedisURL      = "REDIS_URL"
	KeyWorkerBaseURLs = "WORKER_BASE_URLS"

	KeyJobResultsTTLSec = "JOB_RESULTS_TTL_SEC"
	KeyCacheTTLSec      = "CACHE_TTL_SEC"

	KeyWorkerHealthMs  = "WORKER_HEALTH"
	KeyWorkerSearchMs  = "WORKER_SEARCH"
	KeyWorkerWarmupMs  = "WORKER_WARMUP"
	KeyWorkerRestartMs = "WORKER_RESTART"
	KeyWorkerRefreshMs = "WORKER_REFRESH"

	KeyBullSearchMs = "BULL_SEARCH"
	KeyBullBulkMs   = "BULL_BULK"

	KeyMaxAttempts       = "MAX_ATTEMPTS"
	KeyInitialDelayMs    = "INITIAL_DELAY"
	KeyMaxDelayMs        = "MAX_DELAY"
	KeyWaitForWorkerMaxMs = "WAIT_FOR_WORKER_MAX"
	KeyHealthCheckIntervalMs = "HEALTH_CHECK_INTERVAL"
)

func init() {
	viper.SetDefault(KeyPort, 4001)
	viper.SetDefault(KeyJobResultsTTLSec, 86400)
	viper.SetDefault(KeyCacheTTLSec, 604800)

	viper.SetDefault(KeyWorkerHealthMs, 7000)
	viper.SetDefault(KeyWorkerSearchMs, 30000)
	viper.SetDefault(KeyWorkerWarmupMs, 20000)
	viper.SetDefault(KeyWorkerRestartMs, 15000)
	viper.SetDefault(KeyWorkerRefreshMs, 15000)

	viper.SetDefault(KeyBullSearchMs, 60000)
	viper.SetDefault(KeyBullBulkMs, 3600000)

	viper.SetDefault(KeyMaxAttempts, 3)
	viper.SetDefault(KeyInitialDelayMs, 1000)
	viper.SetDefault(KeyMaxDelayMs, 30000)
	viper.SetDefault(KeyWaitForWorkerMaxMs, 300000)
	viper.SetDefault(KeyHealthCheckIntervalMs, 5000)

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
}

// Config holds the fully resolved runtime configuration.
type Config struct {
	Port int

	RedisURL       string
	WorkerBaseURLs []string

	JobResultsTTL time.Duration
	CacheTTL      time.Duration

	WorkerHealth  time.Duration
	WorkerSearch  time.Duration
	WorkerWarmup  time.Duration
	WorkerRestart time.Duration
	WorkerRefresh time.Duration

	BullSearch time.Duration
	BullBulk   time.Duration

	MaxAttempts        int
	InitialDelay       time.Duration
	MaxDelay           time.Duration
	WaitForWorkerMax   time.Duration
	HealthCheckInterval time.Duration

	// RetryDelay is the dispatcher's fixed inter-attempt sleep when no
	// worker is free (§4.C.2.b); not independently overridable, so it
	// stays a constant.
	RetryDelay time.Duration

	// StalledInterval / MaxStalledCount govern reservation-stall
	// detection (§4.D). Not exposed as env vars; fixed defaults match
	// the documented values (30s / 10).
	StalledInterval time.Duration
	MaxStalledCount int
}

// DefaultRetryDelay is the dispatcher's fixed re-probe sleep (§4.C step 2b).
const DefaultRetryDelay = 2 * time.Second

// DefaultStalledInterval and DefaultMaxStalledCount implement §4.D stall detection.
const (
	DefaultStalledInterval = 30 * time.Second
	DefaultMaxStalledCount = 10
)

// Load resolves Config from the environment (via viper). It returns an
// error rather than exiting so callers (tests, cmd/) decide how to fail.
func Load() (*Config, error) {
	redisURL := viper.GetString(KeyRedisURL)
	if redisURL == "" {
		return nil, fmt.Errorf("config: %s is required", KeyRedisURL)
	}
	rawBases := viper.GetString(KeyWorkerBaseURLs)
	bases, err := parseWorkerBaseURLs(rawBases)
	if err != nil {
		return nil, err
	}
	return &Config{
		Port:           viper.GetInt(KeyPort),
		RedisURL:       redisURL,
		WorkerBaseURLs: bases,

		JobResultsTTL: time.Duration(viper.GetInt64(KeyJobResultsTTLSec)) * time.Second,
		CacheTTL:      time.Duration(viper.GetInt64(KeyCacheTTLSec)) * time.Second,

		WorkerHealth:  time.Duration(viper.GetInt64(KeyWorkerHealthMs)) * time.Millisecond,
		WorkerSearch:  time.Duration(viper.GetInt64(KeyWorkerSearchMs)) * time.Millisecond,
		WorkerWarmup:  time.Duration(viper.GetInt64(KeyWorkerWarmupMs)) * time.Millisecond,
		WorkerRestart: time.Duration(viper.GetInt64(KeyWorkerRestartMs)) * time.Millisecond,
		WorkerRefresh: time.Duration(viper.GetInt64(KeyWorkerRefreshMs)) * time.Millisecond,

		BullSearch: time.Duration(viper.GetInt64(KeyBullSearchMs)) * time.Millisecond,
		BullBulk:   time.Duration(viper.GetInt64(KeyBullBulkMs)) * time.Millisecond,

		MaxAttempts:         viper.GetInt(KeyMaxAttempts),
		InitialDelay:        time.Duration(viper.GetInt64(KeyInitialDelayMs)) * time.Millisecond,
		MaxDelay:            time.Duration(viper.GetInt64(KeyMaxDelayMs)) * time.Millisecond,
		WaitForWorkerMax:    time.Duration(viper.GetInt64(KeyWaitForWorkerMaxMs)) * time.Millisecond,
		HealthCheckInterval: time.Duration(viper.GetInt64(KeyHealthCheckIntervalMs)) * time.Millisecond,

		RetryDelay:      DefaultRetryDelay,
		StalledInterval: DefaultStalledInterval,
		MaxStalledCount: DefaultMaxStalledCount,
	}, nil
}

func parseWorkerBaseURLs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("config: %s is required", KeyWorkerBaseURLs)
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, strings.TrimSuffix(p, "/"))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: %s must contain at least one URL", KeyWorkerBaseURLs)
	}
	return out, nil
}
