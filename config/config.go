// Package config loads the resilience layer's tuning from a JSON file:
// named breaker configs, queue configs, quota ceilings, and recovery
// strategies. Durations are strings parsed via time.ParseDuration, and the
// whole file is validated eagerly at load time.
package config

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/shieldops/shield/breaker"
	"github.com/shieldops/shield/classify"
	"github.com/shieldops/shield/dlq"
	"github.com/shieldops/shield/quota"
	"github.com/shieldops/shield/recovery"
	"github.com/shieldops/shield/retry"
)

// File is the top-level JSON structure.
type File struct {
	// Breakers holds per-dependency circuit breaker configs.
	Breakers map[string]BreakerConfig `json:"breakers,omitempty"`
	// Queues holds per-queue DLQ configs.
	Queues map[string]QueueConfig `json:"queues,omitempty"`
	// Quota holds the per-subject ceilings.
	Quota *QuotaConfig `json:"quota,omitempty"`
	// Strategies holds recovery recipes keyed by failure category name.
	Strategies map[string]StrategyConfig `json:"strategies,omitempty"`
}

// BreakerConfig holds circuit breaker values. All fields are optional;
// unset fields fall back to the breaker package defaults.
type BreakerConfig struct {
	FailureThreshold  *float64 `json:"failure_threshold,omitempty"`
	MinimumCalls      *int     `json:"minimum_calls,omitempty"`
	RecoveryTimeout   *string  `json:"recovery_timeout,omitempty"`
	MonitoringWindow  *string  `json:"monitoring_window,omitempty"`
	SuccessThreshold  *int     `json:"success_threshold,omitempty"`
	SlowCallThreshold *string  `json:"slow_call_threshold,omitempty"`
}

// QueueConfig holds DLQ values.
type QueueConfig struct {
	RetryDelay      *string  `json:"retry_delay,omitempty"`
	MaxDelay        *string  `json:"max_delay,omitempty"`
	Multiplier      *float64 `json:"multiplier,omitempty"`
	PoisonThreshold *int     `json:"poison_threshold,omitempty"`
	MaxQueueSize    *int     `json:"max_queue_size,omitempty"`
	Retention       *string  `json:"retention,omitempty"`
	ScanInterval    *string  `json:"scan_interval,omitempty"`
	CleanupInterval *string  `json:"cleanup_interval,omitempty"`
}

// QuotaConfig holds per-subject ceilings.
type QuotaConfig struct {
	HourlyLimit *int    `json:"hourly_limit,omitempty"`
	DailyLimit  *int    `json:"daily_limit,omitempty"`
	IdleTTL     *string `json:"idle_ttl,omitempty"`
}

// RetryConfig holds inline retry values.
type RetryConfig struct {
	MaxAttempts *int     `json:"max_attempts,omitempty"`
	BaseDelay   *string  `json:"base_delay,omitempty"`
	MaxDelay    *string  `json:"max_delay,omitempty"`
	Multiplier  *float64 `json:"multiplier,omitempty"`
	Jitter      *bool    `json:"jitter,omitempty"`
}

// StrategyConfig holds a recovery recipe.
type StrategyConfig struct {
	Name          string       `json:"name"`
	Deferred      bool         `json:"deferred,omitempty"`
	Breaker       string       `json:"breaker,omitempty"`
	Retry         *RetryConfig `json:"retry,omitempty"`
	AllowFallback bool         `json:"allow_fallback,omitempty"`
	CacheFallback bool         `json:"cache_fallback,omitempty"`
	EscalateToDLQ bool         `json:"escalate_to_dlq,omitempty"`
	Queue         string       `json:"queue,omitempty"`
}

// Load reads and validates a JSON configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// Validate eagerly so errors surface at load time, not first use.
	for name, bc := range f.Breakers {
		if _, err := bc.Build(); err != nil {
			return nil, fmt.Errorf("config: breaker %q: %w", name, err)
		}
	}
	for name, qc := range f.Queues {
		if _, err := qc.Build(); err != nil {
			return nil, fmt.Errorf("config: queue %q: %w", name, err)
		}
	}
	if f.Quota != nil {
		if _, err := f.Quota.Build(); err != nil {
			return nil, fmt.Errorf("config: quota: %w", err)
		}
	}
	for category, sc := range f.Strategies {
		if _, ok := classify.ParseCategory(category); !ok {
			return nil, fmt.Errorf("config: strategy %q: unknown category", category)
		}
		if _, err := sc.Build(); err != nil {
			return nil, fmt.Errorf("config: strategy %q: %w", category, err)
		}
	}

	return &f, nil
}

// Build converts the JSON form into a breaker.Config.
func (c BreakerConfig) Build() (breaker.Config, error) {
	var out breaker.Config
	if c.FailureThreshold != nil {
		out.FailureThreshold = *c.FailureThreshold
	}
	if c.MinimumCalls != nil {
		out.MinimumCalls = *c.MinimumCalls
	}
	if c.SuccessThreshold != nil {
		out.SuccessThreshold = *c.SuccessThreshold
	}
	var err error
	if out.RecoveryTimeout, err = parseDuration(c.RecoveryTimeout, "recovery_timeout"); err != nil {
		return out, err
	}
	if out.MonitoringWindow, err = parseDuration(c.MonitoringWindow, "monitoring_window"); err != nil {
		return out, err
	}
	if out.SlowCallThreshold, err = parseDuration(c.SlowCallThreshold, "slow_call_threshold"); err != nil {
		return out, err
	}
	return out, nil
}

// Build converts the JSON form into a dlq.Config.
func (c QueueConfig) Build() (dlq.Config, error) {
	var out dlq.Config
	if c.Multiplier != nil {
		out.Multiplier = *c.Multiplier
	}
	if c.PoisonThreshold != nil {
		out.PoisonThreshold = *c.PoisonThreshold
	}
	if c.MaxQueueSize != nil {
		out.MaxQueueSize = *c.MaxQueueSize
	}
	var err error
	if out.RetryDelay, err = parseDuration(c.RetryDelay, "retry_delay"); err != nil {
		return out, err
	}
	if out.MaxDelay, err = parseDuration(c.MaxDelay, "max_delay"); err != nil {
		return out, err
	}
	if out.Retention, err = parseDuration(c.Retention, "retention"); err != nil {
		return out, err
	}
	if out.ScanInterval, err = parseDuration(c.ScanInterval, "scan_interval"); err != nil {
		return out, err
	}
	if out.CleanupInterval, err = parseDuration(c.CleanupInterval, "cleanup_interval"); err != nil {
		return out, err
	}
	return out, nil
}

// Build converts the JSON form into a quota.Config.
func (c QuotaConfig) Build() (quota.Config, error) {
	var out quota.Config
	if c.HourlyLimit != nil {
		out.HourlyLimit = *c.HourlyLimit
	}
	if c.DailyLimit != nil {
		out.DailyLimit = *c.DailyLimit
	}
	var err error
	if out.IdleTTL, err = parseDuration(c.IdleTTL, "idle_ttl"); err != nil {
		return out, err
	}
	return out, nil
}

// Build converts the JSON form into a recovery.Strategy.
func (c StrategyConfig) Build() (recovery.Strategy, error) {
	out := recovery.Strategy{
		Name:          c.Name,
		Breaker:       c.Breaker,
		AllowFallback: c.AllowFallback,
		CacheFallback: c.CacheFallback,
		EscalateToDLQ: c.EscalateToDLQ,
		Queue:         c.Queue,
	}
	if c.Deferred {
		out.Mode = recovery.ModeDeferred
	}
	if c.Retry != nil {
		p, err := c.Retry.build()
		if err != nil {
			return out, err
		}
		out.Retry = p
	}
	return out, nil
}

func (c RetryConfig) build() (retry.Policy, error) {
	var out retry.Policy
	if c.MaxAttempts != nil {
		out.MaxAttempts = *c.MaxAttempts
	}
	if c.Multiplier != nil {
		out.Multiplier = *c.Multiplier
	}
	if c.Jitter != nil {
		out.Jitter = *c.Jitter
	}
	var err error
	if out.BaseDelay, err = parseDuration(c.BaseDelay, "base_delay"); err != nil {
		return out, err
	}
	if out.MaxDelay, err = parseDuration(c.MaxDelay, "max_delay"); err != nil {
		return out, err
	}
	return out, nil
}

// BuildStrategies builds the category-to-strategy map for recovery.Config.
func (f *File) BuildStrategies() (map[classify.Category]recovery.Strategy, error) {
	if len(f.Strategies) == 0 {
		return nil, nil
	}
	out := make(map[classify.Category]recovery.Strategy, len(f.Strategies))
	for name, sc := range f.Strategies {
		category, ok := classify.ParseCategory(name)
		if !ok {
			return nil, fmt.Errorf("config: strategy %q: unknown category", name)
		}
		s, err := sc.Build()
		if err != nil {
			return nil, err
		}
		out[category] = s
	}
	return out, nil
}

func parseDuration(s *string, field string) (time.Duration, error) {
	if s == nil || *s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
