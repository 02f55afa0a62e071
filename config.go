package fetchcore

import (
	"fmt"
	"time"
)

// Defaults applied by DefaultCacheConfig and DefaultCoordinationConfig.
const (
	DefaultTTL           = 5 * time.Minute
	DefaultMaxTotalSize  = 50 * 1024 * 1024
	DefaultMaxEntries    = 1000
	DefaultTimeout       = 30 * time.Second
	DefaultMaxConcurrent = 10
	DefaultDedupWindow   = 5 * time.Minute
	DefaultMaxRetries    = 3
	DefaultRetryBase     = 100 * time.Millisecond
	DefaultSweepInterval = time.Minute
)

// CacheConfig configures a Store. Validated at construction; immutable
// thereafter.
type CacheConfig struct {
	// DefaultTTL applies when SetOptions.TTL is zero.
	DefaultTTL time.Duration
	// MaxTotalSize bounds the sum of estimated entry sizes in bytes.
	MaxTotalSize int64
	// MaxEntries bounds the entry count across all namespaces.
	MaxEntries int
	// Version busts entries written under a different version.
	Version string
	// SweepInterval is the period of the background expiry sweep.
	SweepInterval time.Duration
}

// DefaultCacheConfig returns the documented defaults: 5m TTL, 50MB,
// 1000 entries, sweep every minute.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		DefaultTTL:    DefaultTTL,
		MaxTotalSize:  DefaultMaxTotalSize,
		MaxEntries:    DefaultMaxEntries,
		SweepInterval: DefaultSweepInterval,
	}
}

func (c CacheConfig) validate() []string {
	var problems []string
	if c.DefaultTTL <= 0 {
		problems = append(problems, "DefaultTTL must be positive")
	}
	if c.MaxTotalSize <= 0 {
		problems = append(problems, "MaxTotalSize must be positive")
	}
	if c.MaxEntries <= 0 {
		problems = append(problems, "MaxEntries must be positive")
	}
	if c.SweepInterval <= 0 {
		problems = append(problems, "SweepInterval must be positive")
	}
	if c.DefaultTTL > 24*time.Hour {
		problems = append(problems, "DefaultTTL > 24h may cause stale data issues")
	}
	return problems
}

// SaturationPolicy selects the coordinator's behavior when the number of
// distinct in-flight keys reaches MaxConcurrent.
type SaturationPolicy int

const (
	// SaturationBypass invokes the operation directly, sacrificing
	// deduplication rather than queuing. This matches the historical
	// behavior and is the default.
	SaturationBypass SaturationPolicy = iota
	// SaturationQueue blocks until a slot frees or the context is done.
	SaturationQueue
	// SaturationReject fails fast with a Saturated error.
	SaturationReject
)

func (p SaturationPolicy) String() string {
	switch p {
	case SaturationBypass:
		return "bypass"
	case SaturationQueue:
		return "queue"
	case SaturationReject:
		return "reject"
	default:
		return "unknown"
	}
}

// CoordinationConfig configures a Coordinator. Validated at construction;
// immutable thereafter.
type CoordinationConfig struct {
	// Timeout bounds each attempt of the underlying operation.
	Timeout time.Duration
	// MaxConcurrent bounds the number of distinct in-flight keys.
	MaxConcurrent int
	// DedupWindow bounds how long an in-flight entry may be joined.
	DedupWindow time.Duration
	// MaxRetries is the retry budget for transient failures.
	MaxRetries int
	// RetryBaseDelay is the linear backoff unit: attempt * RetryBaseDelay.
	RetryBaseDelay time.Duration
	// OnSaturation selects bypass, queue or reject behavior at the
	// concurrency ceiling.
	OnSaturation SaturationPolicy
	// Retryable widens the transient classification beyond IsTransient.
	// It is consulted for operation errors only; timeouts always retry.
	Retryable func(error) bool
}

// DefaultCoordinationConfig returns the documented defaults: 30s timeout,
// 10 concurrent, 5m dedup window, 3 retries, bypass on saturation.
func DefaultCoordinationConfig() CoordinationConfig {
	return CoordinationConfig{
		Timeout:        DefaultTimeout,
		MaxConcurrent:  DefaultMaxConcurrent,
		DedupWindow:    DefaultDedupWindow,
		MaxRetries:     DefaultMaxRetries,
		RetryBaseDelay: DefaultRetryBase,
		OnSaturation:   SaturationBypass,
	}
}

func (c CoordinationConfig) validate() []string {
	var problems []string
	if c.Timeout <= 0 {
		problems = append(problems, "Timeout must be positive")
	}
	if c.MaxConcurrent <= 0 {
		problems = append(problems, "MaxConcurrent must be positive")
	}
	if c.DedupWindow <= 0 {
		problems = append(problems, "DedupWindow must be positive")
	}
	if c.MaxRetries < 0 {
		problems = append(problems, "MaxRetries must be non-negative")
	}
	if c.RetryBaseDelay <= 0 {
		problems = append(problems, "RetryBaseDelay must be positive")
	}
	if c.OnSaturation < SaturationBypass || c.OnSaturation > SaturationReject {
		problems = append(problems, "OnSaturation must be bypass, queue or reject")
	}
	if c.MaxRetries > 100 {
		problems = append(problems, "MaxRetries > 100 may cause excessive resource usage")
	}
	if c.Timeout > 10*time.Minute {
		problems = append(problems, "Timeout > 10m may cause requests to hang for too long")
	}
	return problems
}

// newValidationError folds config problems into a single Validation error.
func newValidationError(component string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &Error{
		Type:    ErrorTypeValidation,
		Message: fmt.Sprintf("%s configuration validation failed", component),
		Cause:   fmt.Errorf("validation errors: %v", problems),
	}
}

// PolicyMode selects how the orchestrator consults cache and network.
type PolicyMode int

const (
	// CacheFirst returns a live cache hit immediately and only fetches on
	// a miss.
	CacheFirst PolicyMode = iota
	// NetworkFirst always fetches, falling back to a live cache hit when
	// the fetch fails.
	NetworkFirst
	// StaleWhileRevalidate serves a live hit immediately while refreshing
	// the entry in the background.
	StaleWhileRevalidate
)

func (m PolicyMode) String() string {
	switch m {
	case CacheFirst:
		return "cache_first"
	case NetworkFirst:
		return "network_first"
	case StaleWhileRevalidate:
		return "stale_while_revalidate"
	default:
		return "unknown"
	}
}

// FetchPolicy carries the per-call fetch behavior: policy mode, cache TTL
// override and invalidation tags for the written-back entry.
type FetchPolicy struct {
	Mode PolicyMode
	// TTL overrides CacheConfig.DefaultTTL for this entry when positive.
	TTL time.Duration
	// Tags label the written-back entry for DeleteByTag invalidation.
	Tags []string
}
