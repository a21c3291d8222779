// Package config defines the typed configuration tree consumed by every
// component of this module: policy, encryption, network, cache,
// performance, security, monitoring and feature-flag sections, each
// defaulted from pkg/constants and validated as a whole on load.
package config

import (
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"github.com/dyrnwyn/saorsa-core/pkg/policy"
)

// PolicyConfig governs default storage discipline and audit behavior.
type PolicyConfig struct {
	DefaultKind      policy.Kind
	MaxContentSize   uint64
	RequireAudit     bool
}

// EncryptionConfig governs content-encryption-key handling.
type EncryptionConfig struct {
	DefaultMode      policy.Kind
	KeyRotationEvery time.Duration
	EnableHSM        bool
}

// NetworkConfig governs DHT façade timeouts and fan-out.
type NetworkConfig struct {
	OpTimeout         time.Duration
	RetryAttempts     int
	RetryBase         time.Duration
	Concurrency       int
	ReplicationFactor int
}

// CacheConfig governs the local cache's size, entry and TTL bounds.
type CacheConfig struct {
	MaxEntries        int
	MaxBytes          uint64
	DefaultTTL        time.Duration
	CompressThreshold int
	VerifyIntegrity   bool
}

// PerformanceConfig governs chunking and buffering.
type PerformanceConfig struct {
	ChunkSize        int
	CompressionLevel int
	BufferSize       int
}

// SecurityConfig governs rate limits and key-material hygiene.
type SecurityConfig struct {
	RateLimitCapacity int
	RateLimitRefill   time.Duration
	MinKeyEntropy     float64
	SecureDeletion    bool
}

// MonitoringConfig governs observability verbosity.
type MonitoringConfig struct {
	Level    string // "debug", "info", "warn", "error", "disabled"
	Interval time.Duration
	Endpoint string // optional; empty disables push-based export
}

// FeatureFlags toggles optional subsystems.
type FeatureFlags struct {
	ErasureCoding        bool
	Deduplication        bool
	GeoOptimization      bool
	BackgroundMaintenance bool
}

// Config is the full configuration tree for a running instance of this
// module.
type Config struct {
	Policy      PolicyConfig
	Encryption  EncryptionConfig
	Network     NetworkConfig
	Cache       CacheConfig
	Performance PerformanceConfig
	Security    SecurityConfig
	Monitoring  MonitoringConfig
	Features    FeatureFlags
}

// Default returns a Config whose sizes, timeouts and caps come from
// pkg/constants, the same defaults every component falls back to when
// unconfigured. Compression level, buffer size, rate-limit and monitoring
// defaults are set here directly.
func Default() Config {
	return Config{
		Policy: PolicyConfig{
			DefaultKind:    policy.PrivateScoped,
			MaxContentSize: constants.PrivateScopedSizeCap,
			RequireAudit:   true,
		},
		Encryption: EncryptionConfig{
			DefaultMode:      policy.PrivateScoped,
			KeyRotationEvery: constants.DefaultKeyRetention,
			EnableHSM:        false,
		},
		Network: NetworkConfig{
			OpTimeout:         constants.DefaultOpTimeout,
			RetryAttempts:     constants.DefaultRetryAttempts,
			RetryBase:         constants.DefaultRetryBase,
			Concurrency:       constants.DefaultConcurrency,
			ReplicationFactor: constants.DHTBucketSize,
		},
		Cache: CacheConfig{
			MaxEntries:        constants.DefaultCacheMaxEntries,
			MaxBytes:          constants.DefaultCacheMaxBytes,
			DefaultTTL:        constants.DefaultCacheCleanupPeriod,
			CompressThreshold: constants.DefaultCacheCompressAfter,
			VerifyIntegrity:   true,
		},
		Performance: PerformanceConfig{
			ChunkSize:        constants.MediumFileChunkSize,
			CompressionLevel: 6,
			BufferSize:       64 * 1024,
		},
		Security: SecurityConfig{
			RateLimitCapacity: 20,
			RateLimitRefill:   30 * time.Second,
			MinKeyEntropy:     constants.MinNamespaceEntropy,
			SecureDeletion:    true,
		},
		Monitoring: MonitoringConfig{
			Level:    "info",
			Interval: 30 * time.Second,
		},
		Features: FeatureFlags{
			ErasureCoding:         true,
			Deduplication:         true,
			GeoOptimization:       false,
			BackgroundMaintenance: true,
		},
	}
}

// Validate checks c for internal consistency, returning every problem
// found rather than stopping at the first. errs are hard failures the
// caller must fix before using c; warnings are non-fatal but notable.
func (c Config) Validate() (errs []string, warnings []string) {
	if c.Policy.MaxContentSize == 0 {
		errs = append(errs, "policy.max_content_size must be non-zero")
	}
	if c.Policy.MaxContentSize > constants.MaxContentSize {
		errs = append(errs, "policy.max_content_size exceeds the hard content size cap")
	}

	if c.Encryption.KeyRotationEvery <= 0 {
		errs = append(errs, "encryption.key_rotation_every must be positive")
	} else if c.Encryption.KeyRotationEvery < 24*time.Hour {
		warnings = append(warnings, "encryption.key_rotation_every is under 24h; frequent rotation increases rewrap traffic")
	}

	if c.Network.OpTimeout <= 0 {
		errs = append(errs, "network.op_timeout must be positive")
	}
	if c.Network.RetryAttempts < 0 {
		errs = append(errs, "network.retry_attempts must be non-negative")
	}
	if c.Network.Concurrency <= 0 {
		errs = append(errs, "network.concurrency must be positive")
	}
	if c.Network.ReplicationFactor <= 0 {
		errs = append(errs, "network.replication_factor must be positive")
	}

	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, "cache.max_entries must be positive")
	}
	if c.Cache.MaxBytes == 0 {
		errs = append(errs, "cache.max_bytes must be non-zero")
	}
	if c.Cache.CompressThreshold < 0 {
		errs = append(errs, "cache.compress_threshold must be non-negative")
	}

	if c.Performance.ChunkSize <= 0 {
		errs = append(errs, "performance.chunk_size must be positive")
	}
	if c.Performance.CompressionLevel < 0 || c.Performance.CompressionLevel > 9 {
		errs = append(errs, "performance.compression_level must be within 0-9")
	}
	if c.Performance.BufferSize <= 0 {
		errs = append(errs, "performance.buffer_size must be positive")
	}

	if c.Security.RateLimitCapacity <= 0 {
		errs = append(errs, "security.rate_limit_capacity must be positive")
	}
	if c.Security.RateLimitRefill <= 0 {
		errs = append(errs, "security.rate_limit_refill must be positive")
	}
	if c.Security.MinKeyEntropy < 0 {
		errs = append(errs, "security.min_key_entropy must be non-negative")
	} else if c.Security.MinKeyEntropy < constants.MinNamespaceEntropy {
		warnings = append(warnings, "security.min_key_entropy is below the recommended namespace-key entropy floor")
	}

	switch c.Monitoring.Level {
	case "debug", "info", "warn", "error", "disabled":
	default:
		errs = append(errs, "monitoring.level must be one of debug|info|warn|error|disabled")
	}
	if c.Monitoring.Level != "disabled" && c.Monitoring.Interval <= 0 {
		errs = append(errs, "monitoring.interval must be positive when monitoring is enabled")
	}

	return errs, warnings
}
