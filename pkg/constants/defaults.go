// Package constants defines cross-cutting default values shared by every
// storage and messaging component: sizes, TTLs, and caps each component
// pulls from here rather than hard-coding its own copy.
package constants

import "time"

// Chunking (C2)
const (
	SmallFileChunkSize  = 64 * 1024              // <=1 MiB total -> 64 KiB chunks
	MediumFileChunkSize = 256 * 1024             // <=100 MiB total -> 256 KiB chunks
	LargeFileChunkSize  = 512 * 1024             // >100 MiB total -> 512 KiB chunks
	MaxChunkCount       = 40960                  // ~10 GiB at 256 KiB chunks
	MaxContentSize      = 10 * 1024 * 1024 * 1024 // 10 GiB hard cap
	CompressionMinInput = 1024                   // below this, never attempt compression
	CompressionRatioMax = 0.90                   // must shrink below 90% of input to keep
	FingerprintWindow   = 64                     // rolling window size in bytes
)

// Reed-Solomon erasure coding group-size bands (C8)
const (
	SmallGroupMax  = 5
	MediumGroupMax = 15
	LargeGroupMax  = 50
)

// Record size caps and TTLs (C5)
const (
	IdentityRecordCap = 12 * 1024
	IdentityRecordTTL = 30 * 24 * time.Hour
	PresenceRecordCap = 8 * 1024
	PresenceRecordTTL = 120 * time.Second
	GroupRecordCap    = 8 * 1024
	GroupRecordTTL    = 7 * 24 * time.Hour
	ChannelRecordCap  = 8 * 1024
	ChannelRecordTTL  = 7 * 24 * time.Hour
	ContainerTipCap   = 8 * 1024
	ContainerTipTTL   = 90 * 24 * time.Hour

	// MLDSA65SigLen is the fixed ML-DSA-65 signature length in bytes.
	MLDSA65SigLen = 3309
)

// Policy size caps (C4), configurable defaults
const (
	PrivateMaxSizeCap     = 100 * 1024 * 1024
	PrivateScopedSizeCap  = 1024 * 1024 * 1024
	GroupScopedSizeCap    = 5 * 1024 * 1024 * 1024
	PublicMarkdownSizeCap = 10 * 1024 * 1024
)

// Namespace key service (C1)
const (
	NamespaceKeyInfo    = "saorsa:ns:user:v1"
	DefaultKeyRetention = 90 * 24 * time.Hour
	MinNamespaceEntropy = 7.0 // bits per byte, measured across a key sample
)

// Local cache (C6)
const (
	DefaultCacheMaxEntries    = 10_000
	DefaultCacheMaxBytes      = 512 * 1024 * 1024
	DefaultCacheCleanupPeriod = 5 * time.Minute
	DefaultCacheCompressAfter = 8 * 1024
)

// DHT facade (C7)
const (
	DHTBucketSize        = 20
	DHTAlpha             = 3
	DHTNodeIDBits        = 160
	DHTNodeIDBytes       = DHTNodeIDBits / 8
	DefaultOpTimeout     = 30 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 500 * time.Millisecond
	DefaultConcurrency   = 10
	ReliabilityEMAAlpha  = 0.1
	ReliabilityDecay     = 0.9
	HealthMinSuccessRate = 0.7
	HealthMaxMeanRTT     = 5 * time.Second
)

// Group key manager (C10)
const (
	MaxGroupSize = 5000
)

// Container engine (C11)
const (
	ContainerTipDomain = "communitas:container:v1"
)

// Protocol / wire
const (
	ProtocolVersion = 1
	HashAlgorithm   = "blake3-256"
	TextEncoding    = "utf-8"
	DefaultQUICPort = 27487
)

// MaxClockSkew bounds record TTL/timestamp drift tolerance.
const MaxClockSkew = 120 * time.Second

// Proquint alphabet, reused from the honeytag-style deterministic word
// encoder for human-readable identity addresses.
const (
	ProquintConsonants = "bdfghjklmnprstvz"
	ProquintVowels     = "aeiou"
)
