// Package cache implements the local object cache (SPEC_FULL.md C6): a
// byte- and entry-count-bounded store with a recency/frequency/size
// eviction score layered on top of an LRU base, opportunistic gzip
// compression, and BLAKE3 integrity verification on read.
package cache

import (
	"bytes"
	"io"
	"math"
	"sync"
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/gzip"
	"lukechampine.com/blake3"
)

type entry struct {
	key         string
	data        []byte // stored form, possibly gzipped
	compressed  bool
	checksum    [32]byte
	storedAt    time.Time
	expiresAt   time.Time // zero means no TTL
	lastAccess  time.Time
	accessCount uint64
	sizeBytes   int // stored size, counted against the byte budget
}

// Stats reports cumulative cache activity.
type Stats struct {
	Hits             uint64
	Misses           uint64
	Evictions        uint64
	TotalBytes       int
	CompressionRatio float64
	MeanAccessTime   time.Duration
}

// Cache is a bounded, integrity-checked object cache.
type Cache struct {
	mu sync.Mutex

	maxEntries int
	maxBytes   int
	compressAfter int
	integrityCheck bool

	store      *lru.Cache[string, *entry]
	totalBytes int

	hits, misses, evictions uint64
	accessDurationSum       time.Duration
	accessCount             uint64
	uncompressedBytes       int
	compressedStoredBytes   int
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithMaxEntries overrides the default entry-count bound.
func WithMaxEntries(n int) Option { return func(c *Cache) { c.maxEntries = n } }

// WithMaxBytes overrides the default byte-size bound.
func WithMaxBytes(n int) Option { return func(c *Cache) { c.maxBytes = n } }

// WithIntegrityCheck enables or disables BLAKE3 verification on read.
func WithIntegrityCheck(enabled bool) Option { return func(c *Cache) { c.integrityCheck = enabled } }

// New creates a cache with SPEC_FULL.md C6 defaults, as overridden by opts.
func New(opts ...Option) *Cache {
	c := &Cache{
		maxEntries:     constants.DefaultCacheMaxEntries,
		maxBytes:       constants.DefaultCacheMaxBytes,
		compressAfter:  constants.DefaultCacheCompressAfter,
		integrityCheck: true,
	}
	for _, o := range opts {
		o(c)
	}
	// The underlying LRU gives O(1) recency bookkeeping and membership;
	// the score-based eviction above it decides WHAT to evict, not the LRU.
	// It is sized one above maxEntries so an Add never makes the LRU drop
	// an entry on its own before evictIfOverBudget runs.
	store, err := lru.New[string, *entry](c.maxEntries + 1)
	if err != nil {
		store, _ = lru.New[string, *entry](1)
	}
	c.store = store
	return c
}

// Put stores data under key with an optional TTL (zero means no expiry).
func (c *Cache) Put(key string, data []byte, ttl time.Duration) {
	stored, compressed := maybeCompress(data, c.compressAfter)
	now := time.Now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	e := &entry{
		key:         key,
		data:        stored,
		compressed:  compressed,
		checksum:    blake3.Sum256(data),
		storedAt:    now,
		expiresAt:   expiresAt,
		lastAccess:  now,
		accessCount: 0,
		sizeBytes:   len(stored),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.store.Get(key); ok {
		c.totalBytes -= old.sizeBytes
		c.uncompressedBytes -= len(old.data)
	}
	c.store.Add(key, e)
	c.totalBytes += e.sizeBytes
	c.uncompressedBytes += len(data)
	c.compressedStoredBytes += e.sizeBytes

	c.evictIfOverBudget()
}

// Get retrieves and verifies an entry, returning (data, true) on a hit.
// Expired entries are evicted lazily and reported as a miss. A checksum
// mismatch evicts the entry and returns (nil, false) with a recorded
// CacheCorruption-equivalent signal via Stats.Evictions.
func (c *Cache) Get(key string) ([]byte, bool) {
	start := time.Now()
	c.mu.Lock()
	defer func() {
		c.accessDurationSum += time.Since(start)
		c.accessCount++
		c.mu.Unlock()
	}()

	e, ok := c.store.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeLocked(key, e)
		c.misses++
		return nil, false
	}

	data := e.data
	if e.compressed {
		var err error
		data, err = decompress(e.data)
		if err != nil {
			c.removeLocked(key, e)
			c.misses++
			return nil, false
		}
	}
	if c.integrityCheck && blake3.Sum256(data) != e.checksum {
		c.removeLocked(key, e)
		c.misses++
		return nil, false
	}

	e.lastAccess = time.Now()
	e.accessCount++
	c.hits++
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// CleanupExpired proactively evicts expired entries; callers typically
// invoke this on constants.DefaultCacheCleanupPeriod.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []string
	for _, k := range c.store.Keys() {
		e, ok := c.store.Peek(k)
		if ok && !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		if e, ok := c.store.Peek(k); ok {
			c.removeLocked(k, e)
		}
	}
	return len(expired)
}

// Delete explicitly evicts key, if present. Unlike an expired Get miss,
// this is an immediate invalidation a caller requests directly (e.g. an
// object delete or a policy transition superseding an old address).
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.store.Peek(key); ok {
		c.removeLocked(key, e)
	}
}

func (c *Cache) removeLocked(key string, e *entry) {
	c.store.Remove(key)
	c.totalBytes -= e.sizeBytes
	c.evictions++
}

// evictIfOverBudget scores every resident entry by recency (1/(1+age),
// age in seconds since last access; not linear in age), frequency (inversely linear in access_count+1) and size
// (logarithmic), and evicts the lowest-scoring entries, lowest hit count
// breaking ties, until both the entry-count and byte-size budgets are met.
func (c *Cache) evictIfOverBudget() {
	for c.store.Len() > c.maxEntries || c.totalBytes > c.maxBytes {
		worst, worstScore := "", math.Inf(1)
		var worstEntry *entry
		now := time.Now()
		for _, k := range c.store.Keys() {
			e, ok := c.store.Peek(k)
			if !ok {
				continue
			}
			score := evictionScore(e, now)
			if score < worstScore || (score == worstScore && worstEntry != nil && e.accessCount < worstEntry.accessCount) {
				worst, worstScore, worstEntry = k, score, e
			}
		}
		if worstEntry == nil {
			return
		}
		c.removeLocked(worst, worstEntry)
	}
}

// evictionScore combines recency, frequency and size into a single value;
// higher is more valuable to keep, so eviction removes the minimum.
func evictionScore(e *entry, now time.Time) float64 {
	age := now.Sub(e.lastAccess).Seconds()
	recency := 1.0 / (1.0 + age) // hyperbolic decay in age
	frequency := 1.0 / float64(e.accessCount+1)
	size := math.Log1p(float64(e.sizeBytes))
	// Frequent, recently used, small entries score highest; size counts
	// against the entry since large cold entries are the best eviction
	// candidates.
	return recency + (1.0 - frequency) - size/64.0
}

// Stats returns a snapshot of cumulative activity.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	ratio := 1.0
	if c.uncompressedBytes > 0 {
		ratio = float64(c.compressedStoredBytes) / float64(c.uncompressedBytes)
	}
	mean := time.Duration(0)
	if c.accessCount > 0 {
		mean = c.accessDurationSum / time.Duration(c.accessCount)
	}
	return Stats{
		Hits:             c.hits,
		Misses:           c.misses,
		Evictions:        c.evictions,
		TotalBytes:       c.totalBytes,
		CompressionRatio: ratio,
		MeanAccessTime:   mean,
	}
}

func maybeCompress(data []byte, threshold int) ([]byte, bool) {
	if len(data) < threshold {
		return append([]byte{}, data...), false
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return append([]byte{}, data...), false
	}
	if err := w.Close(); err != nil {
		return append([]byte{}, data...), false
	}
	if buf.Len() < len(data) {
		return buf.Bytes(), true
	}
	return append([]byte{}, data...), false
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
