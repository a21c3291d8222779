package dhtfacade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"github.com/dyrnwyn/saorsa-core/pkg/ratelimit"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Transport is the network layer the façade drives: direct peer
// messaging and best-effort replication of put/get to the peer set. A
// concrete transport typically wraps noisesession-secured QUIC/TCP sessions.
type Transport interface {
	Put(ctx context.Context, peer *Peer, key, value []byte) error
	Get(ctx context.Context, peer *Peer, key []byte) ([]byte, bool, error)
	Send(ctx context.Context, peer *Peer, topic string, payload []byte) ([]byte, error)
}

// Facade is the abstract key/value store with peer directory and
// directed messaging described by SPEC_FULL.md C7.
type Facade struct {
	mu        sync.RWMutex
	localID   PeerID
	routing   *routingTable
	transport Transport
	logger    zerolog.Logger
	limiter   *ratelimit.Limiter // optional; nil disables per-peer rate limiting

	local map[string][]byte // local authoritative copy, keyed by string(key)

	sem *semaphore

	opTimeout     time.Duration
	retryAttempts int
	retryBase     time.Duration
}

// FacadeOption configures a Facade at construction time.
type FacadeOption func(*Facade)

func WithOpTimeout(d time.Duration) FacadeOption     { return func(f *Facade) { f.opTimeout = d } }
func WithRetryAttempts(n int) FacadeOption           { return func(f *Facade) { f.retryAttempts = n } }
func WithRetryBase(d time.Duration) FacadeOption     { return func(f *Facade) { f.retryBase = d } }
func WithConcurrency(n int) FacadeOption             { return func(f *Facade) { f.sem = newSemaphore(n) } }
func WithLogger(l zerolog.Logger) FacadeOption       { return func(f *Facade) { f.logger = l } }

// WithRateLimiter attaches a per-peer rate limiter consulted by Send;
// unset, Send never throttles.
func WithRateLimiter(l *ratelimit.Limiter) FacadeOption { return func(f *Facade) { f.limiter = l } }

// New creates a façade for localID, driving peer I/O through transport.
func New(localID PeerID, transport Transport, opts ...FacadeOption) *Facade {
	f := &Facade{
		localID:       localID,
		routing:       newRoutingTable(localID),
		transport:     transport,
		logger:        zerolog.Nop(),
		local:         make(map[string][]byte),
		sem:           newSemaphore(constants.DefaultConcurrency),
		opTimeout:     constants.DefaultOpTimeout,
		retryAttempts: constants.DefaultRetryAttempts,
		retryBase:     constants.DefaultRetryBase,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// AddPeer registers or refreshes a peer in the routing table.
func (f *Facade) AddPeer(p *Peer) bool {
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now()
	}
	if p.ReliabilityScore == 0 {
		p.ReliabilityScore = 0.5
	}
	return f.routing.add(p)
}

// RemovePeer drops a peer from the routing table.
func (f *Facade) RemovePeer(id PeerID) bool { return f.routing.remove(id) }

// Peers returns every peer known to the routing table.
func (f *Facade) Peers() []*Peer { return f.routing.allPeers() }

// ClosestPeers returns up to k peers nearest to target by XOR distance.
func (f *Facade) ClosestPeers(target PeerID, k int) []*Peer { return f.routing.closest(target, k) }

// RankedPeers returns every known peer sorted by RankScore, descending.
func (f *Facade) RankedPeers() []*Peer {
	peers := f.routing.allPeers()
	for i := 1; i < len(peers); i++ {
		j := i
		for j > 0 && peers[j].RankScore() > peers[j-1].RankScore() {
			peers[j], peers[j-1] = peers[j-1], peers[j]
			j--
		}
	}
	return peers
}

// Put stores value under key: locally, and best-effort replicated to the
// DHTBucketSize closest known peers, each attempt bounded by the
// façade's timeout/retry/concurrency policy.
func (f *Facade) Put(ctx context.Context, key, value []byte) error {
	f.mu.Lock()
	f.local[string(key)] = append([]byte{}, value...)
	f.mu.Unlock()

	target := keyToPeerID(key)
	peers := f.routing.closest(target, constants.DHTBucketSize)
	if len(peers) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			return f.withSlot(gctx, func(ctx context.Context) error {
				return f.callWithRetry(ctx, p, func(ctx context.Context) error {
					return f.transport.Put(ctx, p, key, value)
				})
			})
		})
	}
	// Replication is best-effort: individual peer failures are logged,
	// not propagated, since the local copy already satisfies Put.
	if err := g.Wait(); err != nil {
		f.logger.Debug().Err(err).Msg("dhtfacade: put replication incomplete")
	}
	return nil
}

// Get returns value for key if known locally, otherwise queries the
// closest known peers in order of rank until one answers.
func (f *Facade) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	f.mu.RLock()
	if v, ok := f.local[string(key)]; ok {
		f.mu.RUnlock()
		return v, true, nil
	}
	f.mu.RUnlock()

	target := keyToPeerID(key)
	peers := f.routing.closest(target, constants.DHTBucketSize)
	sortByRank(peers)

	for _, p := range peers {
		var value []byte
		var found bool
		err := f.withSlot(ctx, func(ctx context.Context) error {
			return f.callWithRetry(ctx, p, func(ctx context.Context) error {
				v, ok, err := f.transport.Get(ctx, p, key)
				if err != nil {
					return err
				}
				value, found = v, ok
				return nil
			})
		})
		if err == nil && found {
			return value, true, nil
		}
	}
	return nil, false, nil
}

// Send delivers payload to peer under topic and returns its reply.
func (f *Facade) Send(ctx context.Context, peerID PeerID, topic string, payload []byte) ([]byte, error) {
	p := f.routing.get(peerID)
	if p == nil {
		return nil, &PeerNotFoundError{ID: peerID}
	}
	if f.limiter != nil && !f.limiter.Allow(peerID.String()) {
		return nil, &RateLimitedError{Peer: peerID}
	}
	var reply []byte
	err := f.withSlot(ctx, func(ctx context.Context) error {
		return f.callWithRetry(ctx, p, func(ctx context.Context) error {
			r, err := f.transport.Send(ctx, p, topic, payload)
			if err != nil {
				return err
			}
			reply = r
			return nil
		})
	})
	return reply, err
}

// Health reports whether the façade has peers, an acceptable success
// rate, and acceptable mean round-trip time, per SPEC_FULL.md C7.
func (f *Facade) Health() bool {
	peers := f.routing.allPeers()
	if len(peers) == 0 {
		return false
	}
	var successSum, rttSum float64
	var rttCount int
	for _, p := range peers {
		successSum += p.ReliabilityScore
		if p.ResponseTimeMS != nil {
			rttSum += *p.ResponseTimeMS
			rttCount++
		}
	}
	successRate := successSum / float64(len(peers))
	meanRTT := time.Duration(0)
	if rttCount > 0 {
		meanRTT = time.Duration(rttSum/float64(rttCount)) * time.Millisecond
	}
	return successRate >= constants.HealthMinSuccessRate && meanRTT < constants.HealthMaxMeanRTT
}

// RemoveStale evicts peers not seen within timeout.
func (f *Facade) RemoveStale(timeout time.Duration) int { return f.routing.removeStale(timeout) }

func (f *Facade) withSlot(ctx context.Context, fn func(context.Context) error) error {
	if err := f.sem.acquire(ctx); err != nil {
		return err
	}
	defer f.sem.release()
	return fn(ctx)
}

func (f *Facade) callWithRetry(ctx context.Context, p *Peer, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < f.retryAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, f.opTimeout)
		start := time.Now()
		err := fn(opCtx)
		cancel()
		// p is a copy handed out by the routing table, so the updated
		// statistics are written back for ranking and health to see.
		if err == nil {
			p.RecordSuccess(time.Since(start))
			f.routing.add(p.copy())
			return nil
		}
		lastErr = err
		p.RecordFailure()
		f.routing.add(p.copy())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		backoff := f.retryBase * time.Duration(1<<uint(attempt))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("dhtfacade: operation failed after %d attempts: %w", f.retryAttempts, lastErr)
}

func keyToPeerID(key []byte) PeerID {
	return NewPeerID(string(key))
}

func sortByRank(peers []*Peer) {
	for i := 1; i < len(peers); i++ {
		j := i
		for j > 0 && peers[j].RankScore() > peers[j-1].RankScore() {
			peers[j], peers[j-1] = peers[j-1], peers[j]
			j--
		}
	}
}

// semaphore is a simple context-aware bounded-concurrency gate.
type semaphore struct {
	c chan struct{}
}

func newSemaphore(n int) *semaphore {
	if n <= 0 {
		n = 1
	}
	return &semaphore{c: make(chan struct{}, n)}
}

func (s *semaphore) acquire(ctx context.Context) error {
	select {
	case s.c <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) release() { <-s.c }
