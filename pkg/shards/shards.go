// Package shards implements the shard distributor (SPEC_FULL.md C9):
// placement planning across a group's members, concurrent distribution
// and collection over the DHT façade, and health polling.
package shards

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/dhtfacade"
	"github.com/dyrnwyn/saorsa-core/pkg/erasure"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// MemberTransport is the subset of façade messaging the distributor
// needs: directed request/reply to a specific group member.
type MemberTransport interface {
	Send(ctx context.Context, peer dhtfacade.PeerID, topic string, payload []byte) ([]byte, error)
}

// PlacementEntry assigns one shard index to one member.
type PlacementEntry struct {
	ShardIndex int
	Member     dhtfacade.PeerID
}

// Plan spreads shardCount shard indices round-robin across members, so
// every member receives at least one shard (when shards >= members).
// Losing up to scheme.ParityShards members leaves enough shards to
// reconstruct only when each member holds at most one shard; with more
// shards than members a member holds several, and losing it loses them all.
func Plan(shardCount int, members []dhtfacade.PeerID) []PlacementEntry {
	if len(members) == 0 {
		return nil
	}
	plan := make([]PlacementEntry, shardCount)
	for i := 0; i < shardCount; i++ {
		plan[i] = PlacementEntry{ShardIndex: i, Member: members[i%len(members)]}
	}
	return plan
}

// MemberResult records the outcome of distributing to or collecting from
// one member.
type MemberResult struct {
	Member  dhtfacade.PeerID
	Success bool
	Err     error
}

// DistributionStatus reports the outcome of a Distribute call.
type DistributionStatus struct {
	Total            int
	Success          int
	Failed           int
	PerMemberResult  []MemberResult
	Started          time.Time
	Completed        time.Time
}

// Distributor places and retrieves shards over a group's members via a
// MemberTransport, with bounded concurrency and per-member retry.
type Distributor struct {
	transport   MemberTransport
	coder       *erasure.Coder
	concurrency int
	retries     int
	logger      zerolog.Logger

	mu    sync.Mutex
	cache map[string][]*erasure.Shard // key: group + "/" + dataID
}

// DistributorOption configures a Distributor at construction time.
type DistributorOption func(*Distributor)

// WithLogger attaches a structured logger; the default is silent.
func WithLogger(l zerolog.Logger) DistributorOption { return func(d *Distributor) { d.logger = l } }

// New creates a shard distributor over transport.
func New(transport MemberTransport, concurrency, retries int, opts ...DistributorOption) *Distributor {
	if concurrency <= 0 {
		concurrency = 10
	}
	if retries <= 0 {
		retries = 3
	}
	d := &Distributor{
		transport:   transport,
		coder:       erasure.New(),
		concurrency: concurrency,
		retries:     retries,
		logger:      zerolog.Nop(),
		cache:       make(map[string][]*erasure.Shard),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Distribute executes plan, sending each shard to its assigned member
// concurrently (bounded by d.concurrency), retrying transient failures,
// and reporting a DistributionStatus.
func (d *Distributor) Distribute(ctx context.Context, group, dataID string, allShards []*erasure.Shard, plan []PlacementEntry) (*DistributionStatus, error) {
	status := &DistributionStatus{Total: len(plan), Started: time.Now()}
	results := make([]MemberResult, len(plan))

	sem := make(chan struct{}, d.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range plan {
		i, entry := i, entry
		shard := allShards[entry.ShardIndex]
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			err := d.sendWithRetry(gctx, entry.Member, storeShardTopic(group, dataID), shard)
			results[i] = MemberResult{Member: entry.Member, Success: err == nil, Err: err}
			return nil // member failures are reported, not fatal to the group operation
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("shards: distribute: %w", err)
	}

	status.PerMemberResult = results
	for _, r := range results {
		if r.Success {
			status.Success++
		} else {
			status.Failed++
			d.logger.Debug().Str("member", r.Member.String()).Err(r.Err).Msg("shards: store failed")
		}
	}
	status.Completed = time.Now()
	return status, nil
}

// Collect concurrently requests each member's shard for (group, dataID),
// deduplicates by shard index, and caches the collected set. If the
// collected set meets scheme.DataShards, the object is reconstructed;
// otherwise InsufficientShards is returned so the caller can fall back
// to a whole-object encrypted DHT backup.
func (d *Distributor) Collect(ctx context.Context, group, dataID string, plan []PlacementEntry, scheme erasure.Scheme) ([]byte, error) {
	collected := make(map[int]*erasure.Shard)
	var mu sync.Mutex

	sem := make(chan struct{}, d.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range plan {
		entry := entry
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			shard, err := d.retrieveWithRetry(gctx, entry.Member, group, dataID, entry.ShardIndex)
			if err != nil {
				return nil // missing member contributes nothing; not fatal
			}
			mu.Lock()
			if _, dup := collected[shard.Index]; !dup {
				collected[shard.Index] = shard
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	shards := make([]*erasure.Shard, 0, len(collected))
	for _, s := range collected {
		shards = append(shards, s)
	}

	d.mu.Lock()
	d.cache[cacheKey(group, dataID)] = shards
	d.mu.Unlock()

	if len(shards) < scheme.DataShards {
		return nil, &erasure.InsufficientShardsError{Have: len(shards), Need: scheme.DataShards}
	}
	return d.coder.Decode(shards, scheme)
}

// CachedShards returns the most recently collected shard set for
// (group, dataID), if any.
func (d *Distributor) CachedShards(group, dataID string) ([]*erasure.Shard, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.cache[cacheKey(group, dataID)]
	return s, ok
}

// HealthReport summarizes shard availability across a group's members.
type HealthReport struct {
	MissingMembers       []dhtfacade.PeerID
	AvailableIndices     map[dhtfacade.PeerID][]int
	CorruptedIndices     map[dhtfacade.PeerID][]int
	Reconstructible      bool
}

// HealthCheck polls every member in plan for its available/corrupted
// shard indices and aggregates a reconstructibility verdict.
func (d *Distributor) HealthCheck(ctx context.Context, group, dataID string, plan []PlacementEntry, scheme erasure.Scheme) (*HealthReport, error) {
	report := &HealthReport{
		AvailableIndices: make(map[dhtfacade.PeerID][]int),
		CorruptedIndices: make(map[dhtfacade.PeerID][]int),
	}
	var mu sync.Mutex
	available := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range plan {
		entry := entry
		g.Go(func() error {
			resp, err := d.sendHealthCheck(gctx, entry.Member, group, dataID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.MissingMembers = append(report.MissingMembers, entry.Member)
				return nil
			}
			report.AvailableIndices[entry.Member] = resp.availableIndices
			report.CorruptedIndices[entry.Member] = resp.corruptedIndices
			available += len(resp.availableIndices)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("shards: health check: %w", err)
	}
	report.Reconstructible = available >= scheme.DataShards
	return report, nil
}

func cacheKey(group, dataID string) string { return group + "/" + dataID }
func storeShardTopic(group, dataID string) string { return "shard/store/" + group + "/" + dataID }
func retrieveShardTopic(group, dataID string) string { return "shard/get/" + group + "/" + dataID }
func healthCheckTopic(group, dataID string) string { return "shard/health/" + group + "/" + dataID }
