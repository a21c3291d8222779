// Package engine implements the top-level storage façade (SPEC_FULL.md
// C12): store/retrieve/list/delete/transition_policy/maintenance,
// sequencing policy validation, key resolution, AEAD encryption, content
// addressing, cache insertion, and DHT publication or shard
// distribution.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	circlkem "github.com/cloudflare/circl/kem"
	"github.com/dyrnwyn/saorsa-core/pkg/aead"
	"github.com/dyrnwyn/saorsa-core/pkg/cache"
	"github.com/dyrnwyn/saorsa-core/pkg/codec/cborcanon"
	"github.com/dyrnwyn/saorsa-core/pkg/content"
	"github.com/dyrnwyn/saorsa-core/pkg/dhtfacade"
	"github.com/dyrnwyn/saorsa-core/pkg/erasure"
	"github.com/dyrnwyn/saorsa-core/pkg/metrics"
	"github.com/dyrnwyn/saorsa-core/pkg/namespace"
	"github.com/dyrnwyn/saorsa-core/pkg/policy"
	"github.com/dyrnwyn/saorsa-core/pkg/shards"
	"github.com/rs/zerolog"
)

// shardThreshold is the sealed-object size above which a GroupScoped
// store distributes shards across the group instead of publishing one
// whole value to the DHT.
const shardThreshold = 4 * 1024 * 1024

// item tracks everything the engine needs to retrieve, list or
// transition an object after it has been stored.
type item struct {
	contentID   [content.HashSize]byte
	policy      policy.Policy
	owner       string
	contentType string
	size        uint64
	sharded     bool
	plan        []shards.PlacementEntry
	scheme      erasure.Scheme
	scopeSecret []byte
	createdAt   time.Time
	deleted     bool
}

// Engine composes the policy manager, namespace key service, cache, DHT
// façade and shard distributor into the single store/retrieve surface.
type Engine struct {
	mu sync.RWMutex

	policyMgr *policy.Manager
	nsSvc     *namespace.Service
	cache     *cache.Cache
	dht       *dhtfacade.Facade
	shardDist *shards.Distributor
	logger    zerolog.Logger
	metrics   *metrics.Recorder

	items map[string]*item // hex(contentID) -> item
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger attaches a structured logger; the default is silent.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics attaches an operation recorder; the default discards every
// observation, so Stats always returns an empty snapshot until one is
// attached.
func WithMetrics(r *metrics.Recorder) Option { return func(e *Engine) { e.metrics = r } }

// New composes an Engine from its already-constructed dependencies.
func New(policyMgr *policy.Manager, nsSvc *namespace.Service, c *cache.Cache, dht *dhtfacade.Facade, shardDist *shards.Distributor, opts ...Option) *Engine {
	e := &Engine{
		policyMgr: policyMgr,
		nsSvc:     nsSvc,
		cache:     c,
		dht:       dht,
		shardDist: shardDist,
		logger:    zerolog.Nop(),
		metrics:   metrics.NewDisabled(),
		items:     make(map[string]*item),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Stats returns a snapshot of this engine's internal operation counters and
// latencies. With no metrics.Recorder attached via WithMetrics, this is
// always empty.
func (e *Engine) Stats() []metrics.OpStat {
	return e.metrics.Stats()
}

// StoreRequest bundles everything a store operation needs.
type StoreRequest struct {
	Owner        string
	Policy       policy.Policy
	ContentType  string
	Data         []byte
	RecipientPub circlkem.PublicKey  // required for PrivateMax/GroupScoped (KeyModeRandom)
	GroupMembers []dhtfacade.PeerID  // required for GroupScoped sharding
}

// StoreResponse reports where the object landed.
type StoreResponse struct {
	ContentID [content.HashSize]byte
	Sharded   bool
}

// Store validates the request against policy, resolves the content
// encryption key, seals the object, inserts it into cache, and either
// publishes it whole to the DHT or distributes it as erasure shards
// across the group.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (*StoreResponse, error) {
	start := time.Now()
	defer func() { e.metrics.Record("store", time.Since(start)) }()

	req.Policy = req.Policy.Normalized()

	contentID := content.HashBytes(req.Data)
	idHex := hex.EncodeToString(contentID[:])

	if err := e.policyMgr.Validate(policy.Request{
		Policy:       req.Policy,
		ContentID:    idHex,
		ContentSize:  uint64(len(req.Data)),
		User:         req.Owner,
		ContentType:  req.ContentType,
		GroupContext: req.Policy.Group,
	}); err != nil {
		return nil, err
	}

	scopeSecret, err := e.resolveScopeSecret(req.Policy)
	if err != nil {
		return nil, err
	}

	env, err := aead.SealForPolicy(req.Policy, req.Data, contentID[:], req.RecipientPub, scopeSecret)
	if err != nil {
		return nil, err
	}
	sealed, err := cborcanon.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("engine: encode envelope: %w", err)
	}

	it := &item{
		contentID:   contentID,
		policy:      req.Policy,
		owner:       req.Owner,
		contentType: req.ContentType,
		size:        uint64(len(req.Data)),
		scopeSecret: scopeSecret,
		createdAt:   time.Now(),
	}

	e.cache.Put(idHex, sealed, cacheTTLFor(req.Policy.Kind))

	if req.Policy.Kind == policy.GroupScoped && len(sealed) > shardThreshold && len(req.GroupMembers) > 0 {
		scheme := erasure.SchemeFor(len(req.GroupMembers))
		coder := erasure.New()
		shardSet, err := coder.Encode(sealed, scheme, req.Policy.Group, idHex)
		if err != nil {
			return nil, fmt.Errorf("engine: erasure encode: %w", err)
		}
		plan := shards.Plan(len(shardSet), req.GroupMembers)
		if _, err := e.shardDist.Distribute(ctx, req.Policy.Group, idHex, shardSet, plan); err != nil {
			return nil, fmt.Errorf("engine: distribute shards: %w", err)
		}
		it.sharded = true
		it.plan = plan
		it.scheme = scheme
	} else if e.dht != nil {
		if err := e.dht.Put(ctx, contentID[:], sealed); err != nil {
			return nil, fmt.Errorf("engine: dht publish: %w", err)
		}
	}

	e.mu.Lock()
	e.items[idHex] = it
	e.mu.Unlock()

	e.logger.Debug().Str("content_id", idHex).Str("policy", req.Policy.Kind.String()).Bool("sharded", it.sharded).Msg("engine: store complete")

	return &StoreResponse{ContentID: contentID, Sharded: it.sharded}, nil
}

// RetrieveRequest identifies the object to fetch and the credentials
// needed to open it.
type RetrieveRequest struct {
	ContentID     [content.HashSize]byte
	RecipientPriv interface{} // circlkem.PrivateKey; opaque to avoid forcing every caller to import circl
}

// Retrieve fetches a previously stored object, trying the cache first,
// falling back to shard collection or DHT lookup, then opens its
// envelope.
func (e *Engine) Retrieve(ctx context.Context, req RetrieveRequest) ([]byte, error) {
	start := time.Now()
	defer func() { e.metrics.Record("retrieve", time.Since(start)) }()

	idHex := hex.EncodeToString(req.ContentID[:])

	e.mu.RLock()
	it, ok := e.items[idHex]
	e.mu.RUnlock()
	if !ok || it.deleted {
		e.logger.Warn().Str("content_id", idHex).Msg("engine: retrieve: unknown or deleted content id")
		return nil, &NotFoundError{ContentID: idHex}
	}

	sealed, ok := e.cache.Get(idHex)
	if !ok {
		var err error
		if it.sharded {
			sealed, err = e.shardDist.Collect(ctx, it.policy.Group, idHex, it.plan, it.scheme)
		} else if e.dht != nil {
			var found bool
			sealed, found, err = e.dht.Get(ctx, req.ContentID[:])
			if err == nil && !found {
				err = &NotFoundError{ContentID: idHex}
			}
		} else {
			err = &NotFoundError{ContentID: idHex}
		}
		if err != nil {
			return nil, err
		}
		e.cache.Put(idHex, sealed, cacheTTLFor(it.policy.Kind))
	}

	var env aead.Envelope
	if err := cborcanon.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("engine: decode envelope: %w", err)
	}

	switch env.KeyMode {
	case aead.KeyModeConvergentGlobal:
		return aead.OpenConvergentGlobal(&env, req.ContentID[:])
	case aead.KeyModeConvergentScoped:
		return aead.OpenConvergentScoped(&env, req.ContentID[:], it.scopeSecret)
	default:
		priv, ok := req.RecipientPriv.(circlkem.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("engine: retrieve: RecipientPriv must be a circlkem.PrivateKey for %s", it.policy.Kind)
		}
		return aead.OpenRandom(&env, priv)
	}
}

// List returns metadata for every non-deleted item owned by owner,
// optionally filtered by policy kind, capped at limit (0 = unbounded).
func (e *Engine) List(owner string, kind *policy.Kind, limit int) []StoreResponse {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []StoreResponse
	for _, it := range e.items {
		if it.deleted || it.owner != owner {
			continue
		}
		if kind != nil && it.policy.Kind != *kind {
			continue
		}
		out = append(out, StoreResponse{ContentID: it.contentID, Sharded: it.sharded})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Delete removes an object from the cache and marks it deleted. Only the
// recorded owner may delete it.
func (e *Engine) Delete(contentID [content.HashSize]byte, owner string) error {
	idHex := hex.EncodeToString(contentID[:])

	e.mu.Lock()
	defer e.mu.Unlock()

	it, ok := e.items[idHex]
	if !ok || it.deleted {
		return &NotFoundError{ContentID: idHex}
	}
	if it.owner != owner {
		return &NotOwnerError{ContentID: idHex, User: owner}
	}
	it.deleted = true
	e.cache.Delete(idHex)
	e.logger.Debug().Str("content_id", idHex).Str("owner", owner).Msg("engine: object deleted")
	return nil
}

// TransitionPolicy re-seals an object under newPolicy and republishes it.
// The old address is marked deleted; its cache entry is left to expire
// naturally rather than evicted eagerly, in case in-flight readers still
// hold a reference.
func (e *Engine) TransitionPolicy(ctx context.Context, contentID [content.HashSize]byte, newPolicy policy.Policy, owner string, recipientPriv circlkem.PrivateKey, recipientPub circlkem.PublicKey, groupMembers []dhtfacade.PeerID) (*StoreResponse, error) {
	idHex := hex.EncodeToString(contentID[:])

	e.mu.RLock()
	it, ok := e.items[idHex]
	e.mu.RUnlock()
	if !ok || it.deleted {
		return nil, &NotFoundError{ContentID: idHex}
	}
	if it.owner != owner {
		return nil, &NotOwnerError{ContentID: idHex, User: owner}
	}

	if _, err := policy.PlanTransition(it.policy.Kind, newPolicy.Kind); err != nil {
		return nil, err
	}

	plaintext, err := e.Retrieve(ctx, RetrieveRequest{ContentID: contentID, RecipientPriv: recipientPriv})
	if err != nil {
		return nil, fmt.Errorf("engine: transition: re-fetch failed: %w", err)
	}

	resp, err := e.Store(ctx, StoreRequest{
		Owner:        owner,
		Policy:       newPolicy,
		ContentType:  it.contentType,
		Data:         plaintext,
		RecipientPub: recipientPub,
		GroupMembers: groupMembers,
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	it.deleted = true
	e.mu.Unlock()

	return resp, nil
}

// Maintenance runs periodic housekeeping: cache expiry sweep and
// namespace key retention. It returns a short human-readable summary.
func (e *Engine) Maintenance(retentionDays int) string {
	expired := e.cache.CleanupExpired()
	var rotatedKeys int
	if e.nsSvc != nil {
		rotatedKeys = e.nsSvc.CleanupOldKeys(retentionDays)
	}
	return fmt.Sprintf("maintenance: evicted %d expired cache entries, purged %d stale namespace keys", expired, rotatedKeys)
}

// resolveScopeSecret resolves the per-namespace secret that scopes
// PrivateScoped sealing. PublicMarkdown needs no scope secret at all —
// its key is derived from the content hash alone (aead.SealConvergentGlobal)
// so that identical markdown converges globally regardless of which
// engine or namespace produced it; routing it through the namespace
// service would also fail outright, since "public" is a reserved
// namespace name (pkg/namespace.ValidateNamespace).
func (e *Engine) resolveScopeSecret(p policy.Policy) ([]byte, error) {
	if p.Kind != policy.PrivateScoped {
		return nil, nil
	}
	if e.nsSvc == nil {
		return nil, fmt.Errorf("engine: namespace service required for %s", p.Kind)
	}
	key, _, err := e.nsSvc.DeriveNamespaceKey(p.Namespace)
	if err != nil {
		return nil, err
	}
	return key[:], nil
}

func cacheTTLFor(k policy.Kind) time.Duration {
	switch k {
	case policy.PublicMarkdown:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}
