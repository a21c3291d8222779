// Package policy implements the storage policy manager (SPEC_FULL.md C4):
// the closed set of storage disciplines, their transition matrix, size
// caps, and per-content-id audit trail.
package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"github.com/dyrnwyn/saorsa-core/pkg/ratelimit"
	"golang.org/x/text/unicode/norm"
)

// Kind is the closed set of storage policies.
type Kind int

const (
	PrivateMax Kind = iota
	PrivateScoped
	GroupScoped
	PublicMarkdown
)

func (k Kind) String() string {
	switch k {
	case PrivateMax:
		return "PrivateMax"
	case PrivateScoped:
		return "PrivateScoped"
	case GroupScoped:
		return "GroupScoped"
	case PublicMarkdown:
		return "PublicMarkdown"
	default:
		return "Unknown"
	}
}

// Policy is a storage policy together with its scoping parameter.
type Policy struct {
	Kind      Kind
	Namespace string // required, non-empty for PrivateScoped
	Group     string // required, non-empty for GroupScoped
}

// Normalized returns p with its Namespace and Group fields put into NFC
// form, so two names that render identically but arrive pre-normalized
// differently (e.g. composed vs. combining-mark sequences) resolve to
// the same dedup scope and group key everywhere they're used as a key,
// not just inside Validate.
func (p Policy) Normalized() Policy {
	p.Namespace = norm.NFC.String(p.Namespace)
	p.Group = norm.NFC.String(p.Group)
	return p
}

// SizeCap returns the maximum content size this policy allows.
func (p Policy) SizeCap() uint64 {
	switch p.Kind {
	case PrivateMax:
		return constants.PrivateMaxSizeCap
	case PrivateScoped:
		return constants.PrivateScopedSizeCap
	case GroupScoped:
		return constants.GroupScopedSizeCap
	case PublicMarkdown:
		return constants.PublicMarkdownSizeCap
	default:
		return 0
	}
}

// AllowsBinary reports whether the policy permits non-text content.
func (p Policy) AllowsBinary() bool {
	return p.Kind != PublicMarkdown
}

// AllowsSharing reports whether objects under this policy may be shared
// outside the owner/group.
func (p Policy) AllowsSharing() bool {
	return p.Kind == GroupScoped || p.Kind == PublicMarkdown
}

// DedupScope describes the deduplication domain for this policy.
type DedupScope int

const (
	DedupNone DedupScope = iota
	DedupNamespace
	DedupGroup
	DedupGlobal
)

// DedupScope returns the deduplication domain implied by the policy.
func (p Policy) DedupScope() DedupScope {
	switch p.Kind {
	case PrivateMax:
		return DedupNone
	case PrivateScoped:
		return DedupNamespace
	case GroupScoped:
		return DedupGroup
	case PublicMarkdown:
		return DedupGlobal
	default:
		return DedupNone
	}
}

// transitions encodes the allowed upgrade edges (SPEC_FULL.md C4 matrix).
// Every edge is a monotonic widening of access; anything absent is rejected.
var transitions = map[Kind]Kind{
	PrivateMax:    PrivateScoped,
	PrivateScoped: GroupScoped,
	GroupScoped:   PublicMarkdown,
}

// Transition describes the effect of moving content from one policy to
// another.
type Transition struct {
	From                  Kind
	To                    Kind
	RequiresReEncryption  bool
	RequiresKeyMigration  bool
}

// PlanTransition validates that from->to is an allowed upgrade and
// describes its side effects. AEAD mode changes (every transition in this
// matrix changes keying discipline) always require re-encryption; scoped
// upgrades that cross a key domain also require key migration.
func PlanTransition(from, to Kind) (*Transition, error) {
	allowed, ok := transitions[from]
	if !ok || allowed != to {
		return nil, &TransitionNotAllowedError{From: from, To: to}
	}
	return &Transition{
		From:                 from,
		To:                   to,
		RequiresReEncryption: true,
		RequiresKeyMigration: to == GroupScoped || to == PublicMarkdown,
	}, nil
}

// AuditEntry records one validated store operation for a content id.
type AuditEntry struct {
	ContentID string
	Policy    Policy
	User      string
	ContentType string
	Size      uint64
	Timestamp time.Time
}

// Manager validates (policy, content, user, content_type) tuples before
// storage, enforces per-policy constraints, and keeps an audit trail and a
// policy-by-content-id cache.
type Manager struct {
	mu          sync.RWMutex
	sizeCaps    map[Kind]uint64
	auditLog    []AuditEntry
	policyCache map[string]Policy // content id -> policy
	limiter     *ratelimit.Limiter // optional; nil disables per-user rate limiting
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithRateLimiter attaches a per-user rate limiter consulted by Validate;
// unset, Validate never throttles.
func WithRateLimiter(l *ratelimit.Limiter) Option { return func(m *Manager) { m.limiter = l } }

// New creates a policy manager with default size caps; callers may override
// individual caps via SetSizeCap.
func New(opts ...Option) *Manager {
	m := &Manager{
		sizeCaps: map[Kind]uint64{
			PrivateMax:     constants.PrivateMaxSizeCap,
			PrivateScoped:  constants.PrivateScopedSizeCap,
			GroupScoped:    constants.GroupScopedSizeCap,
			PublicMarkdown: constants.PublicMarkdownSizeCap,
		},
		policyCache: make(map[string]Policy),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetSizeCap overrides the configured cap for a policy kind.
func (m *Manager) SetSizeCap(k Kind, bytes uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizeCaps[k] = bytes
}

// Request bundles the inputs to Validate.
type Request struct {
	Policy      Policy
	ContentID   string
	ContentSize uint64
	User        string
	ContentType string
	// GroupContext must match Policy.Group for GroupScoped requests.
	GroupContext string
}

// Validate enforces content-type, size, namespace/group scoping, and
// records an audit entry on success.
func (m *Manager) Validate(req Request) error {
	if m.limiter != nil && req.User != "" && !m.limiter.Allow(req.User) {
		return &RateLimitedError{User: req.User}
	}

	// Normalize to NFC before any comparison or use as a dedup-scope key:
	// two names that render identically but arrive in different Unicode
	// normalization forms must resolve to the same namespace/group.
	req.Policy = req.Policy.Normalized()
	req.GroupContext = norm.NFC.String(req.GroupContext)

	switch req.Policy.Kind {
	case PrivateScoped:
		if req.Policy.Namespace == "" {
			return &MissingParameterError{Parameter: "namespace"}
		}
	case GroupScoped:
		if req.Policy.Group == "" {
			return &MissingParameterError{Parameter: "group"}
		}
		if req.GroupContext != req.Policy.Group {
			return &ValidationError{Reason: "group context does not match policy group"}
		}
	case PublicMarkdown:
		if req.ContentType != "text/markdown" && req.ContentType != "text/plain" {
			return &ValidationError{Reason: fmt.Sprintf("PublicMarkdown rejects content type %q", req.ContentType)}
		}
	}

	if !req.Policy.AllowsBinary() && isBinaryContentType(req.ContentType) {
		return &ValidationError{Reason: "policy does not allow binary content"}
	}

	m.mu.RLock()
	cap := m.sizeCaps[req.Policy.Kind]
	m.mu.RUnlock()
	if req.ContentSize > cap {
		return &ValidationError{Reason: fmt.Sprintf("content size %d exceeds cap %d for %s", req.ContentSize, cap, req.Policy.Kind)}
	}

	m.mu.Lock()
	m.auditLog = append(m.auditLog, AuditEntry{
		ContentID:   req.ContentID,
		Policy:      req.Policy,
		User:        req.User,
		ContentType: req.ContentType,
		Size:        req.ContentSize,
		Timestamp:   time.Now(),
	})
	if req.ContentID != "" {
		m.policyCache[req.ContentID] = req.Policy
	}
	m.mu.Unlock()

	return nil
}

// PolicyFor returns the cached policy for a content id, if known.
func (m *Manager) PolicyFor(contentID string) (Policy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policyCache[contentID]
	return p, ok
}

// AuditLog returns a snapshot of recorded audit entries.
func (m *Manager) AuditLog() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AuditEntry, len(m.auditLog))
	copy(out, m.auditLog)
	return out
}

func isBinaryContentType(contentType string) bool {
	switch contentType {
	case "", "text/plain", "text/markdown", "text/csv", "application/json":
		return false
	default:
		return true
	}
}
