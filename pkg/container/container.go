// Package container implements the per-container append-only post log
// (SPEC_FULL.md C11): object storage, op application with CRDT-style
// convergence, and signed tip publication.
package container

import (
	"sort"
	"strings"
	"sync"
	"time"

	circlkem "github.com/cloudflare/circl/kem"
	circlsign "github.com/cloudflare/circl/sign"
	"github.com/dyrnwyn/saorsa-core/pkg/aead"
	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"github.com/dyrnwyn/saorsa-core/pkg/content"
	"github.com/dyrnwyn/saorsa-core/pkg/policy"
	"github.com/dyrnwyn/saorsa-core/pkg/records"
	"github.com/rs/zerolog"
	"lukechampine.com/blake3"
)

// Post is one entry in a container's append-only log.
type Post struct {
	ID     string
	Author string
	TS     int64
	Body   string
}

// Op is the closed set of mutations a container accepts. Today only
// Append exists; the sum type leaves room for future op kinds without
// breaking apply_ops's signature.
type Op struct {
	Append *Post
}

// StoredObject is a content-addressed object stashed by put_object,
// optionally sealed under the container's policy.
type StoredObject struct {
	ContentID  [content.HashSize]byte
	Envelope   *aead.Envelope // nil if encryption disabled for this object
	PlainSize  int
	StoredAt   time.Time
}

// Container holds one conversation's posts, inverted word index, object
// store and signing identity.
type Container struct {
	mu sync.RWMutex

	posts map[string]*Post            // by post ID (UUID)
	index map[string]map[string]bool  // tokenized word -> set of post IDs
	objects map[[content.HashSize]byte]*StoredObject

	policy       policy.Policy
	recipientPub circlkem.PublicKey
	scopeSecret  []byte
	encrypt      bool

	signPriv circlsign.PrivateKey
	prevTip  *[32]byte
	version  records.Version
	logger   zerolog.Logger
}

// Option configures a new Container.
type Option func(*Container)

// WithLogger attaches a structured logger; the default is silent.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Container) { c.logger = l }
}

// WithEncryption enables put_object sealing under pol, wrapped to
// recipientPub (PrivateMax/GroupScoped) or derived deterministically
// from scopeSecret (PrivateScoped; PublicMarkdown needs neither, since
// its key comes from the content hash alone).
func WithEncryption(pol policy.Policy, recipientPub circlkem.PublicKey, scopeSecret []byte) Option {
	return func(c *Container) {
		c.encrypt = true
		c.policy = pol
		c.recipientPub = recipientPub
		c.scopeSecret = scopeSecret
	}
}

// New creates an empty container signing tips with signPriv.
func New(signPriv circlsign.PrivateKey, opts ...Option) *Container {
	c := &Container{
		posts:   make(map[string]*Post),
		index:   make(map[string]map[string]bool),
		objects: make(map[[content.HashSize]byte]*StoredObject),
		signPriv: signPriv,
		version:  records.Version{Major: 1, Minor: 0},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PutObject stashes data, content-addressed by the BLAKE3 hash of the
// plaintext, and seals it under the container's policy if encryption is
// enabled. Re-storing identical plaintext is a no-op observable as
// deduplication at the content-id layer.
func (c *Container) PutObject(data []byte) ([content.HashSize]byte, error) {
	id := content.HashBytes(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.objects[id]; exists {
		return id, nil
	}

	obj := &StoredObject{ContentID: id, PlainSize: len(data), StoredAt: time.Now()}
	if c.encrypt {
		env, err := aead.SealForPolicy(c.policy, data, id[:], c.recipientPub, c.scopeSecret)
		if err != nil {
			return id, err
		}
		obj.Envelope = env
	}
	c.objects[id] = obj
	return id, nil
}

// Object returns the stored object for contentID, if present.
func (c *Container) Object(contentID [content.HashSize]byte) (*StoredObject, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.objects[contentID]
	return o, ok
}

// ApplyOps applies ops under a single write lock, so readers always see
// a consistent post set and index. Each Append is deduplicated by post
// ID; re-applying an already-known post is a no-op, which is what makes
// the log tolerant of duplicate delivery.
func (c *Container) ApplyOps(ops []Op) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, op := range ops {
		if op.Append == nil {
			continue
		}
		c.appendLocked(op.Append)
	}
}

func (c *Container) appendLocked(p *Post) {
	if _, exists := c.posts[p.ID]; exists {
		return
	}
	cp := *p
	c.posts[p.ID] = &cp
	for _, word := range tokenize(p.Body) {
		set, ok := c.index[word]
		if !ok {
			set = make(map[string]bool)
			c.index[word] = set
		}
		set[p.ID] = true
	}
}

// Posts returns every post in the container, ordered by ID, the same
// deterministic enumeration current_tip uses to compute the root.
func (c *Container) Posts() []*Post {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orderedPostsLocked()
}

func (c *Container) orderedPostsLocked() []*Post {
	ids := make([]string, 0, len(c.posts))
	for id := range c.posts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Post, len(ids))
	for i, id := range ids {
		out[i] = c.posts[id]
	}
	return out
}

// Search returns the IDs of posts whose body contains word, tokenized
// the same way ApplyOps indexes it.
func (c *Container) Search(word string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.index[strings.ToLower(word)]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Root computes BLAKE3(domain ‖ Σ(id ‖ author ‖ ts ‖ body)) over the
// deterministic post enumeration. Any two replicas holding the same set
// of unique posts converge to the identical root regardless of the
// order or duplication with which those posts were applied.
func (c *Container) Root() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rootLocked()
}

func (c *Container) rootLocked() [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(constants.ContainerTipDomain))
	for _, p := range c.orderedPostsLocked() {
		h.Write([]byte(p.ID))
		h.Write([]byte(p.Author))
		h.Write(int64ToBytes(p.TS))
		h.Write([]byte(p.Body))
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CurrentTip computes the container's root and returns it as a signed
// ContainerTipRecord, chained to the previous tip if one has been
// published before.
func (c *Container) CurrentTip() (*records.ContainerTipRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	root := c.rootLocked()
	tip := &records.ContainerTipRecord{
		Ver:         1,
		Ts:          time.Now().Unix(),
		ContentRoot: root,
		Version:     c.version,
		Prev:        c.prevTip,
	}
	if err := records.Sign(tip, c.signPriv); err != nil {
		return nil, err
	}
	prev := root
	c.prevTip = &prev
	c.logger.Debug().Int("posts", len(c.posts)).Msg("container: tip published")
	return tip, nil
}

func tokenize(body string) []string {
	fields := strings.FieldsFunc(strings.ToLower(body), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func int64ToBytes(v int64) []byte {
	b := make([]byte, 8)
	u := uint64(v)
	for i := 7; i >= 0; i-- {
		b[i] = byte(u)
		u >>= 8
	}
	return b
}
