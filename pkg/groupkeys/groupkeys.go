// Package groupkeys implements the group key manager (SPEC_FULL.md C10):
// per-group membership and role enforcement, HKDF-derived group keys,
// and a two-phase key rotation protocol with per-member ML-KEM wrapping.
package groupkeys

import (
	"crypto/sha256"
	"fmt"
	"sync"

	circlkem "github.com/cloudflare/circl/kem"
	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"github.com/dyrnwyn/saorsa-core/pkg/pqc"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/hkdf"
)

// Role is a member's position in the group's permission hierarchy.
type Role int

const (
	RoleReadOnly Role = iota
	RoleMember
	RoleAdmin
	RoleOwner
)

// Permission is one bit of the per-role permission set.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermInvite
	PermRemove
	PermRotateKeys
)

// Permissions returns the bitset granted to a role. Each role includes
// every permission of the roles below it.
func (r Role) Permissions() Permission {
	switch r {
	case RoleOwner:
		return PermRead | PermWrite | PermInvite | PermRemove | PermRotateKeys
	case RoleAdmin:
		return PermRead | PermWrite | PermInvite | PermRemove
	case RoleMember:
		return PermRead | PermWrite
	default:
		return PermRead
	}
}

// Has reports whether the role's permission bitset includes p.
func (r Role) Has(p Permission) bool { return r.Permissions()&p != 0 }

// Member is one participant in a group, with their role and ML-KEM
// public key for key wrapping.
type Member struct {
	UserID string
	Role   Role
	KEMPub circlkem.PublicKey
}

type member struct {
	userID string
	role   Role
	kemPub circlkem.PublicKey
}

// WrappedCopy is the group key wrapped to one member's ML-KEM public key.
type WrappedCopy struct {
	UserID     string
	Ciphertext []byte
}

// groupState holds one group's current key material and history.
type groupState struct {
	version  uint64
	key      [32]byte
	members  map[string]*member
	wrapped  map[uint64][]WrappedCopy // version -> per-member wrapped copies
	rotating bool
}

// Manager owns every group's membership, keys and rotation state.
type Manager struct {
	mu           sync.RWMutex
	masterSecret []byte
	groups       map[string]*groupState
	logger       zerolog.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger attaches a structured logger; the default is silent.
func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.logger = l } }

// New creates a group key manager over masterSecret (32 bytes, shared
// with the namespace key service's master secret or a distinct one).
func New(masterSecret []byte, opts ...Option) *Manager {
	secret := make([]byte, len(masterSecret))
	copy(secret, masterSecret)
	m := &Manager{masterSecret: secret, groups: make(map[string]*groupState), logger: zerolog.Nop()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateGroup registers a new group with its founding owner and derives
// its first-version key.
func (m *Manager) CreateGroup(groupID, ownerUserID string, ownerKEMPub circlkem.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.groups[groupID]; exists {
		return &GroupAlreadyExistsError{GroupID: groupID}
	}

	key, err := m.deriveGroupKey(groupID, 1)
	if err != nil {
		return err
	}

	m.groups[groupID] = &groupState{
		version: 1,
		key:     key,
		members: map[string]*member{
			ownerUserID: {userID: ownerUserID, role: RoleOwner, kemPub: ownerKEMPub},
		},
		wrapped: make(map[uint64][]WrappedCopy),
	}
	return nil
}

func (m *Manager) deriveGroupKey(groupID string, version uint64) ([32]byte, error) {
	info := []byte(fmt.Sprintf("group:%s:v%d", groupID, version))
	r := hkdf.New(sha256.New, m.masterSecret, nil, info)
	var out [32]byte
	if _, err := readFull(r, out[:]); err != nil {
		return [32]byte{}, fmt.Errorf("groupkeys: derive group key: %w", err)
	}
	return out, nil
}

// AddMember enrolls userID with role, enforcing that actor holds invite
// permission in groupID.
func (m *Manager) AddMember(groupID, actorUserID, userID string, role Role, kemPub circlkem.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.requireGroup(groupID)
	if err != nil {
		return err
	}
	if err := m.requirePermission(g, actorUserID, PermInvite); err != nil {
		return err
	}
	if len(g.members) >= constants.MaxGroupSize {
		return &MaxGroupSizeExceededError{GroupID: groupID, Max: constants.MaxGroupSize}
	}
	g.members[userID] = &member{userID: userID, role: role, kemPub: kemPub}
	return nil
}

// RemoveMember evicts userID, enforcing that actor holds remove
// permission.
func (m *Manager) RemoveMember(groupID, actorUserID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.requireGroup(groupID)
	if err != nil {
		return err
	}
	if err := m.requirePermission(g, actorUserID, PermRemove); err != nil {
		return err
	}
	if _, ok := g.members[userID]; !ok {
		return &UserNotMemberError{GroupID: groupID, UserID: userID}
	}
	delete(g.members, userID)
	return nil
}

func (m *Manager) requireGroup(groupID string) (*groupState, error) {
	g, ok := m.groups[groupID]
	if !ok {
		return nil, &GroupNotFoundError{GroupID: groupID}
	}
	return g, nil
}

func (m *Manager) requirePermission(g *groupState, userID string, p Permission) error {
	mem, ok := g.members[userID]
	if !ok {
		return &UserNotMemberError{UserID: userID}
	}
	if !mem.role.Has(p) {
		return &InsufficientPermissionsError{UserID: userID, Required: p}
	}
	return nil
}

// CurrentKey returns the active group key and its version, enforcing
// that userID is a member.
func (m *Manager) CurrentKey(groupID, userID string) ([32]byte, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, err := m.requireGroup(groupID)
	if err != nil {
		return [32]byte{}, 0, err
	}
	if _, ok := g.members[userID]; !ok {
		return [32]byte{}, 0, &UserNotMemberError{GroupID: groupID, UserID: userID}
	}
	return g.key, g.version, nil
}

// RotateResult reports the outcome of a two-phase rotation.
type RotateResult struct {
	NewVersion    uint64
	WrappedCopies []WrappedCopy
	FailedMembers []string
}

// RotateGroupKey executes the two-phase rotation protocol: phase one
// derives the next-version key and wraps it to every member's ML-KEM
// public key; phase two installs the new key only if every member
// wrapped successfully. On partial failure the prior key remains active
// and FailedMembers reports who could not be wrapped, so the caller may
// retry.
func (m *Manager) RotateGroupKey(groupID, actorUserID string) (*RotateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.requireGroup(groupID)
	if err != nil {
		return nil, err
	}
	if err := m.requirePermission(g, actorUserID, PermRotateKeys); err != nil {
		return nil, err
	}
	if g.rotating {
		return nil, fmt.Errorf("groupkeys: rotation already in progress for group %s", groupID)
	}

	g.rotating = true
	defer func() { g.rotating = false }()

	nextVersion := g.version + 1
	nextKey, err := m.deriveGroupKey(groupID, nextVersion)
	if err != nil {
		return nil, err
	}

	var copies []WrappedCopy
	var failed []string
	for _, mem := range g.members {
		ct, ss, err := pqc.Encapsulate(mem.kemPub)
		if err != nil {
			failed = append(failed, mem.userID)
			continue
		}
		wrapped := wrapKeyWithSharedSecret(nextKey, ct, ss)
		copies = append(copies, WrappedCopy{UserID: mem.userID, Ciphertext: wrapped})
	}

	if len(failed) > 0 {
		m.logger.Warn().Str("group", groupID).Strs("failed_members", failed).Msg("groupkeys: rotation aborted, prior key retained")
		return &RotateResult{NewVersion: nextVersion, WrappedCopies: copies, FailedMembers: failed}, &KeyWrappingFailedError{Members: failed}
	}

	g.key = nextKey
	g.version = nextVersion
	g.wrapped[nextVersion] = copies

	m.logger.Info().Str("group", groupID).Uint64("version", nextVersion).Msg("groupkeys: rotation committed")
	return &RotateResult{NewVersion: nextVersion, WrappedCopies: copies}, nil
}

// wrapKeyWithSharedSecret returns kemCiphertext followed by the group key
// XORed with the member's ML-KEM shared secret (32 bytes for ML-KEM-768),
// so only the holder of the matching private key can recover it. The copy
// carries no nonce or authentication tag of its own.
func wrapKeyWithSharedSecret(key [32]byte, kemCiphertext, sharedSecret []byte) []byte {
	out := make([]byte, len(kemCiphertext)+len(key))
	copy(out, kemCiphertext)
	for i := range key {
		out[len(kemCiphertext)+i] = key[i] ^ sharedSecret[i]
	}
	return out
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
