package groupkeys

import (
	"fmt"
	"testing"

	"github.com/dyrnwyn/saorsa-core/pkg/constants"
	"github.com/dyrnwyn/saorsa-core/pkg/pqc"
)

func mustKEMKeyPair(t *testing.T) *pqc.KEMKeyPair {
	t.Helper()
	kp, err := pqc.GenerateKEMKeyPair()
	if err != nil {
		t.Fatalf("generate KEM keypair: %v", err)
	}
	return kp
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i + 1)
	}
	return New(secret)
}

func TestCreateGroupRejectsDuplicate(t *testing.T) {
	m := newTestManager(t)
	owner := mustKEMKeyPair(t)
	if err := m.CreateGroup("g1", "alice", owner.Public); err != nil {
		t.Fatalf("create group: %v", err)
	}
	err := m.CreateGroup("g1", "alice", owner.Public)
	if _, ok := err.(*GroupAlreadyExistsError); !ok {
		t.Fatalf("expected GroupAlreadyExistsError, got %v", err)
	}
}

func TestRolePermissionHierarchy(t *testing.T) {
	if !RoleOwner.Has(PermRotateKeys) {
		t.Fatalf("owner must have rotate_keys")
	}
	if RoleAdmin.Has(PermRotateKeys) {
		t.Fatalf("admin must not have rotate_keys")
	}
	if !RoleAdmin.Has(PermInvite) || !RoleAdmin.Has(PermRemove) {
		t.Fatalf("admin must have invite and remove")
	}
	if RoleMember.Has(PermInvite) {
		t.Fatalf("member must not have invite")
	}
	if !RoleMember.Has(PermWrite) {
		t.Fatalf("member must have write")
	}
	if RoleReadOnly.Has(PermWrite) {
		t.Fatalf("read-only must not have write")
	}
	if !RoleReadOnly.Has(PermRead) {
		t.Fatalf("every role has read")
	}
}

func TestAddMemberRequiresInvitePermission(t *testing.T) {
	m := newTestManager(t)
	owner := mustKEMKeyPair(t)
	if err := m.CreateGroup("g1", "alice", owner.Public); err != nil {
		t.Fatalf("create group: %v", err)
	}

	readOnlyKP := mustKEMKeyPair(t)
	if err := m.AddMember("g1", "alice", "bob", RoleReadOnly, readOnlyKP.Public); err != nil {
		t.Fatalf("add bob: %v", err)
	}

	carolKP := mustKEMKeyPair(t)
	err := m.AddMember("g1", "bob", "carol", RoleMember, carolKP.Public)
	if _, ok := err.(*InsufficientPermissionsError); !ok {
		t.Fatalf("expected InsufficientPermissionsError, got %v", err)
	}
}

func TestAddMemberEnforcesMaxGroupSize(t *testing.T) {
	m := newTestManager(t)
	owner := mustKEMKeyPair(t)
	if err := m.CreateGroup("g1", "alice", owner.Public); err != nil {
		t.Fatalf("create group: %v", err)
	}

	// Fill the group to its cap directly rather than generating a real
	// ML-KEM keypair per member, which the cap (in the thousands) makes
	// impractically slow for a unit test.
	g := m.groups["g1"]
	for len(g.members) < constants.MaxGroupSize {
		id := fmt.Sprintf("synthetic-%d", len(g.members))
		g.members[id] = &member{userID: id, role: RoleMember}
	}

	overflowKP := mustKEMKeyPair(t)
	err := m.AddMember("g1", "alice", "overflow", RoleMember, overflowKP.Public)
	if _, ok := err.(*MaxGroupSizeExceededError); !ok {
		t.Fatalf("expected MaxGroupSizeExceededError, got %v", err)
	}
}

func TestRemoveMemberRequiresRemovePermission(t *testing.T) {
	m := newTestManager(t)
	owner := mustKEMKeyPair(t)
	if err := m.CreateGroup("g1", "alice", owner.Public); err != nil {
		t.Fatalf("create group: %v", err)
	}
	bobKP := mustKEMKeyPair(t)
	if err := m.AddMember("g1", "alice", "bob", RoleReadOnly, bobKP.Public); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	carolKP := mustKEMKeyPair(t)
	if err := m.AddMember("g1", "alice", "carol", RoleReadOnly, carolKP.Public); err != nil {
		t.Fatalf("add carol: %v", err)
	}

	if err := m.RemoveMember("g1", "bob", "carol"); err == nil {
		t.Fatalf("read-only member must not be able to remove")
	}
	if err := m.RemoveMember("g1", "alice", "carol"); err != nil {
		t.Fatalf("owner remove: %v", err)
	}
}

func TestCurrentKeyDeterministicPerVersion(t *testing.T) {
	m := newTestManager(t)
	owner := mustKEMKeyPair(t)
	if err := m.CreateGroup("g1", "alice", owner.Public); err != nil {
		t.Fatalf("create group: %v", err)
	}

	k1, v1, err := m.CurrentKey("g1", "alice")
	if err != nil {
		t.Fatalf("current key: %v", err)
	}
	if v1 != 1 {
		t.Fatalf("expected version 1, got %d", v1)
	}

	k1Again, v1Again, err := m.CurrentKey("g1", "alice")
	if err != nil {
		t.Fatalf("current key again: %v", err)
	}
	if k1 != k1Again || v1 != v1Again {
		t.Fatalf("current key must be stable absent rotation")
	}
}

func TestCurrentKeyRejectsNonMember(t *testing.T) {
	m := newTestManager(t)
	owner := mustKEMKeyPair(t)
	if err := m.CreateGroup("g1", "alice", owner.Public); err != nil {
		t.Fatalf("create group: %v", err)
	}
	_, _, err := m.CurrentKey("g1", "mallory")
	if _, ok := err.(*UserNotMemberError); !ok {
		t.Fatalf("expected UserNotMemberError, got %v", err)
	}
}

func TestRotateGroupKeyRequiresPermissionAndChangesKey(t *testing.T) {
	m := newTestManager(t)
	owner := mustKEMKeyPair(t)
	if err := m.CreateGroup("g1", "alice", owner.Public); err != nil {
		t.Fatalf("create group: %v", err)
	}
	bobKP := mustKEMKeyPair(t)
	if err := m.AddMember("g1", "alice", "bob", RoleAdmin, bobKP.Public); err != nil {
		t.Fatalf("add bob: %v", err)
	}

	if _, err := m.RotateGroupKey("g1", "bob"); err == nil {
		t.Fatalf("admin must not be able to rotate keys")
	}

	before, v1, err := m.CurrentKey("g1", "alice")
	if err != nil {
		t.Fatalf("current key: %v", err)
	}

	result, err := m.RotateGroupKey("g1", "alice")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if result.NewVersion != v1+1 {
		t.Fatalf("expected version %d, got %d", v1+1, result.NewVersion)
	}
	if len(result.WrappedCopies) != 2 {
		t.Fatalf("expected 2 wrapped copies (alice, bob), got %d", len(result.WrappedCopies))
	}

	after, v2, err := m.CurrentKey("g1", "alice")
	if err != nil {
		t.Fatalf("current key after rotation: %v", err)
	}
	if v2 != v1+1 {
		t.Fatalf("version did not advance")
	}
	if before == after {
		t.Fatalf("rotation must change the group key")
	}
}
