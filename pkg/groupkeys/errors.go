package groupkeys

import "fmt"

// GroupAlreadyExistsError is returned by CreateGroup for a groupID that
// already has state.
type GroupAlreadyExistsError struct {
	GroupID string
}

func (e *GroupAlreadyExistsError) Error() string {
	return fmt.Sprintf("groupkeys: group %q already exists", e.GroupID)
}

// GroupNotFoundError is returned when groupID has no registered state.
type GroupNotFoundError struct {
	GroupID string
}

func (e *GroupNotFoundError) Error() string {
	return fmt.Sprintf("groupkeys: group %q not found", e.GroupID)
}

// UserNotMemberError is returned when an actor or target user is not a
// member of the group in question.
type UserNotMemberError struct {
	GroupID string
	UserID  string
}

func (e *UserNotMemberError) Error() string {
	return fmt.Sprintf("groupkeys: user %q is not a member of group %q", e.UserID, e.GroupID)
}

// InsufficientPermissionsError is returned when a member's role does not
// grant the permission required for the attempted operation.
type InsufficientPermissionsError struct {
	UserID   string
	Required Permission
}

func (e *InsufficientPermissionsError) Error() string {
	return fmt.Sprintf("groupkeys: user %q lacks required permission %d", e.UserID, e.Required)
}

// GroupKeyNotFoundError is returned when a specific key version has no
// material on record (e.g. retired past retention).
type GroupKeyNotFoundError struct {
	GroupID string
	Version uint64
}

func (e *GroupKeyNotFoundError) Error() string {
	return fmt.Sprintf("groupkeys: group %q has no key at version %d", e.GroupID, e.Version)
}

// KeyWrappingFailedError reports which members' ML-KEM wrapping failed
// during a rotation attempt. The prior key remains active; the caller
// may retry rotation once the listed members are reachable again.
type KeyWrappingFailedError struct {
	Members []string
}

func (e *KeyWrappingFailedError) Error() string {
	return fmt.Sprintf("groupkeys: key wrapping failed for %d member(s): %v", len(e.Members), e.Members)
}

// KeyUnwrappingFailedError is returned when a member cannot recover the
// group key from its wrapped copy (e.g. wrong KEM private key).
type KeyUnwrappingFailedError struct {
	UserID string
	Reason string
}

func (e *KeyUnwrappingFailedError) Error() string {
	return fmt.Sprintf("groupkeys: key unwrapping failed for user %q: %s", e.UserID, e.Reason)
}

// MaxGroupSizeExceededError is returned when adding a member would push
// a group's membership past its configured cap.
type MaxGroupSizeExceededError struct {
	GroupID string
	Max     int
}

func (e *MaxGroupSizeExceededError) Error() string {
	return fmt.Sprintf("groupkeys: group %q already at max size %d", e.GroupID, e.Max)
}
