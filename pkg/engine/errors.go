package engine

import "fmt"

// NotFoundError is returned when a content id has no live item on record.
type NotFoundError struct {
	ContentID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("engine: content %q not found", e.ContentID)
}

// NotOwnerError is returned when a caller attempts to delete or
// transition an object they do not own.
type NotOwnerError struct {
	ContentID string
	User      string
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("engine: user %q does not own content %q", e.User, e.ContentID)
}
