package records

import (
	"fmt"
	"time"
)

// SizeExceededError is returned when a record's canonical encoding exceeds
// its fixed cap.
type SizeExceededError struct {
	Size, Cap int
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("records: size %d exceeds cap %d", e.Size, e.Cap)
}

// ExpiredError is returned when a record's age exceeds its TTL.
type ExpiredError struct {
	Age, TTL time.Duration
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("records: expired: age %s exceeds ttl %s", e.Age, e.TTL)
}

// InvalidSignatureError is returned when a record's signature is malformed
// or does not verify.
type InvalidSignatureError struct {
	Reason string
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("records: invalid signature: %s", e.Reason)
}
