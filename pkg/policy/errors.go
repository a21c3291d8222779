package policy

import "fmt"

// TransitionNotAllowedError is returned when a requested policy upgrade is
// not present in the transition matrix.
type TransitionNotAllowedError struct {
	From, To Kind
}

func (e *TransitionNotAllowedError) Error() string {
	return fmt.Sprintf("policy: transition from %s to %s is not allowed", e.From, e.To)
}

// MissingParameterError is returned when a scoped policy lacks its
// required scoping parameter (namespace or group).
type MissingParameterError struct {
	Parameter string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("policy: missing required parameter %q", e.Parameter)
}

// ValidationError is returned for any other policy validation failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("policy: validation failed: %s", e.Reason)
}

// RateLimitedError is returned when Validate is throttled by the manager's
// optional per-user rate limiter.
type RateLimitedError struct {
	User string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("policy: user %q rate limited", e.User)
}
