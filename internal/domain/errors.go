// Package domain defines core types, interfaces, and errors for the role
// lifecycle engine.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// DenyReason identifies which side of the allow/deny policy rejected a grant.
type DenyReason string

const (
	DenyNotWhitelisted DenyReason = "not_whitelisted"
	DenyBlacklisted    DenyReason = "blacklisted"
)

// PolicyDeniedError indicates the acting account failed the rule set's
// allow/deny policy. User-correctable; surfaced privately by the caller.
type PolicyDeniedError struct {
	Reason DenyReason
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("policy denied: %s", e.Reason)
}

// ViolationKind identifies which capacity constraint a grant attempt hit.
type ViolationKind string

const (
	ViolationCapacity   ViolationKind = "capacity_exceeded"
	ViolationPerAccount ViolationKind = "per_account_limit_exceeded"
	ViolationGroupLimit ViolationKind = "group_limit_exceeded"
)

// CapacityViolationError indicates the grant transaction aborted on a
// capacity, per-account, or group limit. Group is set only for
// ViolationGroupLimit.
type CapacityViolationError struct {
	Kind  ViolationKind
	Group string
}

func (e *CapacityViolationError) Error() string {
	if e.Group != "" {
		return fmt.Sprintf("capacity violation: %s (group %q)", e.Kind, e.Group)
	}
	return fmt.Sprintf("capacity violation: %s", e.Kind)
}

// ExternalMutationError indicates a platform call failed. When it follows a
// committed grant transaction it triggers the compensator.
type ExternalMutationError struct {
	Op  string
	Err error
}

func (e *ExternalMutationError) Error() string {
	return fmt.Sprintf("platform %s failed: %v", e.Op, e.Err)
}

func (e *ExternalMutationError) Unwrap() error { return e.Err }

// DriftKind identifies which referenced external entity no longer exists.
type DriftKind string

const (
	DriftCommunity DriftKind = "community"
	DriftAccount   DriftKind = "account"
	DriftRole      DriftKind = "role"
)

// DriftError indicates the ledger referenced an external entity that has
// vanished. Self-healed by pruning; logged, never surfaced to end users.
type DriftError struct {
	Kind DriftKind
	ID   string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("drift detected: %s %s no longer exists", e.Kind, e.ID)
}
