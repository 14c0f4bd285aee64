package domain

import "time"

// Audit action constants. Every state transition the engine performs writes
// exactly one entry.
const (
	AuditGrant      = "grant"
	AuditRevoke     = "revoke"
	AuditExpire     = "expire"
	AuditQueue      = "queue"
	AuditApply      = "apply"
	AuditCompensate = "compensate"
	AuditDeny       = "deny"
)

// Audit status constants.
const (
	AuditOK     = "ok"
	AuditDenied = "denied"
	AuditError  = "error"
)

// AuditEntry is an append-only record of one engine state transition.
// Entries are never mutated or deleted by normal operation.
type AuditEntry struct {
	ID        string
	Community string
	Account   string
	RuleID    *string
	Action    string
	Status    string
	Detail    *string
	CreatedAt time.Time
}

// AuditFilter narrows an audit listing. Nil fields impose no constraint.
type AuditFilter struct {
	Community string
	Account   *string
	Action    *string
	Status    *string
	Page      PageRequest
}
