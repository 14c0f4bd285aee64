package domain

import "time"

// Assignment is one ledger row representing a currently-held grant.
// At most one live row exists per (account, rule) pair; a row's existence
// must always correspond to the account actually holding the external role.
type Assignment struct {
	ID        string
	Community string
	Account   string
	RuleID    string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// ExpiredAssignment is an assignment whose lease has passed, joined with the
// role and symbol of its rule so the sweeper can revoke without extra lookups.
type ExpiredAssignment struct {
	Assignment
	RoleID string
	Symbol string
}

// HeldRole is an assignment the account holds inside an exclusivity group,
// joined with the role to revoke.
type HeldRole struct {
	RuleID       string
	RoleID       string
	AssignmentID string
}

// GrantRequest carries the identities the capacity-safe grant transaction
// operates on. Counters, caps, and lease are read inside the transaction.
type GrantRequest struct {
	Community string
	Account   string
	RuleID    string
	RuleSetID string
}
