package domain

import (
	"context"
	"time"
)

// RuleRepository provides read access to rule configuration: rule sets,
// rules, exclusivity groups, and allow/deny policies.
type RuleRepository interface {
	GetRuleSet(ctx context.Context, id string) (*RuleSet, error)
	GetRule(ctx context.Context, id string) (*Rule, error)
	// FindRule resolves a trigger (community, message, symbol) to its rule
	// and parent rule set. Returns NotFoundError when no rule matches.
	FindRule(ctx context.Context, community, message, symbol string) (*Rule, *RuleSet, error)
	GetPolicy(ctx context.Context, ruleSetID string) (*Policy, error)
	// GroupsForRule returns every exclusivity group containing the rule,
	// with RuleIDs populated.
	GroupsForRule(ctx context.Context, ruleID string) ([]ExclusivityGroup, error)
	// ListDelayedRules returns the enabled rules of the community that carry
	// a join delay.
	ListDelayedRules(ctx context.Context, community string) ([]Rule, error)
}

// AssignmentRepository owns the ledger of currently-held grants.
type AssignmentRepository interface {
	// Grant runs the capacity-safe grant transaction: under a single write
	// transaction it validates every capacity and per-account constraint,
	// increments the rule counter, and inserts the ledger row. It returns
	// the new assignment or one specific CapacityViolationError; a duplicate
	// (account, rule) grant returns ConflictError and mutates nothing.
	Grant(ctx context.Context, req GrantRequest) (*Assignment, error)
	// Compensate removes the just-inserted assignment after a failed
	// external mutation, decrementing the rule counter only if the row was
	// actually deleted.
	Compensate(ctx context.Context, assignmentID, ruleID string) error
	// Remove deletes the (account, rule) ledger row, decrementing the rule
	// counter only when a row was actually removed. Reports whether a row
	// was deleted so concurrent revokes stay idempotent.
	Remove(ctx context.Context, community, account, ruleID string) (bool, error)
	Get(ctx context.Context, community, account, ruleID string) (*Assignment, error)
	// HeldInGroup returns the assignments the account holds among the given
	// rules, joined with each rule's role.
	HeldInGroup(ctx context.Context, community, account string, ruleIDs []string) ([]HeldRole, error)
	// ListExpired returns assignments whose lease passed before now.
	ListExpired(ctx context.Context, now time.Time) ([]ExpiredAssignment, error)
	ListForCommunity(ctx context.Context, community string, page PageRequest) ([]Assignment, int64, error)
}

// TicketRepository owns the delayed-grant queue.
type TicketRepository interface {
	// Enqueue inserts a pending ticket. A pending ticket already queued for
	// the same (account, rule) returns ConflictError.
	Enqueue(ctx context.Context, t *DelayedTicket) (*DelayedTicket, error)
	// ListDue returns pending tickets scheduled at or before now.
	ListDue(ctx context.Context, now time.Time) ([]DueTicket, error)
	MarkCompleted(ctx context.Context, id string, detail *string) error
	MarkFailed(ctx context.Context, id string, detail string) error
	// PurgeTerminal deletes completed/failed tickets older than the cutoff
	// and reports how many were removed.
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error)
	ListForCommunity(ctx context.Context, community string, page PageRequest) ([]DelayedTicket, int64, error)
}

// AuditRepository appends and lists audit entries.
type AuditRepository interface {
	Insert(ctx context.Context, e *AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, int64, error)
}

// PlatformClient is the outbound port to the external platform that owns
// the real role membership. Calls carry a bounded timeout independent of
// any store transaction; the engine never invokes them while holding a
// database transaction.
type PlatformClient interface {
	AddRole(ctx context.Context, community, account, role string) error
	RemoveRole(ctx context.Context, community, account, role string) error
	// MemberRoles returns the roles the account currently holds.
	MemberRoles(ctx context.Context, community, account string) ([]string, error)
	CommunityExists(ctx context.Context, community string) (bool, error)
	MemberExists(ctx context.Context, community, account string) (bool, error)
	RoleExists(ctx context.Context, community, role string) (bool, error)
	// Notify sends a private message to the account. Best-effort.
	Notify(ctx context.Context, community, account, message string) error
}
