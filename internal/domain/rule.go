package domain

import "time"

// Exclusivity group type constants.
const (
	GroupUnique = "unique" // account may hold at most one role from the group
	GroupLimit  = "limit"  // account may hold at most MaxRoles from the group
)

// RuleSet is the parent configuration a set of Rules belongs to. It carries
// the allow/deny policy and the per-account cap shared by its rules.
type RuleSet struct {
	ID            string
	Community     string
	Message       string // the designated message the trigger symbols live on
	PerAccountCap *int   // max roles a single account may hold from this set
	SelfDestruct  bool   // remove the triggering marker after a successful grant
	Enabled       bool
	CreatedAt     time.Time
}

// Rule maps one trigger symbol to a role, with optional capacity, lease,
// and join delay.
type Rule struct {
	ID                 string
	RuleSetID          string
	Symbol             string
	RoleID             string
	MaxAssignments     *int // nil means unlimited
	CurrentAssignments int
	LeaseMinutes       *int // grants expire after N minutes when set
	JoinDelayMinutes   *int // enqueue a delayed grant N minutes after join when set
	CreatedAt          time.Time
}

// LeaseDuration returns the rule's lease as a duration, or false when the
// rule has no lease.
func (r *Rule) LeaseDuration() (time.Duration, bool) {
	if r.LeaseMinutes == nil {
		return 0, false
	}
	return time.Duration(*r.LeaseMinutes) * time.Minute, true
}

// ExclusivityGroup is a named subset of rules within a rule set constrained
// to be mutually exclusive ("unique") or capped ("limit").
type ExclusivityGroup struct {
	ID        string
	RuleSetID string
	Name      string
	Type      string // GroupUnique or GroupLimit
	MaxRoles  *int   // only meaningful for GroupLimit
	RuleIDs   []string
}

// Policy holds the optional allow-list and deny-list of gating roles for a
// rule set. Empty lists impose no constraint.
type Policy struct {
	AllowRoles []string
	DenyRoles  []string
}
