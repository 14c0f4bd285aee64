package domain

import "time"

// Delayed ticket status constants.
const (
	TicketPending   = "pending"
	TicketCompleted = "completed"
	TicketFailed    = "failed"
)

// DelayedTicket is a scheduled, not-yet-applied grant created at join time.
type DelayedTicket struct {
	ID           string
	Community    string
	Account      string
	RuleID       string
	ScheduledFor time.Time
	Status       string
	Detail       *string    // failure reason or drift note, set on terminal transitions
	ResolvedAt   *time.Time // when the ticket turned terminal; retention is keyed on this
	CreatedAt    time.Time
}

// DueTicket is a pending ticket whose scheduled time has passed, joined with
// the role and rule set of its rule.
type DueTicket struct {
	DelayedTicket
	RoleID    string
	RuleSetID string
}
