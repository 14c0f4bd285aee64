package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"roleledger/internal/domain"
)

// Engine is the inbound surface of the role lifecycle engine. Collaborators
// (the gateway client, moderation commands) deliver trigger events here;
// the engine owns every ledger mutation that follows.
type Engine struct {
	rules    domain.RuleRepository
	ledger   domain.AssignmentRepository
	tickets  domain.TicketRepository
	audit    domain.AuditRepository
	platform domain.PlatformClient
	logger   *slog.Logger
}

// NewEngine creates a new Engine.
func NewEngine(
	rules domain.RuleRepository,
	ledger domain.AssignmentRepository,
	tickets domain.TicketRepository,
	audit domain.AuditRepository,
	platform domain.PlatformClient,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		rules:    rules,
		ledger:   ledger,
		tickets:  tickets,
		audit:    audit,
		platform: platform,
		logger:   logger,
	}
}

// GrantResult is the outcome of a successful trigger-add.
type GrantResult struct {
	Assignment *domain.Assignment
	// RemoveTrigger reflects the rule set's self-destruct flag: the caller
	// should remove the visible marker immediately after the grant.
	RemoveTrigger bool
}

// OnTriggerAdded handles an account toggling a trigger symbol on. It runs
// the full grant pipeline: rule resolution → policy gate → unique-group
// pre-clear → capacity-safe grant transaction → external mutation with
// compensation → audit and notification.
//
// A symbol with no rule, a disabled rule set, or a re-trigger of an already
// held rule is a no-op returning (nil, nil). Policy denials and capacity
// violations return typed errors; the caller is expected to undo the
// visible trigger and may notify the account privately.
func (e *Engine) OnTriggerAdded(ctx context.Context, community, message, symbol, account string) (*GrantResult, error) {
	rule, ruleSet, err := e.rules.FindRule(ctx, community, message, symbol)
	if err != nil {
		if errors.As(err, new(*domain.NotFoundError)) {
			return nil, nil
		}
		return nil, err
	}
	if !ruleSet.Enabled {
		return nil, nil
	}

	memberRoles, err := e.platform.MemberRoles(ctx, community, account)
	if err != nil {
		return nil, &domain.ExternalMutationError{Op: "member roles", Err: err}
	}

	policy, err := e.rules.GetPolicy(ctx, ruleSet.ID)
	if err != nil {
		return nil, err
	}
	if err := CheckPolicy(memberRoles, policy); err != nil {
		e.writeAudit(ctx, community, account, &rule.ID, domain.AuditDeny, domain.AuditDenied, err.Error())
		return nil, err
	}

	e.preclearUnique(ctx, community, account, rule)

	assignment, err := e.ledger.Grant(ctx, domain.GrantRequest{
		Community: community,
		Account:   account,
		RuleID:    rule.ID,
		RuleSetID: ruleSet.ID,
	})
	if err != nil {
		if errors.As(err, new(*domain.ConflictError)) {
			// Already held: a duplicate trigger, not an error.
			return nil, nil
		}
		if errors.As(err, new(*domain.CapacityViolationError)) {
			e.writeAudit(ctx, community, account, &rule.ID, domain.AuditDeny, domain.AuditDenied, err.Error())
		}
		return nil, err
	}

	if err := e.platform.AddRole(ctx, community, account, rule.RoleID); err != nil {
		if cerr := e.ledger.Compensate(ctx, assignment.ID, rule.ID); cerr != nil {
			// The compensating delete itself failed; the sweeper will not
			// pick this up, so make the inconsistency loud.
			e.logger.Error("compensation failed after external grant failure",
				"assignment", assignment.ID, "rule", rule.ID, "error", cerr)
		}
		e.writeAudit(ctx, community, account, &rule.ID, domain.AuditCompensate, domain.AuditError, err.Error())
		return nil, &domain.ExternalMutationError{Op: "add role", Err: err}
	}

	e.writeAudit(ctx, community, account, &rule.ID, domain.AuditGrant, domain.AuditOK, "")
	if !ruleSet.SelfDestruct {
		e.notify(ctx, community, account, fmt.Sprintf("You have been given the %s role.", rule.RoleID))
	}

	return &GrantResult{Assignment: assignment, RemoveTrigger: ruleSet.SelfDestruct}, nil
}

// preclearUnique revokes the account's competing roles in every unique-type
// exclusivity group containing the rule. Best-effort and pre-transactional:
// the grant transaction re-verifies every capacity invariant regardless, so
// a failure here can only leave a transiently-held extra role.
func (e *Engine) preclearUnique(ctx context.Context, community, account string, rule *domain.Rule) {
	groups, err := e.rules.GroupsForRule(ctx, rule.ID)
	if err != nil {
		e.logger.Warn("exclusivity lookup failed", "rule", rule.ID, "error", err)
		return
	}

	for _, g := range groups {
		if g.Type != domain.GroupUnique {
			continue
		}
		var others []string
		for _, id := range g.RuleIDs {
			if id != rule.ID {
				others = append(others, id)
			}
		}
		held, err := e.ledger.HeldInGroup(ctx, community, account, others)
		if err != nil {
			e.logger.Warn("exclusivity pre-clear lookup failed", "group", g.Name, "error", err)
			continue
		}
		for _, h := range held {
			if err := e.platform.RemoveRole(ctx, community, account, h.RoleID); err != nil {
				e.logger.Warn("exclusivity revoke failed", "group", g.Name, "role", h.RoleID, "error", err)
				continue
			}
			if _, err := e.ledger.Remove(ctx, community, account, h.RuleID); err != nil {
				e.logger.Warn("exclusivity ledger delete failed", "group", g.Name, "rule", h.RuleID, "error", err)
				continue
			}
			e.writeAudit(ctx, community, account, &h.RuleID, domain.AuditRevoke, domain.AuditOK,
				fmt.Sprintf("replaced by %s in unique group %s", rule.ID, g.Name))
		}
	}
}

// OnTriggerRemoved handles an account toggling a trigger symbol off.
// An unmapped symbol or an assignment the account does not hold is a no-op.
func (e *Engine) OnTriggerRemoved(ctx context.Context, community, message, symbol, account string) error {
	rule, _, err := e.rules.FindRule(ctx, community, message, symbol)
	if err != nil {
		if errors.As(err, new(*domain.NotFoundError)) {
			return nil
		}
		return err
	}
	return e.Revoke(ctx, community, account, rule.ID)
}

// Revoke removes the account's grant for the rule: external revocation
// first, ledger delete second. The rule counter is decremented only when
// the delete actually removed a row, so concurrent revokes of the same
// assignment can never double-decrement. An external failure leaves the
// ledger untouched for the caller to retry.
func (e *Engine) Revoke(ctx context.Context, community, account, ruleID string) error {
	if _, err := e.ledger.Get(ctx, community, account, ruleID); err != nil {
		if errors.As(err, new(*domain.NotFoundError)) {
			return nil
		}
		return err
	}

	rule, err := e.rules.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}

	if err := e.platform.RemoveRole(ctx, community, account, rule.RoleID); err != nil {
		return &domain.ExternalMutationError{Op: "remove role", Err: err}
	}

	deleted, err := e.ledger.Remove(ctx, community, account, ruleID)
	if err != nil {
		return err
	}
	if deleted {
		e.writeAudit(ctx, community, account, &ruleID, domain.AuditRevoke, domain.AuditOK, "")
	}
	return nil
}

// OnAccountJoined enqueues a pending delayed-grant ticket for every enabled
// rule of the community that carries a join delay, skipping rules whose
// rule set's deny policy matches the joining account.
func (e *Engine) OnAccountJoined(ctx context.Context, community, account string) error {
	delayed, err := e.rules.ListDelayedRules(ctx, community)
	if err != nil {
		return err
	}
	if len(delayed) == 0 {
		return nil
	}

	memberRoles, err := e.platform.MemberRoles(ctx, community, account)
	if err != nil {
		return &domain.ExternalMutationError{Op: "member roles", Err: err}
	}

	policies := make(map[string]*domain.Policy)
	now := time.Now().UTC()

	for _, rule := range delayed {
		policy, ok := policies[rule.RuleSetID]
		if !ok {
			policy, err = e.rules.GetPolicy(ctx, rule.RuleSetID)
			if err != nil {
				return err
			}
			policies[rule.RuleSetID] = policy
		}
		if holdsAny(memberRoles, policy.DenyRoles) {
			continue
		}

		delay := time.Duration(*rule.JoinDelayMinutes) * time.Minute
		_, err := e.tickets.Enqueue(ctx, &domain.DelayedTicket{
			Community:    community,
			Account:      account,
			RuleID:       rule.ID,
			ScheduledFor: now.Add(delay),
		})
		if err != nil {
			if errors.As(err, new(*domain.ConflictError)) {
				continue // already queued
			}
			return err
		}
		e.writeAudit(ctx, community, account, &rule.ID, domain.AuditQueue, domain.AuditOK,
			fmt.Sprintf("scheduled for %s", now.Add(delay).Format(time.RFC3339)))
	}
	return nil
}

func (e *Engine) writeAudit(ctx context.Context, community, account string, ruleID *string, action, status, detail string) {
	entry := &domain.AuditEntry{
		Community: community,
		Account:   account,
		RuleID:    ruleID,
		Action:    action,
		Status:    status,
	}
	if detail != "" {
		entry.Detail = &detail
	}
	if err := e.audit.Insert(ctx, entry); err != nil {
		e.logger.Warn("audit insert failed", "action", action, "error", err)
	}
}

func (e *Engine) notify(ctx context.Context, community, account, message string) {
	if err := e.platform.Notify(ctx, community, account, message); err != nil {
		e.logger.Debug("notification failed", "community", community, "account", account, "error", err)
	}
}
