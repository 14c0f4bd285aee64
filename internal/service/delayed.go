package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"roleledger/internal/domain"
)

// DelayedGrantSweeper applies due delayed-grant tickets and purges terminal
// ones past their retention window. The sweep re-validates every external
// reference before granting: a vanished community, account, or role marks
// the ticket completed without a grant; an unexpected platform failure
// marks it failed. Applied grants go through the same capacity-safe ledger
// transaction as trigger grants and are compensated the same way, so they
// count against capacity and expire with their rule's lease.
type DelayedGrantSweeper struct {
	tickets   domain.TicketRepository
	ledger    domain.AssignmentRepository
	audit     domain.AuditRepository
	platform  domain.PlatformClient
	retention time.Duration
	logger    *slog.Logger
}

// NewDelayedGrantSweeper creates a new DelayedGrantSweeper. retention bounds
// how long terminal tickets are kept for dashboard display.
func NewDelayedGrantSweeper(
	tickets domain.TicketRepository,
	ledger domain.AssignmentRepository,
	audit domain.AuditRepository,
	platform domain.PlatformClient,
	retention time.Duration,
	logger *slog.Logger,
) *DelayedGrantSweeper {
	return &DelayedGrantSweeper{
		tickets:   tickets,
		ledger:    ledger,
		audit:     audit,
		platform:  platform,
		retention: retention,
		logger:    logger,
	}
}

// Run performs one sweep: apply all due tickets, then purge terminal
// tickets older than the retention window.
func (s *DelayedGrantSweeper) Run(ctx context.Context) {
	due, err := s.tickets.ListDue(ctx, time.Now())
	if err != nil {
		s.logger.Error("due ticket listing failed", "error", err)
		return
	}

	for _, ticket := range due {
		if err := s.applyOne(ctx, ticket); err != nil {
			s.logger.Warn("delayed grant failed",
				"ticket", ticket.ID, "account", ticket.Account, "error", err)
		}
	}

	purged, err := s.tickets.PurgeTerminal(ctx, time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Error("ticket purge failed", "error", err)
		return
	}
	if purged > 0 {
		s.logger.Info("purged terminal tickets", "count", purged)
	}
}

func (s *DelayedGrantSweeper) applyOne(ctx context.Context, ticket domain.DueTicket) error {
	drift, err := s.checkDrift(ctx, ticket)
	if err != nil {
		// Transient platform failure: leave the ticket pending for the
		// next sweep rather than guessing at drift.
		return err
	}
	if drift != nil {
		detail := drift.Error()
		if err := s.tickets.MarkCompleted(ctx, ticket.ID, &detail); err != nil {
			return err
		}
		s.logger.Info("completed drifted ticket", "ticket", ticket.ID, "drift", drift.Kind)
		return nil
	}

	memberRoles, err := s.platform.MemberRoles(ctx, ticket.Community, ticket.Account)
	if err != nil {
		return &domain.ExternalMutationError{Op: "member roles", Err: err}
	}
	for _, role := range memberRoles {
		if role == ticket.RoleID {
			detail := "role already held"
			return s.tickets.MarkCompleted(ctx, ticket.ID, &detail)
		}
	}

	assignment, err := s.ledger.Grant(ctx, domain.GrantRequest{
		Community: ticket.Community,
		Account:   ticket.Account,
		RuleID:    ticket.RuleID,
		RuleSetID: ticket.RuleSetID,
	})
	if err != nil {
		// A filled capacity, a disabled rule set, or an assignment that
		// appeared during the delay all resolve the ticket without a grant.
		// Anything else is transient and leaves the ticket pending.
		if isTerminalGrantRefusal(err) {
			detail := err.Error()
			return s.tickets.MarkCompleted(ctx, ticket.ID, &detail)
		}
		return err
	}

	if err := s.platform.AddRole(ctx, ticket.Community, ticket.Account, ticket.RoleID); err != nil {
		if cerr := s.ledger.Compensate(ctx, assignment.ID, ticket.RuleID); cerr != nil {
			s.logger.Error("compensation failed after external grant failure",
				"assignment", assignment.ID, "rule", ticket.RuleID, "error", cerr)
		}
		if markErr := s.tickets.MarkFailed(ctx, ticket.ID, err.Error()); markErr != nil {
			s.logger.Warn("mark failed failed", "ticket", ticket.ID, "error", markErr)
		}
		s.writeAudit(ctx, ticket, domain.AuditError, err.Error())
		return &domain.ExternalMutationError{Op: "add role", Err: err}
	}

	if err := s.tickets.MarkCompleted(ctx, ticket.ID, nil); err != nil {
		return err
	}
	s.writeAudit(ctx, ticket, domain.AuditOK, "")
	if err := s.platform.Notify(ctx, ticket.Community, ticket.Account,
		fmt.Sprintf("You have been given the %s role.", ticket.RoleID)); err != nil {
		s.logger.Debug("delayed grant notification failed", "account", ticket.Account, "error", err)
	}
	return nil
}

// isTerminalGrantRefusal reports whether the grant transaction refused for a
// reason that cannot resolve itself by retrying.
func isTerminalGrantRefusal(err error) bool {
	return errors.As(err, new(*domain.CapacityViolationError)) ||
		errors.As(err, new(*domain.ConflictError)) ||
		errors.As(err, new(*domain.ValidationError))
}

func (s *DelayedGrantSweeper) checkDrift(ctx context.Context, ticket domain.DueTicket) (*domain.DriftError, error) {
	ok, err := s.platform.CommunityExists(ctx, ticket.Community)
	if err != nil {
		return nil, &domain.ExternalMutationError{Op: "community lookup", Err: err}
	}
	if !ok {
		return &domain.DriftError{Kind: domain.DriftCommunity, ID: ticket.Community}, nil
	}

	ok, err = s.platform.MemberExists(ctx, ticket.Community, ticket.Account)
	if err != nil {
		return nil, &domain.ExternalMutationError{Op: "member lookup", Err: err}
	}
	if !ok {
		return &domain.DriftError{Kind: domain.DriftAccount, ID: ticket.Account}, nil
	}

	ok, err = s.platform.RoleExists(ctx, ticket.Community, ticket.RoleID)
	if err != nil {
		return nil, &domain.ExternalMutationError{Op: "role lookup", Err: err}
	}
	if !ok {
		return &domain.DriftError{Kind: domain.DriftRole, ID: ticket.RoleID}, nil
	}

	return nil, nil
}

func (s *DelayedGrantSweeper) writeAudit(ctx context.Context, ticket domain.DueTicket, status, detail string) {
	entry := &domain.AuditEntry{
		Community: ticket.Community,
		Account:   ticket.Account,
		RuleID:    &ticket.RuleID,
		Action:    domain.AuditApply,
		Status:    status,
	}
	if detail != "" {
		entry.Detail = &detail
	}
	if err := s.audit.Insert(ctx, entry); err != nil {
		s.logger.Warn("audit insert failed", "action", domain.AuditApply, "error", err)
	}
}
