package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"roleledger/internal/domain"
)

// ExpirySweeper revokes assignments whose lease has passed. Each run is one
// tick of the control loop: per-record failures are logged and skipped so a
// single bad record never blocks the rest of the sweep, and a failed
// revocation leaves its record in place to be retried on the next tick.
type ExpirySweeper struct {
	ledger   domain.AssignmentRepository
	audit    domain.AuditRepository
	platform domain.PlatformClient
	logger   *slog.Logger
}

// NewExpirySweeper creates a new ExpirySweeper.
func NewExpirySweeper(
	ledger domain.AssignmentRepository,
	audit domain.AuditRepository,
	platform domain.PlatformClient,
	logger *slog.Logger,
) *ExpirySweeper {
	return &ExpirySweeper{ledger: ledger, audit: audit, platform: platform, logger: logger}
}

// Run performs one sweep over all expired assignments.
func (s *ExpirySweeper) Run(ctx context.Context) {
	expired, err := s.ledger.ListExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("expiry listing failed", "error", err)
		return
	}

	for _, record := range expired {
		if err := s.sweepOne(ctx, record); err != nil {
			s.logger.Warn("expiry sweep item failed",
				"assignment", record.ID, "account", record.Account, "error", err)
		}
	}
}

func (s *ExpirySweeper) sweepOne(ctx context.Context, record domain.ExpiredAssignment) error {
	drift, err := s.checkDrift(ctx, record)
	if err != nil {
		return err
	}
	if drift != nil {
		// The platform no longer knows this community/account/role; the
		// stale ledger row is pruned and the loop moves on.
		if _, err := s.ledger.Remove(ctx, record.Community, record.Account, record.RuleID); err != nil {
			return err
		}
		s.writeAudit(ctx, record, domain.AuditOK, drift.Error())
		s.logger.Info("pruned stale assignment", "assignment", record.ID, "drift", drift.Kind)
		return nil
	}

	if err := s.platform.RemoveRole(ctx, record.Community, record.Account, record.RoleID); err != nil {
		// Record stays for the next tick: bounded eventual consistency.
		return &domain.ExternalMutationError{Op: "remove role", Err: err}
	}

	if _, err := s.ledger.Remove(ctx, record.Community, record.Account, record.RuleID); err != nil {
		return err
	}

	s.writeAudit(ctx, record, domain.AuditOK, "")
	if err := s.platform.Notify(ctx, record.Community, record.Account,
		fmt.Sprintf("Your %s role has expired.", record.RoleID)); err != nil {
		s.logger.Debug("expiry notification failed", "account", record.Account, "error", err)
	}
	return nil
}

// checkDrift reports which referenced external entity has vanished, if any.
func (s *ExpirySweeper) checkDrift(ctx context.Context, record domain.ExpiredAssignment) (*domain.DriftError, error) {
	ok, err := s.platform.CommunityExists(ctx, record.Community)
	if err != nil {
		return nil, &domain.ExternalMutationError{Op: "community lookup", Err: err}
	}
	if !ok {
		return &domain.DriftError{Kind: domain.DriftCommunity, ID: record.Community}, nil
	}

	ok, err = s.platform.MemberExists(ctx, record.Community, record.Account)
	if err != nil {
		return nil, &domain.ExternalMutationError{Op: "member lookup", Err: err}
	}
	if !ok {
		return &domain.DriftError{Kind: domain.DriftAccount, ID: record.Account}, nil
	}

	ok, err = s.platform.RoleExists(ctx, record.Community, record.RoleID)
	if err != nil {
		return nil, &domain.ExternalMutationError{Op: "role lookup", Err: err}
	}
	if !ok {
		return &domain.DriftError{Kind: domain.DriftRole, ID: record.RoleID}, nil
	}

	return nil, nil
}

func (s *ExpirySweeper) writeAudit(ctx context.Context, record domain.ExpiredAssignment, status, detail string) {
	entry := &domain.AuditEntry{
		Community: record.Community,
		Account:   record.Account,
		RuleID:    &record.RuleID,
		Action:    domain.AuditExpire,
		Status:    status,
	}
	if detail != "" {
		entry.Detail = &detail
	}
	if err := s.audit.Insert(ctx, entry); err != nil {
		s.logger.Warn("audit insert failed", "action", domain.AuditExpire, "error", err)
	}
}
