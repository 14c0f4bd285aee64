package service

import (
	"context"

	"roleledger/internal/domain"
)

// LedgerService exposes the read-only ledger queries the dashboard
// collaborator consumes. Backed by the read pool.
type LedgerService struct {
	assignments domain.AssignmentRepository
	tickets     domain.TicketRepository
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(assignments domain.AssignmentRepository, tickets domain.TicketRepository) *LedgerService {
	return &LedgerService{assignments: assignments, tickets: tickets}
}

// ListAssignments returns the community's current assignments, paginated.
func (s *LedgerService) ListAssignments(ctx context.Context, community string, page domain.PageRequest) ([]domain.Assignment, int64, error) {
	if community == "" {
		return nil, 0, domain.ErrValidation("community is required")
	}
	return s.assignments.ListForCommunity(ctx, community, page)
}

// ListTickets returns the community's delayed-grant tickets, paginated.
func (s *LedgerService) ListTickets(ctx context.Context, community string, page domain.PageRequest) ([]domain.DelayedTicket, int64, error) {
	if community == "" {
		return nil, 0, domain.ErrValidation("community is required")
	}
	return s.tickets.ListForCommunity(ctx, community, page)
}

// AuditService provides audit log read access.
type AuditService struct {
	repo domain.AuditRepository
}

// NewAuditService creates a new AuditService.
func NewAuditService(repo domain.AuditRepository) *AuditService {
	return &AuditService{repo: repo}
}

// List returns a filtered, paginated list of audit entries.
func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	if filter.Community == "" {
		return nil, 0, domain.ErrValidation("community is required")
	}
	return s.repo.List(ctx, filter)
}
