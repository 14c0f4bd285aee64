package repository

import (
	"context"
	"database/sql"
	"time"

	"roleledger/internal/domain"
)

var _ domain.TicketRepository = (*TicketRepo)(nil)

// TicketRepo implements domain.TicketRepository using SQLite.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo creates a new TicketRepo.
func NewTicketRepo(db *sql.DB) *TicketRepo {
	return &TicketRepo{db: db}
}

// Enqueue inserts a pending ticket. A second pending ticket for the same
// (account, rule) violates the partial unique index and maps to
// ConflictError.
func (r *TicketRepo) Enqueue(ctx context.Context, t *domain.DelayedTicket) (*domain.DelayedTicket, error) {
	out := *t
	out.ID = domain.NewID()
	out.Status = domain.TicketPending
	out.CreatedAt = time.Now().UTC()
	out.ScheduledFor = t.ScheduledFor.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO delayed_tickets (id, community, account, rule_id, scheduled_for, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Community, out.Account, out.RuleID, out.ScheduledFor, out.Status, out.CreatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	return &out, nil
}

func (r *TicketRepo) ListDue(ctx context.Context, now time.Time) ([]domain.DueTicket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.community, t.account, t.rule_id, t.scheduled_for, t.status, t.detail, t.created_at, r.role_id, r.rule_set_id
		 FROM delayed_tickets t
		 JOIN rules r ON r.id = t.rule_id
		 WHERE t.status = ? AND t.scheduled_for <= ?
		 ORDER BY t.scheduled_for`, domain.TicketPending, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []domain.DueTicket
	for rows.Next() {
		var d domain.DueTicket
		var detail sql.NullString
		if err := rows.Scan(&d.ID, &d.Community, &d.Account, &d.RuleID, &d.ScheduledFor, &d.Status, &detail, &d.CreatedAt, &d.RoleID, &d.RuleSetID); err != nil {
			return nil, err
		}
		d.Detail = strPtr(detail)
		due = append(due, d)
	}
	return due, rows.Err()
}

func (r *TicketRepo) MarkCompleted(ctx context.Context, id string, detail *string) error {
	return r.setStatus(ctx, id, domain.TicketCompleted, nullString(detail))
}

func (r *TicketRepo) MarkFailed(ctx context.Context, id string, detail string) error {
	return r.setStatus(ctx, id, domain.TicketFailed, sql.NullString{String: detail, Valid: true})
}

func (r *TicketRepo) setStatus(ctx context.Context, id, status string, detail sql.NullString) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE delayed_tickets SET status = ?, detail = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		status, detail, time.Now().UTC(), id, domain.TicketPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("pending ticket %s not found", id)
	}
	return nil
}

// PurgeTerminal deletes terminal tickets whose terminal transition happened
// at or before olderThan. Keyed on resolved_at, not created_at, so a ticket
// that sat pending past the retention window still gets its full display
// window after resolving.
func (r *TicketRepo) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM delayed_tickets WHERE status != ? AND resolved_at <= ?`,
		domain.TicketPending, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *TicketRepo) ListForCommunity(ctx context.Context, community string, page domain.PageRequest) ([]domain.DelayedTicket, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delayed_tickets WHERE community = ?`, community).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, community, account, rule_id, scheduled_for, status, detail, resolved_at, created_at
		 FROM delayed_tickets WHERE community = ? ORDER BY created_at, id LIMIT ? OFFSET ?`,
		community, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tickets []domain.DelayedTicket
	for rows.Next() {
		var t domain.DelayedTicket
		var detail sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Community, &t.Account, &t.RuleID, &t.ScheduledFor, &t.Status, &detail, &resolvedAt, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		t.Detail = strPtr(detail)
		t.ResolvedAt = timePtr(resolvedAt)
		tickets = append(tickets, t)
	}
	return tickets, total, rows.Err()
}
