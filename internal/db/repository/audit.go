package repository

import (
	"context"
	"database/sql"
	"time"

	"roleledger/internal/domain"
)

var _ domain.AuditRepository = (*AuditRepo)(nil)

// AuditRepo implements domain.AuditRepository using SQLite. The audit log is
// append-only; no update or delete statements exist here.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = domain.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, community, account, rule_id, action, status, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Community, e.Account, nullString(e.RuleID), e.Action, e.Status, nullString(e.Detail), e.CreatedAt)
	return mapDBError(err)
}

func (r *AuditRepo) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, int64, error) {
	where := `WHERE community = ?`
	args := []any{filter.Community}
	if filter.Account != nil {
		where += ` AND account = ?`
		args = append(args, *filter.Account)
	}
	if filter.Action != nil {
		where += ` AND action = ?`
		args = append(args, *filter.Action)
	}
	if filter.Status != nil {
		where += ` AND status = ?`
		args = append(args, *filter.Status)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, community, account, rule_id, action, status, detail, created_at
		 FROM audit_log `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var ruleID, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Community, &e.Account, &ruleID, &e.Action, &e.Status, &detail, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.RuleID = strPtr(ruleID)
		e.Detail = strPtr(detail)
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
