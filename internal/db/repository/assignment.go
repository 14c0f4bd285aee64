package repository

import (
	"context"
	"database/sql"
	"time"

	"roleledger/internal/domain"
)

var _ domain.AssignmentRepository = (*AssignmentRepo)(nil)

// AssignmentRepo implements domain.AssignmentRepository using SQLite.
//
// Must be constructed on the write pool: the capacity-safe grant transaction
// relies on the pool's single connection and immediate transaction locking
// to serialize concurrent grant attempts.
type AssignmentRepo struct {
	db *sql.DB
}

// NewAssignmentRepo creates a new AssignmentRepo on the write pool.
func NewAssignmentRepo(db *sql.DB) *AssignmentRepo {
	return &AssignmentRepo{db: db}
}

// Grant runs the capacity-safe grant transaction. Under one write
// transaction it:
//
//  1. reads the parent rule set row (per-account cap, enabled flag),
//  2. reads the rule counters and rejects on capacity,
//  3. counts the account's rows in the rule set and rejects on the
//     per-account cap,
//  4. counts the account's rows in each limit-type exclusivity group
//     containing the rule and rejects on the group cap,
//  5. increments the rule counter and inserts the ledger row, computing
//     expires_at from the rule's lease.
//
// It returns either the new assignment or one specific violation, never a
// generic failure. A duplicate (account, rule) grant returns ConflictError
// without touching the counter.
func (r *AssignmentRepo) Grant(ctx context.Context, req domain.GrantRequest) (*domain.Assignment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var perAccountCap sql.NullInt64
	var enabled int64
	err = tx.QueryRowContext(ctx,
		`SELECT per_account_cap, enabled FROM rule_sets WHERE id = ?`, req.RuleSetID).
		Scan(&perAccountCap, &enabled)
	if err != nil {
		return nil, mapDBError(err)
	}
	if enabled == 0 {
		return nil, domain.ErrValidation("rule set %s is disabled", req.RuleSetID)
	}

	var current int
	var maxAssignments, leaseMinutes sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT current_assignments, max_assignments, lease_minutes FROM rules WHERE id = ?`, req.RuleID).
		Scan(&current, &maxAssignments, &leaseMinutes)
	if err != nil {
		return nil, mapDBError(err)
	}
	if maxAssignments.Valid && int64(current) >= maxAssignments.Int64 {
		return nil, &domain.CapacityViolationError{Kind: domain.ViolationCapacity}
	}

	// One live row per (account, rule): bail before mutating anything.
	var dup int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assignments WHERE account = ? AND rule_id = ?`,
		req.Account, req.RuleID).Scan(&dup)
	if err != nil {
		return nil, err
	}
	if dup > 0 {
		return nil, domain.ErrConflict("account %s already holds rule %s", req.Account, req.RuleID)
	}

	if perAccountCap.Valid {
		var held int64
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM assignments a
			 JOIN rules r ON r.id = a.rule_id
			 WHERE r.rule_set_id = ? AND a.community = ? AND a.account = ?`,
			req.RuleSetID, req.Community, req.Account).Scan(&held)
		if err != nil {
			return nil, err
		}
		if held >= perAccountCap.Int64 {
			return nil, &domain.CapacityViolationError{Kind: domain.ViolationPerAccount}
		}
	}

	groupRows, err := tx.QueryContext(ctx,
		`SELECT g.id, g.name, g.max_roles FROM exclusivity_groups g
		 JOIN exclusivity_group_rules gr ON gr.group_id = g.id
		 WHERE gr.rule_id = ? AND g.grp_type = ?`,
		req.RuleID, domain.GroupLimit)
	if err != nil {
		return nil, err
	}
	type limitGroup struct {
		id       string
		name     string
		maxRoles sql.NullInt64
	}
	var limitGroups []limitGroup
	for groupRows.Next() {
		var g limitGroup
		if err := groupRows.Scan(&g.id, &g.name, &g.maxRoles); err != nil {
			groupRows.Close()
			return nil, err
		}
		limitGroups = append(limitGroups, g)
	}
	if err := groupRows.Err(); err != nil {
		groupRows.Close()
		return nil, err
	}
	groupRows.Close()

	for _, g := range limitGroups {
		if !g.maxRoles.Valid {
			continue
		}
		var held int64
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM assignments a
			 JOIN exclusivity_group_rules gr ON gr.rule_id = a.rule_id
			 WHERE gr.group_id = ? AND a.community = ? AND a.account = ?`,
			g.id, req.Community, req.Account).Scan(&held)
		if err != nil {
			return nil, err
		}
		if held >= g.maxRoles.Int64 {
			return nil, &domain.CapacityViolationError{Kind: domain.ViolationGroupLimit, Group: g.name}
		}
	}

	var expiresAt sql.NullTime
	if leaseMinutes.Valid {
		t := time.Now().UTC().Add(time.Duration(leaseMinutes.Int64) * time.Minute)
		expiresAt = sql.NullTime{Time: t, Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE rules SET current_assignments = current_assignments + 1 WHERE id = ?`,
		req.RuleID); err != nil {
		return nil, err
	}

	a := &domain.Assignment{
		ID:        domain.NewID(),
		Community: req.Community,
		Account:   req.Account,
		RuleID:    req.RuleID,
		ExpiresAt: timePtr(expiresAt),
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO assignments (id, community, account, rule_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Community, a.Account, a.RuleID, expiresAt, a.CreatedAt); err != nil {
		return nil, mapDBError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return a, nil
}

// Compensate rolls back a committed grant after a failed external mutation:
// it deletes the assignment row and decrements the rule counter, but only
// when the row was actually removed.
func (r *AssignmentRepo) Compensate(ctx context.Context, assignmentID, ruleID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE id = ?`, assignmentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE rules SET current_assignments = MAX(current_assignments - 1, 0) WHERE id = ?`,
			ruleID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Remove deletes the (account, rule) ledger row. The counter is decremented
// only when a row was actually deleted, which keeps concurrent revokes of
// the same assignment idempotent.
func (r *AssignmentRepo) Remove(ctx context.Context, community, account, ruleID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM assignments WHERE community = ? AND account = ? AND rule_id = ?`,
		community, account, ruleID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE rules SET current_assignments = MAX(current_assignments - 1, 0) WHERE id = ?`,
			ruleID); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *AssignmentRepo) Get(ctx context.Context, community, account, ruleID string) (*domain.Assignment, error) {
	var a domain.Assignment
	var expires sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, community, account, rule_id, expires_at, created_at
		 FROM assignments WHERE community = ? AND account = ? AND rule_id = ?`,
		community, account, ruleID).
		Scan(&a.ID, &a.Community, &a.Account, &a.RuleID, &expires, &a.CreatedAt)
	if err != nil {
		return nil, mapDBError(err)
	}
	a.ExpiresAt = timePtr(expires)
	return &a, nil
}

func (r *AssignmentRepo) HeldInGroup(ctx context.Context, community, account string, ruleIDs []string) ([]domain.HeldRole, error) {
	if len(ruleIDs) == 0 {
		return nil, nil
	}

	query := `SELECT a.rule_id, r.role_id, a.id
	          FROM assignments a
	          JOIN rules r ON r.id = a.rule_id
	          WHERE a.community = ? AND a.account = ? AND a.rule_id IN (?` // first placeholder
	args := []any{community, account, ruleIDs[0]}
	for _, id := range ruleIDs[1:] {
		query += ", ?"
		args = append(args, id)
	}
	query += ")"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var held []domain.HeldRole
	for rows.Next() {
		var h domain.HeldRole
		if err := rows.Scan(&h.RuleID, &h.RoleID, &h.AssignmentID); err != nil {
			return nil, err
		}
		held = append(held, h)
	}
	return held, rows.Err()
}

func (r *AssignmentRepo) ListExpired(ctx context.Context, now time.Time) ([]domain.ExpiredAssignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.community, a.account, a.rule_id, a.expires_at, a.created_at, r.role_id, r.symbol
		 FROM assignments a
		 JOIN rules r ON r.id = a.rule_id
		 WHERE a.expires_at IS NOT NULL AND a.expires_at <= ?
		 ORDER BY a.expires_at`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []domain.ExpiredAssignment
	for rows.Next() {
		var e domain.ExpiredAssignment
		var expires sql.NullTime
		if err := rows.Scan(&e.ID, &e.Community, &e.Account, &e.RuleID, &expires, &e.CreatedAt, &e.RoleID, &e.Symbol); err != nil {
			return nil, err
		}
		e.ExpiresAt = timePtr(expires)
		expired = append(expired, e)
	}
	return expired, rows.Err()
}

func (r *AssignmentRepo) ListForCommunity(ctx context.Context, community string, page domain.PageRequest) ([]domain.Assignment, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assignments WHERE community = ?`, community).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, community, account, rule_id, expires_at, created_at
		 FROM assignments WHERE community = ? ORDER BY created_at, id LIMIT ? OFFSET ?`,
		community, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var assignments []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		var expires sql.NullTime
		if err := rows.Scan(&a.ID, &a.Community, &a.Account, &a.RuleID, &expires, &a.CreatedAt); err != nil {
			return nil, 0, err
		}
		a.ExpiresAt = timePtr(expires)
		assignments = append(assignments, a)
	}
	return assignments, total, rows.Err()
}
