package repository

import (
	"context"
	"database/sql"

	"roleledger/internal/domain"
)

var _ domain.RuleRepository = (*RuleRepo)(nil)

// RuleRepo implements domain.RuleRepository using SQLite.
type RuleRepo struct {
	db *sql.DB
}

// NewRuleRepo creates a new RuleRepo.
func NewRuleRepo(db *sql.DB) *RuleRepo {
	return &RuleRepo{db: db}
}

// CreateRuleSet inserts a rule set. Configuration normally arrives through
// the admin surface; this is the storage primitive it (and tests) use.
func (r *RuleRepo) CreateRuleSet(ctx context.Context, rs *domain.RuleSet) (*domain.RuleSet, error) {
	id := domain.NewID()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rule_sets (id, community, message, per_account_cap, self_destruct, enabled)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, rs.Community, rs.Message, nullInt(rs.PerAccountCap), boolToInt(rs.SelfDestruct), boolToInt(rs.Enabled))
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetRuleSet(ctx, id)
}

// CreateRule inserts a rule into an existing rule set.
func (r *RuleRepo) CreateRule(ctx context.Context, rl *domain.Rule) (*domain.Rule, error) {
	id := domain.NewID()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rules (id, rule_set_id, symbol, role_id, max_assignments, lease_minutes, join_delay_minutes)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, rl.RuleSetID, rl.Symbol, rl.RoleID, nullInt(rl.MaxAssignments), nullInt(rl.LeaseMinutes), nullInt(rl.JoinDelayMinutes))
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetRule(ctx, id)
}

// CreateGroup inserts an exclusivity group and its rule memberships.
func (r *RuleRepo) CreateGroup(ctx context.Context, g *domain.ExclusivityGroup) (*domain.ExclusivityGroup, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	id := domain.NewID()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO exclusivity_groups (id, rule_set_id, name, grp_type, max_roles) VALUES (?, ?, ?, ?, ?)`,
		id, g.RuleSetID, g.Name, g.Type, nullInt(g.MaxRoles)); err != nil {
		return nil, mapDBError(err)
	}
	for _, ruleID := range g.RuleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO exclusivity_group_rules (group_id, rule_id) VALUES (?, ?)`, id, ruleID); err != nil {
			return nil, mapDBError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	out := *g
	out.ID = id
	return &out, nil
}

// SetPolicy replaces the allow/deny role lists of a rule set.
func (r *RuleRepo) SetPolicy(ctx context.Context, ruleSetID string, p *domain.Policy) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM allow_policy_roles WHERE rule_set_id = ?`, ruleSetID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM deny_policy_roles WHERE rule_set_id = ?`, ruleSetID); err != nil {
		return err
	}
	for _, role := range p.AllowRoles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO allow_policy_roles (rule_set_id, role_id) VALUES (?, ?)`, ruleSetID, role); err != nil {
			return mapDBError(err)
		}
	}
	for _, role := range p.DenyRoles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deny_policy_roles (rule_set_id, role_id) VALUES (?, ?)`, ruleSetID, role); err != nil {
			return mapDBError(err)
		}
	}
	return tx.Commit()
}

const ruleSetColumns = `id, community, message, per_account_cap, self_destruct, enabled, created_at`

func scanRuleSet(row *sql.Row) (*domain.RuleSet, error) {
	var rs domain.RuleSet
	var accountCap sql.NullInt64
	var selfDestruct, enabled int64
	if err := row.Scan(&rs.ID, &rs.Community, &rs.Message, &accountCap, &selfDestruct, &enabled, &rs.CreatedAt); err != nil {
		return nil, mapDBError(err)
	}
	rs.PerAccountCap = intPtr(accountCap)
	rs.SelfDestruct = selfDestruct != 0
	rs.Enabled = enabled != 0
	return &rs, nil
}

func (r *RuleRepo) GetRuleSet(ctx context.Context, id string) (*domain.RuleSet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ruleSetColumns+` FROM rule_sets WHERE id = ?`, id)
	return scanRuleSet(row)
}

const ruleColumns = `id, rule_set_id, symbol, role_id, max_assignments, current_assignments, lease_minutes, join_delay_minutes, created_at`

func scanRule(scan func(dest ...any) error) (*domain.Rule, error) {
	var rl domain.Rule
	var maxA, lease, delay sql.NullInt64
	if err := scan(&rl.ID, &rl.RuleSetID, &rl.Symbol, &rl.RoleID, &maxA, &rl.CurrentAssignments, &lease, &delay, &rl.CreatedAt); err != nil {
		return nil, mapDBError(err)
	}
	rl.MaxAssignments = intPtr(maxA)
	rl.LeaseMinutes = intPtr(lease)
	rl.JoinDelayMinutes = intPtr(delay)
	return &rl, nil
}

func (r *RuleRepo) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	return scanRule(row.Scan)
}

func (r *RuleRepo) FindRule(ctx context.Context, community, message, symbol string) (*domain.Rule, *domain.RuleSet, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT r.id, r.rule_set_id, r.symbol, r.role_id, r.max_assignments, r.current_assignments,
		        r.lease_minutes, r.join_delay_minutes, r.created_at
		 FROM rules r
		 JOIN rule_sets rs ON rs.id = r.rule_set_id
		 WHERE rs.community = ? AND rs.message = ? AND r.symbol = ?`,
		community, message, symbol)
	rl, err := scanRule(row.Scan)
	if err != nil {
		return nil, nil, err
	}
	rs, err := r.GetRuleSet(ctx, rl.RuleSetID)
	if err != nil {
		return nil, nil, err
	}
	return rl, rs, nil
}

func (r *RuleRepo) GetPolicy(ctx context.Context, ruleSetID string) (*domain.Policy, error) {
	p := &domain.Policy{}

	rows, err := r.db.QueryContext(ctx,
		`SELECT role_id FROM allow_policy_roles WHERE rule_set_id = ?`, ruleSetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		p.AllowRoles = append(p.AllowRoles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	denyRows, err := r.db.QueryContext(ctx,
		`SELECT role_id FROM deny_policy_roles WHERE rule_set_id = ?`, ruleSetID)
	if err != nil {
		return nil, err
	}
	defer denyRows.Close()
	for denyRows.Next() {
		var role string
		if err := denyRows.Scan(&role); err != nil {
			return nil, err
		}
		p.DenyRoles = append(p.DenyRoles, role)
	}
	return p, denyRows.Err()
}

func (r *RuleRepo) GroupsForRule(ctx context.Context, ruleID string) ([]domain.ExclusivityGroup, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT g.id, g.rule_set_id, g.name, g.grp_type, g.max_roles
		 FROM exclusivity_groups g
		 JOIN exclusivity_group_rules gr ON gr.group_id = g.id
		 WHERE gr.rule_id = ?`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []domain.ExclusivityGroup
	for rows.Next() {
		var g domain.ExclusivityGroup
		var maxRoles sql.NullInt64
		if err := rows.Scan(&g.ID, &g.RuleSetID, &g.Name, &g.Type, &maxRoles); err != nil {
			return nil, err
		}
		g.MaxRoles = intPtr(maxRoles)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		memberRows, err := r.db.QueryContext(ctx,
			`SELECT rule_id FROM exclusivity_group_rules WHERE group_id = ?`, groups[i].ID)
		if err != nil {
			return nil, err
		}
		for memberRows.Next() {
			var id string
			if err := memberRows.Scan(&id); err != nil {
				memberRows.Close()
				return nil, err
			}
			groups[i].RuleIDs = append(groups[i].RuleIDs, id)
		}
		if err := memberRows.Err(); err != nil {
			memberRows.Close()
			return nil, err
		}
		memberRows.Close()
	}

	return groups, nil
}

func (r *RuleRepo) ListDelayedRules(ctx context.Context, community string) ([]domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT r.id, r.rule_set_id, r.symbol, r.role_id, r.max_assignments, r.current_assignments,
		        r.lease_minutes, r.join_delay_minutes, r.created_at
		 FROM rules r
		 JOIN rule_sets rs ON rs.id = r.rule_set_id
		 WHERE rs.community = ? AND rs.enabled = 1 AND r.join_delay_minutes IS NOT NULL
		 ORDER BY r.created_at`, community)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		rl, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rl)
	}
	return rules, rows.Err()
}
