package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	internaldb "roleledger/internal/db"
	"roleledger/internal/db/repository"
	"roleledger/internal/domain"
)

// fakePlatform is an in-memory PlatformClient. Role membership is tracked so
// tests can assert the external state the engine produced; error fields and
// "gone" sets inject failures and drift.
type fakePlatform struct {
	mu    sync.Mutex
	roles map[string]map[string]bool // community/account -> role set

	addErr         error
	removeErr      error
	memberRolesErr error

	goneCommunities map[string]bool
	goneMembers     map[string]bool
	goneRoles       map[string]bool

	notifications []string
	removeCalls   []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		roles:           make(map[string]map[string]bool),
		goneCommunities: make(map[string]bool),
		goneMembers:     make(map[string]bool),
		goneRoles:       make(map[string]bool),
	}
}

func memberKey(community, account string) string { return community + "/" + account }

func (f *fakePlatform) setRoles(community, account string, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	f.roles[memberKey(community, account)] = set
}

func (f *fakePlatform) hasRole(community, account, role string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[memberKey(community, account)][role]
}

func (f *fakePlatform) AddRole(_ context.Context, community, account, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	key := memberKey(community, account)
	if f.roles[key] == nil {
		f.roles[key] = make(map[string]bool)
	}
	f.roles[key][role] = true
	return nil
}

func (f *fakePlatform) RemoveRole(_ context.Context, community, account, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls = append(f.removeCalls, role)
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.roles[memberKey(community, account)], role)
	return nil
}

func (f *fakePlatform) MemberRoles(_ context.Context, community, account string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memberRolesErr != nil {
		return nil, f.memberRolesErr
	}
	var out []string
	for role := range f.roles[memberKey(community, account)] {
		out = append(out, role)
	}
	return out, nil
}

func (f *fakePlatform) CommunityExists(_ context.Context, community string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.goneCommunities[community], nil
}

func (f *fakePlatform) MemberExists(_ context.Context, community, account string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.goneMembers[memberKey(community, account)], nil
}

func (f *fakePlatform) RoleExists(_ context.Context, community, role string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.goneRoles[role], nil
}

func (f *fakePlatform) Notify(_ context.Context, community, account, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, memberKey(community, account)+": "+message)
	return nil
}

var _ domain.PlatformClient = (*fakePlatform)(nil)

// testEnv bundles the engine with its real SQLite-backed repositories and
// the fake platform.
type testEnv struct {
	engine   *Engine
	rules    *repository.RuleRepo
	ledger   *repository.AssignmentRepo
	tickets  *repository.TicketRepo
	audit    *repository.AuditRepo
	platform *fakePlatform
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)

	env := &testEnv{
		rules:    repository.NewRuleRepo(writeDB),
		ledger:   repository.NewAssignmentRepo(writeDB),
		tickets:  repository.NewTicketRepo(writeDB),
		audit:    repository.NewAuditRepo(writeDB),
		platform: newFakePlatform(),
	}
	env.engine = NewEngine(env.rules, env.ledger, env.tickets, env.audit, env.platform, discardLogger())
	return env
}

func intp(v int) *int { return &v }

// createRuleSet creates a rule set with one "star" → role-1 rule.
func (env *testEnv) createRuleSet(t *testing.T, mutate func(rs *domain.RuleSet, rl *domain.Rule)) (*domain.RuleSet, *domain.Rule) {
	t.Helper()
	ctx := context.Background()

	rs := &domain.RuleSet{Community: "c-1", Message: "msg-" + domain.NewID(), Enabled: true}
	rl := &domain.Rule{Symbol: "star", RoleID: "role-1"}
	if mutate != nil {
		mutate(rs, rl)
	}

	created, err := env.rules.CreateRuleSet(ctx, rs)
	require.NoError(t, err)
	rl.RuleSetID = created.ID
	rule, err := env.rules.CreateRule(ctx, rl)
	require.NoError(t, err)
	return created, rule
}

func (env *testEnv) addRule(t *testing.T, ruleSetID, symbol, role string, mutate func(rl *domain.Rule)) *domain.Rule {
	t.Helper()
	rl := &domain.Rule{RuleSetID: ruleSetID, Symbol: symbol, RoleID: role}
	if mutate != nil {
		mutate(rl)
	}
	rule, err := env.rules.CreateRule(context.Background(), rl)
	require.NoError(t, err)
	return rule
}

func (env *testEnv) ruleCount(t *testing.T, ruleID string) int {
	t.Helper()
	rule, err := env.rules.GetRule(context.Background(), ruleID)
	require.NoError(t, err)
	return rule.CurrentAssignments
}

func (env *testEnv) auditActions(t *testing.T, community string) []string {
	t.Helper()
	entries, _, err := env.audit.List(context.Background(), domain.AuditFilter{Community: community})
	require.NoError(t, err)
	actions := make([]string, len(entries))
	for i, e := range entries {
		actions[i] = e.Action
	}
	return actions
}
