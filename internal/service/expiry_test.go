package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roleledger/internal/domain"
)

// grantLeased grants the rule to the account through the engine. Rules are
// created with a zero-minute lease so the assignment is due immediately.
func grantLeased(t *testing.T, env *testEnv, rs *domain.RuleSet, symbol, account string) {
	t.Helper()
	result, err := env.engine.OnTriggerAdded(context.Background(), rs.Community, rs.Message, symbol, account)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotNil(t, result.Assignment.ExpiresAt)
}

func TestExpirySweeper_RevokesExpiredLeases(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	rs, rule := env.createRuleSet(t, func(_ *domain.RuleSet, rl *domain.Rule) {
		rl.LeaseMinutes = intp(0)
	})
	grantLeased(t, env, rs, "star", "acct-1")
	require.True(t, env.platform.hasRole(rs.Community, "acct-1", "role-1"))

	sweeper := NewExpirySweeper(env.ledger, env.audit, env.platform, discardLogger())
	sweeper.Run(ctx)

	assert.False(t, env.platform.hasRole(rs.Community, "acct-1", "role-1"))
	assert.Equal(t, 0, env.ruleCount(t, rule.ID))

	var notFound *domain.NotFoundError
	_, err := env.ledger.Get(ctx, rs.Community, "acct-1", rule.ID)
	assert.ErrorAs(t, err, &notFound)
	assert.Contains(t, env.auditActions(t, rs.Community), domain.AuditExpire)

	// Expiry notifies the account even after the engine's grant notification.
	assert.Len(t, env.platform.notifications, 2)
}

func TestExpirySweeper_UnexpiredLeaseSurvives(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	rs, rule := env.createRuleSet(t, func(_ *domain.RuleSet, rl *domain.Rule) {
		rl.LeaseMinutes = intp(60)
	})
	grantLeased(t, env, rs, "star", "acct-1")

	NewExpirySweeper(env.ledger, env.audit, env.platform, discardLogger()).Run(ctx)

	assert.True(t, env.platform.hasRole(rs.Community, "acct-1", "role-1"))
	assert.Equal(t, 1, env.ruleCount(t, rule.ID))
}

func TestExpirySweeper_PrunesDriftedRecords(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	rs, rule := env.createRuleSet(t, func(_ *domain.RuleSet, rl *domain.Rule) {
		rl.LeaseMinutes = intp(0)
	})
	grantLeased(t, env, rs, "star", "acct-1")

	// The account left the community; the platform must not be mutated.
	env.platform.goneMembers[memberKey(rs.Community, "acct-1")] = true

	NewExpirySweeper(env.ledger, env.audit, env.platform, discardLogger()).Run(ctx)

	var notFound *domain.NotFoundError
	_, err := env.ledger.Get(ctx, rs.Community, "acct-1", rule.ID)
	assert.ErrorAs(t, err, &notFound)
	assert.Empty(t, env.platform.removeCalls)

	entries, _, err := env.audit.List(ctx, domain.AuditFilter{Community: rs.Community})
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Action == domain.AuditExpire && e.Detail != nil {
			assert.Contains(t, *e.Detail, "no longer exists")
			found = true
		}
	}
	assert.True(t, found, "expected an expire entry recording the drift")
}

func TestExpirySweeper_FailedRevocationRetriesNextTick(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	rs, rule := env.createRuleSet(t, func(_ *domain.RuleSet, rl *domain.Rule) {
		rl.LeaseMinutes = intp(0)
	})
	grantLeased(t, env, rs, "star", "acct-1")

	sweeper := NewExpirySweeper(env.ledger, env.audit, env.platform, discardLogger())

	env.platform.removeErr = errors.New("gateway timeout")
	sweeper.Run(ctx)

	// The record stays in place while the platform is down.
	_, err := env.ledger.Get(ctx, rs.Community, "acct-1", rule.ID)
	require.NoError(t, err)

	env.platform.removeErr = nil
	sweeper.Run(ctx)

	var notFound *domain.NotFoundError
	_, err = env.ledger.Get(ctx, rs.Community, "acct-1", rule.ID)
	assert.ErrorAs(t, err, &notFound)
}

func TestExpirySweeper_OneBadRecordDoesNotBlockOthers(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	rs, _ := env.createRuleSet(t, func(_ *domain.RuleSet, rl *domain.Rule) {
		rl.LeaseMinutes = intp(0)
	})
	second := env.addRule(t, rs.ID, "moon", "role-2", func(rl *domain.Rule) {
		rl.LeaseMinutes = intp(0)
	})
	grantLeased(t, env, rs, "star", "acct-1")
	grantLeased(t, env, rs, "moon", "acct-2")

	// role-1 removal fails; role-2 removal must still get through.
	failing := &selectiveFailPlatform{fakePlatform: env.platform, failRole: "role-1"}
	NewExpirySweeper(env.ledger, env.audit, failing, discardLogger()).Run(ctx)

	// acct-1's record survives for retry; acct-2's was swept.
	_, err := env.ledger.Get(ctx, rs.Community, "acct-1", ruleIDFor(t, env, rs, "star"))
	require.NoError(t, err)

	var notFound *domain.NotFoundError
	_, err = env.ledger.Get(ctx, rs.Community, "acct-2", second.ID)
	assert.ErrorAs(t, err, &notFound)
}

// selectiveFailPlatform fails RemoveRole for a single role and delegates
// everything else.
type selectiveFailPlatform struct {
	*fakePlatform
	failRole string
}

func (p *selectiveFailPlatform) RemoveRole(ctx context.Context, community, account, role string) error {
	if role == p.failRole {
		return errors.New("gateway timeout")
	}
	return p.fakePlatform.RemoveRole(ctx, community, account, role)
}

func ruleIDFor(t *testing.T, env *testEnv, rs *domain.RuleSet, symbol string) string {
	t.Helper()
	rule, _, err := env.rules.FindRule(context.Background(), rs.Community, rs.Message, symbol)
	require.NoError(t, err)
	return rule.ID
}
