package repository

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "roleledger/internal/db"
	"roleledger/internal/domain"
)

func TestAuditRepo_InsertAndList(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	audit := NewAuditRepo(writeDB)
	ctx := context.Background()

	ruleID := "rule-1"
	entries := []*domain.AuditEntry{
		{Community: "c-1", Account: "alice", RuleID: &ruleID, Action: domain.AuditGrant, Status: domain.AuditOK},
		{Community: "c-1", Account: "alice", RuleID: &ruleID, Action: domain.AuditRevoke, Status: domain.AuditOK},
		{Community: "c-1", Account: "bob", Action: domain.AuditDeny, Status: domain.AuditDenied},
		{Community: "c-2", Account: "carol", Action: domain.AuditGrant, Status: domain.AuditOK},
	}
	for _, e := range entries {
		require.NoError(t, audit.Insert(ctx, e))
		assert.NotEmpty(t, e.ID)
	}

	listed, total, err := audit.List(ctx, domain.AuditFilter{Community: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, listed, 3)

	account := "alice"
	listed, total, err = audit.List(ctx, domain.AuditFilter{Community: "c-1", Account: &account})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	action := domain.AuditDeny
	status := domain.AuditDenied
	listed, total, err = audit.List(ctx, domain.AuditFilter{Community: "c-1", Action: &action, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, listed, 1)
	assert.Equal(t, "bob", listed[0].Account)
	assert.Nil(t, listed[0].RuleID)
}

func TestAuditRepo_Pagination(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	audit := NewAuditRepo(writeDB)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, audit.Insert(ctx, &domain.AuditEntry{
			Community: "c-1", Account: "alice", Action: domain.AuditGrant, Status: domain.AuditOK,
		}))
	}

	page := domain.PageRequest{MaxResults: 2}
	listed, total, err := audit.List(ctx, domain.AuditFilter{Community: "c-1", Page: page})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, listed, 2)

	next := domain.NextPageToken(page.Offset(), page.Limit(), total)
	require.NotEmpty(t, next)
	page = domain.PageRequest{MaxResults: 2, PageToken: next}
	listed, _, err = audit.List(ctx, domain.AuditFilter{Community: "c-1", Page: page})
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}
