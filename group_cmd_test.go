package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disconnec/FeiSync/internal/store"
	"github.com/disconnec/FeiSync/internal/tenant"
)

func resetGroupFlags() {
	flagGroupName = ""
	flagGroupRemark = ""
	flagGroupTenantIDs = nil
	flagJSON = false
}

func TestRunGroupAdd_GeneratesAPIKey(t *testing.T) {
	ctx := newTestCLIContext(t)
	cc := cliContextFrom(ctx)

	resetGroupFlags()
	t.Cleanup(resetGroupFlags)

	flagGroupName = "ops"

	cmd := newGroupAddCmd()
	cmd.SetContext(ctx)

	require.NoError(t, runGroupAdd(cmd, nil))

	registry := tenant.New(cc.Store, cc.Logger)
	groups, err := registry.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "ops", groups[0].Name)
	assert.NotEmpty(t, groups[0].APIKey)
}

func TestRunGroupAdd_WithTenantScope(t *testing.T) {
	ctx := newTestCLIContext(t)
	cc := cliContextFrom(ctx)
	registry := tenant.New(cc.Store, cc.Logger)

	tn, err := registry.AddTenant(ctx, store.Tenant{DisplayName: "Scoped", BackendKind: "memdrive"})
	require.NoError(t, err)

	resetGroupFlags()
	t.Cleanup(resetGroupFlags)

	flagGroupName = "scoped-group"
	flagGroupTenantIDs = []string{tn.ID}

	cmd := newGroupAddCmd()
	cmd.SetContext(ctx)

	require.NoError(t, runGroupAdd(cmd, nil))

	groups, err := registry.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{tn.ID}, groups[0].TenantIDs)
}

func TestRunGroupRemove_UnknownIDFails(t *testing.T) {
	ctx := newTestCLIContext(t)

	cmd := newGroupRemoveCmd()
	cmd.SetContext(ctx)

	assert.Error(t, runGroupRemove(cmd, []string{"missing"}))
}

func TestRunGroupRotateKey_ChangesKey(t *testing.T) {
	ctx := newTestCLIContext(t)
	cc := cliContextFrom(ctx)
	registry := tenant.New(cc.Store, cc.Logger)

	g, err := registry.AddGroup(ctx, store.Group{Name: "rotate-me"})
	require.NoError(t, err)

	cmd := newGroupRotateKeyCmd()
	cmd.SetContext(ctx)

	require.NoError(t, runGroupRotateKey(cmd, []string{g.ID}))

	updated, err := registry.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.NotEqual(t, g.APIKey, updated.APIKey)
}
