package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disconnec/FeiSync/internal/store"
	"github.com/disconnec/FeiSync/internal/tenant"
)

func resetTenantFlags() {
	flagTenantDisplayName = ""
	flagTenantBackendKind = "memdrive"
	flagTenantPlatform = "intl"
	flagTenantClientID = ""
	flagTenantSecret = ""
	flagTenantRefresh = ""
	flagTenantReadOnly = false
	flagJSON = false
}

func TestRunTenantAdd_CreatesTenant(t *testing.T) {
	ctx := newTestCLIContext(t)
	cc := cliContextFrom(ctx)

	resetTenantFlags()
	t.Cleanup(resetTenantFlags)

	flagTenantDisplayName = "Alice's Drive"

	cmd := newTenantAddCmd()
	cmd.SetContext(ctx)

	require.NoError(t, runTenantAdd(cmd, nil))

	registry := tenant.New(cc.Store, cc.Logger)
	tenants, err := registry.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "Alice's Drive", tenants[0].DisplayName)
	assert.Equal(t, store.PermissionReadWrite, tenants[0].Permission)
}

func TestRunTenantAdd_ReadOnlyFlag(t *testing.T) {
	ctx := newTestCLIContext(t)
	cc := cliContextFrom(ctx)

	resetTenantFlags()
	t.Cleanup(resetTenantFlags)

	flagTenantDisplayName = "Read Only Drive"
	flagTenantReadOnly = true

	cmd := newTenantAddCmd()
	cmd.SetContext(ctx)

	require.NoError(t, runTenantAdd(cmd, nil))

	registry := tenant.New(cc.Store, cc.Logger)
	tenants, err := registry.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, store.PermissionReadOnly, tenants[0].Permission)
}

func TestRunTenantAdd_DuplicateNameFails(t *testing.T) {
	ctx := newTestCLIContext(t)

	resetTenantFlags()
	t.Cleanup(resetTenantFlags)

	flagTenantDisplayName = "Dup Drive"

	cmd := newTenantAddCmd()
	cmd.SetContext(ctx)

	require.NoError(t, runTenantAdd(cmd, nil))
	assert.Error(t, runTenantAdd(cmd, nil))
}

func TestRunTenantList_EmptyRegistry(t *testing.T) {
	ctx := newTestCLIContext(t)

	cmd := newTenantListCmd()
	cmd.SetContext(ctx)

	assert.NoError(t, runTenantList(cmd, nil))
}

func TestRunTenantRemove_UnknownIDFails(t *testing.T) {
	ctx := newTestCLIContext(t)

	cmd := newTenantRemoveCmd()
	cmd.SetContext(ctx)

	assert.Error(t, runTenantRemove(cmd, []string{"does-not-exist"}))
}

func TestRunTenantOrder_ReordersTenants(t *testing.T) {
	ctx := newTestCLIContext(t)
	cc := cliContextFrom(ctx)
	registry := tenant.New(cc.Store, cc.Logger)

	first, err := registry.AddTenant(ctx, store.Tenant{DisplayName: "First", BackendKind: "memdrive"})
	require.NoError(t, err)

	second, err := registry.AddTenant(ctx, store.Tenant{DisplayName: "Second", BackendKind: "memdrive"})
	require.NoError(t, err)

	cmd := newTenantOrderCmd()
	cmd.SetContext(ctx)

	require.NoError(t, runTenantOrder(cmd, []string{second.ID, first.ID}))

	tenants, err := registry.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 2)
	assert.Equal(t, second.ID, tenants[0].ID)
	assert.Equal(t, first.ID, tenants[1].ID)
}

func TestPrintTable_DoesNotPanicOnDifferingCellWidths(t *testing.T) {
	headers := []string{"ID", "NAME"}
	rows := [][]string{{"1", "short"}, {"2", "a much longer name"}}

	// printTable writes to a *os.File; exercise it against os.Stdout's
	// descriptor indirectly by ensuring it does not panic on cells of
	// differing widths.
	assert.NotPanics(t, func() { printTable(devNull(t), headers, rows) })
}
