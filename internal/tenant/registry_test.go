package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disconnec/FeiSync/internal/ferr"
	"github.com/disconnec/FeiSync/internal/store"
	"github.com/disconnec/FeiSync/testutil"
)

func TestAddTenant_AssignsIDAndOrder(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewStore(t), nil)
	ctx := context.Background()

	t1, err := r.AddTenant(ctx, store.Tenant{DisplayName: "first"})
	require.NoError(t, err)
	assert.NotEmpty(t, t1.ID)
	assert.Equal(t, 0, t1.Order)

	t2, err := r.AddTenant(ctx, store.Tenant{DisplayName: "second"})
	require.NoError(t, err)
	assert.Equal(t, 1, t2.Order)
}

func TestAddTenant_RejectsDuplicateName(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewStore(t), nil)
	ctx := context.Background()

	_, err := r.AddTenant(ctx, store.Tenant{DisplayName: "dup"})
	require.NoError(t, err)

	_, err = r.AddTenant(ctx, store.Tenant{DisplayName: "dup"})
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.ErrDuplicateName))
}

func TestRemoveTenant_ScrubsGroupMembership(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewStore(t), nil)
	ctx := context.Background()

	tn, err := r.AddTenant(ctx, store.Tenant{DisplayName: "solo"})
	require.NoError(t, err)

	grp, err := r.AddGroup(ctx, store.Group{Name: "g1", TenantIDs: []string{tn.ID}})
	require.NoError(t, err)

	require.NoError(t, r.RemoveTenant(ctx, tn.ID))

	updated, err := r.GetGroup(ctx, grp.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.TenantIDs)
}

func TestRemoveTenant_NotFound(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewStore(t), nil)

	err := r.RemoveTenant(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.ErrNotFound))
}

func TestReorderTenants_RequiresEveryTenantNamedOnce(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewStore(t), nil)
	ctx := context.Background()

	a, err := r.AddTenant(ctx, store.Tenant{DisplayName: "a"})
	require.NoError(t, err)

	_, err = r.AddTenant(ctx, store.Tenant{DisplayName: "b"})
	require.NoError(t, err)

	err = r.ReorderTenants(ctx, []string{a.ID})
	require.Error(t, err)
}

func TestReorderTenants_AppliesNewOrder(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewStore(t), nil)
	ctx := context.Background()

	a, err := r.AddTenant(ctx, store.Tenant{DisplayName: "a"})
	require.NoError(t, err)

	b, err := r.AddTenant(ctx, store.Tenant{DisplayName: "b"})
	require.NoError(t, err)

	require.NoError(t, r.ReorderTenants(ctx, []string{b.ID, a.ID}))

	list, err := r.ListTenants(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)
}

func TestGroupByAPIKey_ResolvesGroup(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewStore(t), nil)
	ctx := context.Background()

	grp, err := r.AddGroup(ctx, store.Group{Name: "g1"})
	require.NoError(t, err)

	found, err := r.GroupByAPIKey(ctx, grp.APIKey)
	require.NoError(t, err)
	assert.Equal(t, grp.ID, found.ID)
}

func TestGroupByAPIKey_UnknownKey(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewStore(t), nil)

	_, err := r.GroupByAPIKey(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, ferr.Is(err, ferr.ErrAuthInvalid))
}

func TestRotateGroupKey_ChangesKey(t *testing.T) {
	t.Parallel()

	r := New(testutil.NewStore(t), nil)
	ctx := context.Background()

	grp, err := r.AddGroup(ctx, store.Group{Name: "g1"})
	require.NoError(t, err)

	newKey, err := r.RotateGroupKey(ctx, grp.ID)
	require.NoError(t, err)
	assert.NotEqual(t, grp.APIKey, newKey)

	_, err = r.GroupByAPIKey(ctx, grp.APIKey)
	assert.Error(t, err)

	found, err := r.GroupByAPIKey(ctx, newKey)
	require.NoError(t, err)
	assert.Equal(t, grp.ID, found.ID)
}
