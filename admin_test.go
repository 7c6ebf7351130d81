package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disconnec/FeiSync/internal/store"
)

func TestRunAdminShowKey_GeneratesOnFirstCall(t *testing.T) {
	ctx := newTestCLIContext(t)
	cc := cliContextFrom(ctx)

	cmd := newAdminShowKeyCmd()
	cmd.SetContext(ctx)

	require.NoError(t, cmd.RunE(cmd, nil))

	var cfg store.RuntimeConfig
	require.NoError(t, cc.Store.Config().Read(func(c *store.RuntimeConfig) { cfg = *c }))
	assert.NotEmpty(t, cfg.AdminAPIKey)
}

func TestRunAdminShowKey_StableAcrossCalls(t *testing.T) {
	ctx := newTestCLIContext(t)

	cmd := newAdminShowKeyCmd()
	cmd.SetContext(ctx)

	require.NoError(t, cmd.RunE(cmd, nil))

	cc := cliContextFrom(ctx)

	var first store.RuntimeConfig
	require.NoError(t, cc.Store.Config().Read(func(c *store.RuntimeConfig) { first = *c }))

	require.NoError(t, cmd.RunE(cmd, nil))

	var second store.RuntimeConfig
	require.NoError(t, cc.Store.Config().Read(func(c *store.RuntimeConfig) { second = *c }))

	assert.Equal(t, first.AdminAPIKey, second.AdminAPIKey)
}
