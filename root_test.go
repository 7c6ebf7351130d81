package main

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/disconnec/FeiSync/internal/bootcfg"
)

// --- buildLogger tests ---

func TestBuildLogger_Default(t *testing.T) {
	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
}

func TestBuildLogger_ConfigDebug(t *testing.T) {
	cfg := &bootcfg.Config{LogLevel: "debug"}

	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_VerboseOverridesConfig(t *testing.T) {
	cfg := &bootcfg.Config{LogLevel: "error"}
	flagVerbose = true

	t.Cleanup(func() { flagVerbose = false })

	logger := buildLogger(cfg)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_QuietOverridesConfig(t *testing.T) {
	flagQuiet = true
	t.Cleanup(func() { flagQuiet = false })

	logger := buildLogger(nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

// --- cliContextFrom / mustCLIContext tests ---

func TestCliContextFrom_NilContext(t *testing.T) {
	cc := cliContextFrom(context.Background())
	assert.Nil(t, cc)
}

func TestCliContextFrom_WithCLIContext(t *testing.T) {
	expected := &CLIContext{Boot: &bootcfg.Config{DataDir: "/test"}, Logger: slog.New(slog.NewTextHandler(os.Stderr, nil))}
	ctx := context.WithValue(context.Background(), cliContextKey{}, expected)

	cc := cliContextFrom(ctx)
	assert.Equal(t, expected, cc)
	assert.Equal(t, "/test", cc.Boot.DataDir)
}

func TestMustCLIContext_Panics(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}

func TestMustCLIContext_Returns(t *testing.T) {
	expected := &CLIContext{Boot: &bootcfg.Config{DataDir: "/must-test"}}
	ctx := context.WithValue(context.Background(), cliContextKey{}, expected)

	cc := mustCLIContext(ctx)
	assert.Equal(t, expected, cc)
}

// --- cobra structure tests ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{"serve", "admin", "tenant", "group", "task", "version"}
	for _, name := range expected {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		assert.True(t, found, "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "json", "verbose", "debug", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected persistent flag %q not found", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	pairs := [][]string{
		{"--verbose", "--debug"},
		{"--verbose", "--quiet"},
		{"--debug", "--quiet"},
	}

	for _, flags := range pairs {
		t.Run(flags[0]+"_"+flags[1], func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(append(flags, "version"))

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "none of the others can be")
		})
	}
}

func TestNewRootCmd_VersionSkipsConfig(t *testing.T) {
	cmd := newRootCmd()

	sub, _, err := cmd.Find([]string{"version"})
	require.NoError(t, err)

	sub.SetContext(context.Background())

	err = cmd.PersistentPreRunE(sub, nil)
	assert.NoError(t, err)
	assert.Nil(t, cliContextFrom(sub.Context()))
}

func TestNewRootCmd_TenantSubcommands(t *testing.T) {
	cmd := newRootCmd()

	tenantSub, _, err := cmd.Find([]string{"tenant"})
	require.NoError(t, err)

	expectedSubs := []string{"add", "list", "remove", "order"}
	for _, name := range expectedSubs {
		found := false

		for _, sub := range tenantSub.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		assert.True(t, found, "expected tenant subcommand %q not found", name)
	}
}

func TestNewRootCmd_LoadsCLIContextForRealCommands(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("FEISYNC_DATA_DIR", dataDir)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", dataDir + "/missing.toml", "tenant", "list"})

	_ = cmd.Execute()

	sub, _, err := cmd.Find([]string{"tenant", "list"})
	require.NoError(t, err)

	cc := cliContextFrom(sub.Context())
	require.NotNil(t, cc)
	assert.NotNil(t, cc.Store)
	assert.NotNil(t, cc.Logger)
}
