package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/disconnec/FeiSync/internal/apigateway"
	"github.com/disconnec/FeiSync/internal/audit"
	"github.com/disconnec/FeiSync/internal/backend"
	"github.com/disconnec/FeiSync/internal/backend/graphdrive"
	"github.com/disconnec/FeiSync/internal/backend/memdrive"
	"github.com/disconnec/FeiSync/internal/bootcfg"
	"github.com/disconnec/FeiSync/internal/cronsched"
	"github.com/disconnec/FeiSync/internal/events"
	"github.com/disconnec/FeiSync/internal/store"
	"github.com/disconnec/FeiSync/internal/syncrunner"
	"github.com/disconnec/FeiSync/internal/tenant"
	"github.com/disconnec/FeiSync/internal/transfer"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that don't need a running engine
// wired up — only version needs this, since every other command touches
// the document store.
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles everything a command handler needs: the resolved
// bootstrap config, an opened store, and a logger built from the
// log-level precedence chain. Built once in PersistentPreRunE, mirroring
// the teacher's root.go.
type CLIContext struct {
	Boot       *bootcfg.Config
	ConfigPath string
	Store      *store.Store
	Logger     *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure the command " +
			"does not skip config loading (no skipConfigAnnotation)")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "feisync",
		Short:         "Multi-tenant cloud-drive federation and sync engine",
		Long:          "FeiSync federates several cloud-drive accounts behind one API and keeps local folders in sync with them.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "bootstrap config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newTenantCmd())
	cmd.AddCommand(newGroupCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadCLIContext resolves the bootstrap config and opens the document
// store, stashing both (plus a logger) on the command's context.
func loadCLIContext(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	cli := bootcfg.CLIOverrides{ConfigPath: flagConfigPath}
	env := bootcfg.ReadEnvOverrides(logger)

	boot, err := bootcfg.Resolve(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading bootstrap config: %w", err)
	}

	finalLogger := buildLogger(boot)

	st, err := store.Open(boot.DataDir)
	if err != nil {
		return fmt.Errorf("opening store at %s: %w", boot.DataDir, err)
	}

	configPath := bootcfg.ResolveConfigPath(env, cli)

	cc := &CLIContext{Boot: boot, ConfigPath: configPath, Store: st, Logger: finalLogger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger builds an slog.Logger from the log-level precedence chain:
// default → bootstrap file → CLI flag. No environment variable sets the log
// level. cfg is nil during the pre-config bootstrap phase.
func buildLogger(cfg *bootcfg.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// backendRegistry builds the backend.Registry used to resolve a
// store.Tenant's BackendKind to a live backend.DriveBackend: "memdrive"
// for the in-process reference backend (used by tests and demos) and
// "graphdrive" for the retrying HTTP adapter against a Graph-style
// upstream.
func backendRegistry(logger *slog.Logger) *backend.Registry {
	reg := backend.NewRegistry()

	reg.Register("memdrive", func(map[string]string) (backend.DriveBackend, error) {
		return memdrive.New()
	})

	reg.Register("graphdrive", func(creds map[string]string) (backend.DriveBackend, error) {
		platform := creds["platform"]
		ts := graphdrive.NewTokenSource(context.Background(), platform, creds["client_id"], creds["client_secret"], creds["refresh_token"])

		return graphdrive.NewClient(graphdrive.BaseURLFor(platform), nil, ts, logger), nil
	})

	return reg
}

// backendForTenant returns a tenant.BackendFor closure that resolves a
// tenant ID to its live backend via st and the shared backendRegistry.
func backendForTenant(st *store.Store, registry *backend.Registry) tenant.BackendFor {
	return func(ctx context.Context, tenantID string) (backend.DriveBackend, error) {
		var t store.Tenant

		if err := st.Tenants().Read(func(doc *store.TenantsDoc) {
			for _, candidate := range doc.Tenants {
				if candidate.ID == tenantID {
					t = candidate
				}
			}
		}); err != nil {
			return nil, err
		}

		creds := map[string]string{
			"platform":      string(t.Platform),
			"client_id":     t.AppCredentials.ClientID,
			"client_secret": t.AppCredentials.ClientSecret,
			"refresh_token": t.AppCredentials.RefreshToken,
		}

		return registry.Build(t.BackendKind, creds)
	}
}

// engine bundles the components newServeCmd and `task run` both need:
// the tenant registry/router, the event bus, the transfer engine, the
// sync runner, the scheduler, and the audit log.
type engine struct {
	Registry  *tenant.Registry
	Router    *tenant.Router
	Bus       *events.Bus
	Transfer  *transfer.Engine
	Runner    *syncrunner.Runner
	Scheduler *cronsched.Scheduler
	Audit     *audit.Log
	Dirty     *syncrunner.DirtyWatcher
}

// buildEngine wires every long-lived component against one opened store,
// the way newRootCmd's loadCLIContext wires the bootstrap layer.
func buildEngine(cc *CLIContext) (*engine, error) {
	registry := tenant.New(cc.Store, cc.Logger)
	backendFor := backendForTenant(cc.Store, backendRegistry(cc.Logger))
	router := tenant.NewRouter(registry, backendFor)
	bus := events.New(cc.Logger)

	var runtimeCfg store.RuntimeConfig
	if err := cc.Store.Config().Read(func(c *store.RuntimeConfig) { runtimeCfg = *c }); err != nil {
		return nil, fmt.Errorf("reading runtime config: %w", err)
	}

	xferCfg := transfer.Config{
		UploadWorkers:        runtimeCfg.UploadWorkers,
		DownloadWorkers:      runtimeCfg.DownloadWorkers,
		PerTenantParallelism: runtimeCfg.PerTenantParallelism,
	}
	xfer := transfer.New(cc.Store, backendFor, bus, cc.Logger, xferCfg)
	registry.SetTransferCanceller(xfer)

	if err := xfer.Reconcile(context.Background()); err != nil {
		return nil, fmt.Errorf("reconciling transfers: %w", err)
	}

	runner := syncrunner.New(cc.Store, xfer, backendFor, bus, cc.Logger)

	auditDir := runtimeCfg.AuditLogDir
	if auditDir == "" {
		auditDir = cc.Boot.DataDir + "/api_logs"
	}

	auditCap := runtimeCfg.AuditLogCapMB
	if auditCap == 0 {
		auditCap = 100
	}

	auditLog, err := audit.New(auditDir, auditCap)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	sched := cronsched.New(cc.Store, runner, cc.Logger)

	dirty, err := syncrunner.NewDirtyWatcher(cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("starting dirty watcher: %w", err)
	}

	var tasks []store.SyncTask
	if err := cc.Store.Tasks().Read(func(doc *store.TasksDoc) { tasks = append(tasks, doc.Tasks...) }); err != nil {
		return nil, fmt.Errorf("reading tasks: %w", err)
	}

	for _, t := range tasks {
		if !t.Enabled {
			continue
		}

		if err := dirty.Watch(t.LocalPath); err != nil {
			cc.Logger.Warn("watching task local path", slog.String("task_id", t.ID), slog.String("local_path", t.LocalPath), slog.Any("error", err))
		}
	}

	sched.SetDirtyWatcher(dirty)

	return &engine{
		Registry: registry, Router: router, Bus: bus, Transfer: xfer,
		Runner: runner, Scheduler: sched, Audit: auditLog, Dirty: dirty,
	}, nil
}

// gatewayDeps assembles apigateway.Deps from an already-built engine.
func gatewayDeps(cc *CLIContext, e *engine, backendFor tenant.BackendFor) apigateway.Deps {
	return apigateway.Deps{
		Store: cc.Store, Registry: e.Registry, Router: e.Router, Engine: e.Transfer,
		Runner: e.Runner, Scheduler: e.Scheduler, Dirty: e.Dirty, Backends: backendFor, Logger: cc.Logger,
	}
}
