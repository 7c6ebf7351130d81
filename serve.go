package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/disconnec/FeiSync/internal/apigateway"
	"github.com/disconnec/FeiSync/internal/bootcfg"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and HTTP gateway in the foreground",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger.With(slog.String("component", "serve"))

	e, err := buildEngine(cc)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer func() { _ = e.Dirty.Close() }()

	if err := e.Scheduler.RecomputeAll(cmd.Context()); err != nil {
		return fmt.Errorf("recomputing task schedules: %w", err)
	}

	backendFor := backendForTenant(cc.Store, backendRegistry(cc.Logger))
	gw := apigateway.New(cc.Store, e.Registry, e.Bus, e.Audit, logger)
	apigateway.RegisterCommands(gw, gatewayDeps(cc, e, backendFor))

	srv := &http.Server{
		Addr:    cc.Boot.ListenAddr,
		Handler: gw.Router(cc.Boot.RequestTimeout),
	}

	ctx := shutdownContext(cmd.Context(), logger)

	holder := bootcfg.NewHolder(cc.Boot, cc.ConfigPath)
	go watchConfigReload(ctx, holder, logger)

	go e.Scheduler.Run(ctx)

	serveErr := make(chan error, 1)

	go func() {
		logger.Info("listening", slog.String("addr", cc.Boot.ListenAddr))

		if cc.Boot.TLSCertFile != "" && cc.Boot.TLSKeyFile != "" {
			serveErr <- srv.ListenAndServeTLS(cc.Boot.TLSCertFile, cc.Boot.TLSKeyFile)
			return
		}

		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down gateway: %w", err)
		}

		e.Transfer.Wait()
	}

	return nil
}

// watchConfigReload reloads the bootstrap config file into holder on every
// SIGHUP and logs the reload. Nothing else reads holder, so the reloaded
// values do not change the running listener, request timeout or logger.
// Mirrors the teacher's config.Holder reload hook.
func watchConfigReload(ctx context.Context, holder *bootcfg.Holder, logger *slog.Logger) {
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hupCh:
			cfg, err := bootcfg.Load(holder.Path(), logger)
			if err != nil {
				logger.Error("reloading bootstrap config", slog.String("error", err.Error()))
				continue
			}

			holder.Update(cfg)
			logger.Info("bootstrap config reloaded", slog.String("path", holder.Path()))
		}
	}
}

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second, giving the engine a chance to drain
// in-flight transfers before the process dies.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit", slog.String("signal", sig.String()))
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
