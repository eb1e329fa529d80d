// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/extd/internal/config"
	"github.com/holomush/extd/internal/control"
	"github.com/holomush/extd/internal/extension"
	"github.com/holomush/extd/internal/extension/lua"
	"github.com/holomush/extd/internal/journal"
	"github.com/holomush/extd/internal/logging"
	"github.com/holomush/extd/internal/xdg"
	"github.com/holomush/extd/pkg/errutil"
)

const shutdownTimeout = 10 * time.Second

// NewRunCmd creates the run subcommand.
func NewRunCmd(build config.BuildInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the extension host",
		Long: `Discover extension containers, run the lifecycle pipeline and serve
metrics and health until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runWithDeps(cmd.Context(), cfg, build, cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runWithDeps runs the host with injectable dependencies.
// If deps is nil, default implementations are used.
func runWithDeps(ctx context.Context, cfg *config.Config, build config.BuildInfo, cmd *cobra.Command, deps *RunDeps) error {
	if deps == nil {
		deps = &RunDeps{}
	}
	deps.defaults()
	if ctx == nil {
		ctx = context.Background()
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger, err := logging.SetDefault(logging.Options{
		Service: "extd",
		Version: build.Version,
		Format:  cfg.Log.Format,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return oops.Wrapf(err, "set up logging")
	}

	logger.Info("starting extension host",
		"build", build.String(),
		"extensions_dir", cfg.Extensions.Dir,
		"journal_driver", cfg.Journal.Driver)

	if cfg.Journal.Driver == journal.DriverSQLite && cfg.Journal.DSN != ":memory:" {
		if err := xdg.EnsureDir(filepath.Dir(cfg.Journal.DSN)); err != nil {
			return oops.Wrapf(err, "create journal directory")
		}
	}
	jw, err := deps.JournalOpener(ctx, cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return oops.Wrapf(err, "open journal")
	}
	defer func() {
		if err := jw.Close(); err != nil {
			errutil.LogWarn(logger, "failed to close journal", err)
		}
	}()

	factory := lua.NewFactory(lua.NewStateFactory(), logger)
	root := factory.NewRoot()
	defer func() {
		if err := root.Close(); err != nil {
			errutil.LogWarn(logger, "failed to close root context", err)
		}
	}()
	if err := root.RegisterSingleton("build", map[string]any{
		"version": build.Version,
		"commit":  build.Commit,
		"date":    build.Date,
	}); err != nil {
		return oops.Wrapf(err, "register build info")
	}

	mgr := extension.NewManager(cfg.Extensions.Dir, factory,
		extension.WithLogger(logger),
		extension.WithJournal(jw),
		extension.WithRootContext(root))

	runCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	g, gctx := errgroup.WithContext(runCtx)

	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	}

	var metricsAddr string
	if cfg.Metrics.Addr != "" {
		obs := deps.ObservabilityServerFactory(cfg.Metrics.Addr, mgr.Ready, build)
		errCh, err := obs.Start()
		if err != nil {
			return oops.Wrapf(err, "start observability server")
		}
		defer func() {
			sctx, cancel := shutdownCtx()
			defer cancel()
			if err := obs.Stop(sctx); err != nil {
				errutil.LogWarn(logger, "error stopping observability server", err)
			}
		}()
		g.Go(func() error { return watchServer(gctx, errCh, "observability") })
		metricsAddr = obs.Addr()
	}

	var ctl ControlServer
	var controlAddr string
	if cfg.Control.Addr != "" {
		ctl, err = deps.ControlServerFactory(control.ManagerSource(mgr), mgr.Bus())
		if err != nil {
			return oops.Wrapf(err, "create control server")
		}
		errCh, err := ctl.Start(cfg.Control.Addr)
		if err != nil {
			return oops.Wrapf(err, "start control server")
		}
		defer func() {
			sctx, cancel := shutdownCtx()
			defer cancel()
			if err := ctl.Stop(sctx); err != nil {
				errutil.LogWarn(logger, "error stopping control server", err)
			}
		}()
		g.Go(func() error { return watchServer(gctx, errCh, "control") })
		controlAddr = ctl.Addr()
	}

	if err := mgr.Start(runCtx); err != nil {
		return oops.Wrapf(err, "start extension manager")
	}
	if ctl != nil {
		ctl.Sync()
	}

	running := 0
	for _, ext := range mgr.Extensions() {
		if ext.Phase() == extension.PhaseRunning {
			running++
		}
	}
	cmd.Println("extd started")
	logger.Info("extension host ready",
		"extensions", len(mgr.Extensions()),
		"running", running,
		"metrics_addr", metricsAddr,
		"control_addr", controlAddr)
	if deps.OnReady != nil {
		deps.OnReady(metricsAddr, controlAddr)
	}

	<-gctx.Done()
	if runCtx.Err() != nil {
		logger.Info("shutting down")
	} else {
		logger.Warn("shutting down after server failure")
	}

	sctx, cancel := shutdownCtx()
	defer cancel()
	mgr.Stop(sctx)
	if ctl != nil {
		ctl.Sync()
	}

	stopSignals()
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// watchServer returns the server's exit error, or nil once ctx is done or
// the server stops cleanly.
func watchServer(ctx context.Context, errCh <-chan error, name string) error {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return oops.With("server", name).Wrapf(err, "%s server failed", name)
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}
