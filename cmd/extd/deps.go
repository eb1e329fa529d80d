// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/holomush/extd/internal/config"
	"github.com/holomush/extd/internal/control"
	"github.com/holomush/extd/internal/event"
	"github.com/holomush/extd/internal/extension"
	"github.com/holomush/extd/internal/journal"
	"github.com/holomush/extd/internal/observability"
)

// RunDeps contains injectable dependencies for the run command.
// All fields with nil values will use their default implementations.
type RunDeps struct {
	// JournalOpener opens the lifecycle journal.
	// Default: journal.Open
	JournalOpener func(ctx context.Context, driver, dsn string) (journal.Writer, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer with the extension metrics
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, build config.BuildInfo) ObservabilityServer

	// ControlServerFactory creates the gRPC health server.
	// Default: control.NewHealthServer
	ControlServerFactory func(source control.Source, bus *event.Bus) (ControlServer, error)

	// OnReady is called once the startup batch finished and both servers
	// listen. Addresses are empty for disabled servers.
	OnReady func(metricsAddr, controlAddr string)
}

// ObservabilityServer is the subset of observability.Server used by run.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ControlServer is the subset of control.HealthServer used by run.
type ControlServer interface {
	Start(addr string) (<-chan error, error)
	Stop(ctx context.Context) error
	Sync()
	Addr() string
}

func (d *RunDeps) defaults() {
	if d.JournalOpener == nil {
		d.JournalOpener = journal.Open
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, build config.BuildInfo) ObservabilityServer {
			srv := observability.NewServer(addr, ready, build)
			extension.RegisterMetrics(srv.Registerer())
			return srv
		}
	}
	if d.ControlServerFactory == nil {
		d.ControlServerFactory = func(source control.Source, bus *event.Bus) (ControlServer, error) {
			return control.NewHealthServer(source, bus, nil)
		}
	}
}
