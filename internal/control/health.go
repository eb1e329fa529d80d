// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package control serves the gRPC health protocol for the extension host.
//
// The overall service ("") is SERVING once the host finished its startup
// batch. Every known extension is a named service, SERVING while RUNNING and
// NOT_SERVING in any other phase. Extensions that were removed report
// SERVICE_UNKNOWN.
package control

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/holomush/extd/internal/event"
	"github.com/holomush/extd/internal/extension"
)

// Error codes.
const (
	CodeAlreadyRunning = "CONTROL_ALREADY_RUNNING"
	CodeListen         = "CONTROL_LISTEN_FAILED"
)

// Source reports host readiness and the serving state of every extension,
// keyed by identifier.
type Source interface {
	Ready() bool
	Serving() map[string]bool
}

type managerSource struct {
	m *extension.Manager
}

// ManagerSource adapts an extension manager to a Source.
func ManagerSource(m *extension.Manager) Source {
	return managerSource{m: m}
}

func (s managerSource) Ready() bool { return s.m.Ready() }

func (s managerSource) Serving() map[string]bool {
	exts := s.m.Extensions()
	out := make(map[string]bool, len(exts))
	for _, ext := range exts {
		out[ext.Manifest().Identifier] = ext.Phase() == extension.PhaseRunning
	}
	return out
}

// HealthServer runs the gRPC health service.
type HealthServer struct {
	source   Source
	logger   *slog.Logger
	health   *health.Server
	unsub    func()
	mu       sync.Mutex
	known    map[string]struct{}
	listener net.Listener
	grpc     *grpc.Server
	running  atomic.Bool
}

// NewHealthServer creates a health server over source. When bus is non-nil
// the server re-syncs after every post event. A nil logger uses slog.Default.
func NewHealthServer(source Source, bus *event.Bus, logger *slog.Logger) (*HealthServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HealthServer{
		source: source,
		logger: logger,
		health: health.NewServer(),
		known:  make(map[string]struct{}),
	}
	if bus != nil {
		unsub, err := bus.Subscribe(event.Filter{Stage: event.StagePost}, func(context.Context, *event.Event) {
			s.Sync()
		})
		if err != nil {
			return nil, oops.Wrapf(err, "subscribe to lifecycle events")
		}
		s.unsub = unsub
	}
	s.Sync()
	return s, nil
}

// Sync copies the current readiness and extension phases into the health service.
func (s *HealthServer) Sync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.health.SetServingStatus("", status(s.source.Ready()))

	current := s.source.Serving()
	for name, serving := range current {
		s.health.SetServingStatus(name, status(serving))
		s.known[name] = struct{}{}
	}
	for name := range s.known {
		if _, ok := current[name]; !ok {
			s.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
			delete(s.known, name)
		}
	}
}

func status(serving bool) healthpb.HealthCheckResponse_ServingStatus {
	if serving {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Start begins listening on addr without transport security.
// It returns an error channel that receives the server's exit error (or nil
// on graceful stop) exactly once.
func (s *HealthServer) Start(addr string) (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code(CodeAlreadyRunning).Errorf("control server is already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code(CodeListen).With("addr", addr).Wrap(err)
	}
	s.listener = listener

	s.grpc = grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthpb.RegisterHealthServer(s.grpc, s.health)

	srv := s.grpc
	errCh := make(chan error, 1)
	go func() {
		err := srv.Serve(listener)
		if err != nil {
			s.logger.Error("control gRPC server error", "error", err)
		}
		errCh <- err
	}()

	s.logger.Info("control server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop marks every service NOT_SERVING, detaches from the bus and
// gracefully stops the gRPC server.
func (s *HealthServer) Stop(_ context.Context) error {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.health.Shutdown()
	if s.running.CompareAndSwap(true, false) && s.grpc != nil {
		s.grpc.GracefulStop()
		s.logger.Info("control server stopped")
	}
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not started.
func (s *HealthServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
